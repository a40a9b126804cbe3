package api

import "taskboard/domain"

const dataBodyMaxSize = 64 * 1024 // 64 KiB

// IdempotencyHeader carries the client-generated key of a create request.
const IdempotencyHeader = "Idempotency-Key"

// Error kinds for configuration failures.
const (
	kindNotConfigured = "not_configured"
	kindNotReady      = "not_ready"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// InitialData is the GET /initial-data response body.
type InitialData struct {
	ClientData *domain.Assignee `json:"clientData"`
	AppConfig  PublicAppConfig  `json:"appConfig"`
	DBType     domain.Backend   `json:"dbType"`
}

// PublicAppConfig is the part of the configuration the board may see.
type PublicAppConfig struct {
	Controls           domain.Controls `json:"controls"`
	DefaultChannelType string          `json:"defaultChannelType,omitempty"`
}

type appsResponse struct {
	Apps []string `json:"apps"`
}

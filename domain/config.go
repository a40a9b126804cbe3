package domain

import (
	"fmt"
	"strings"
)

// Backend names the system of record configured for an app.
type Backend string

const (
	BackendAirtable    Backend = "airtable"
	BackendGoogleSheet Backend = "google_sheet"
)

// Controls are the end-user affordances an administrator can turn on.
type Controls struct {
	AllowAddingItems        bool `json:"allowAddingItems"`
	AllowUpdatingStatus     bool `json:"allowUpdatingStatus"`
	AllowingUpdatingDetails bool `json:"allowingUpdatingDetails"`
}

// AppConfig is the per-app-instance setup saved by an administrator.
type AppConfig struct {
	ID                 string   `json:"id"`
	AirtableAPIKey     string   `json:"airtableApiKey,omitempty"`
	GoogleSheetID      string   `json:"googleSheetId,omitempty"`
	BaseID             string   `json:"baseId,omitempty"`
	TableID            string   `json:"tableId,omitempty"`
	ViewID             string   `json:"viewId,omitempty"`
	SheetTitle         string   `json:"sheetTitle,omitempty"`
	CopilotAPIKey      string   `json:"copilotApiKey,omitempty"`
	DefaultChannelType string   `json:"defaultChannelType,omitempty"`
	Controls           Controls `json:"controls"`
}

// Backend selects Google Sheets when a sheet id is present.
func (c AppConfig) Backend() Backend {
	if strings.TrimSpace(c.GoogleSheetID) != "" {
		return BackendGoogleSheet
	}
	return BackendAirtable
}

// Ready returns a *ConfigError naming the first missing setting.
func (c AppConfig) Ready() error {
	switch c.Backend() {
	case BackendGoogleSheet:
		return nil
	default:
		if strings.TrimSpace(c.AirtableAPIKey) == "" {
			return &ConfigError{AppID: c.ID, Field: "airtableApiKey"}
		}
		if strings.TrimSpace(c.BaseID) == "" {
			return &ConfigError{AppID: c.ID, Field: "baseId"}
		}
		if strings.TrimSpace(c.TableID) == "" {
			return &ConfigError{AppID: c.ID, Field: "tableId"}
		}
	}
	return nil
}

// Redacted returns a copy safe to send back to the setup UI.
func (c AppConfig) Redacted() AppConfig {
	c.AirtableAPIKey = mask(c.AirtableAPIKey)
	c.CopilotAPIKey = mask(c.CopilotAPIKey)
	return c
}

func mask(secret string) string {
	if len(secret) <= 4 {
		if secret == "" {
			return ""
		}
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// ConfigError reports an absent or incomplete app configuration.
type ConfigError struct {
	AppID string
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("app %q is not configured", e.AppID)
	}
	return fmt.Sprintf("app %q is not ready: missing %s", e.AppID, e.Field)
}

package api

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

// ConfigStore abstracts configuration persistence for handlers.
type ConfigStore interface {
	GetConfig(ctx context.Context, appID string) (*domain.AppConfig, error)
	PutConfig(ctx context.Context, appID string, cfg domain.AppConfig) error
	GetUserApps(ctx context.Context, userID string) ([]string, error)
	PutUserApps(ctx context.Context, userID string, appIDs []string) error
}

// RepositoryProvider returns the task repository for an app configuration.
type RepositoryProvider interface {
	Repository(cfg domain.AppConfig) (storage.TaskRepository, error)
}

// IdentityProvider resolves the assignee a board belongs to.
type IdentityProvider interface {
	GetClientOrCompany(ctx context.Context, apiKey, clientID, companyID string) (*domain.Assignee, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate writes.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when the backend write fails.
	Remove(ctx context.Context, scope, key string) error
}

// Services bundles the collaborators the routes depend on. Deduper and
// DeadLetters are optional.
type Services struct {
	Configs     ConfigStore
	Repos       RepositoryProvider
	Identity    IdentityProvider
	Auth        Authenticator
	Deduper     Deduper
	DeadLetters *Dispatcher
	Logger      *log.Logger
}

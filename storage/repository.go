package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"taskboard/domain"
)

// MaxRecords caps a single fetch.
const MaxRecords = 150

// TaskRepository is the uniform interface over the task backends.
type TaskRepository interface {
	FetchTasks(ctx context.Context, assigneeID string) ([]domain.RawRecord, error)
	CreateTask(ctx context.Context, fields domain.Fields) (domain.RawRecord, error)
	PatchTask(ctx context.Context, id string, fields domain.Fields) (domain.RawRecord, error)
}

// Options tune repository construction. Zero values select the public endpoints.
type Options struct {
	HTTPClient      *http.Client
	AirtableBaseURL string
	SheetsBaseURL   string

	// SheetsTokenSource overrides the service-account credentials below.
	SheetsTokenSource oauth2.TokenSource
	SheetsClientEmail string
	SheetsPrivateKey  string
	SheetsTokenURL    string
	RequestTimeout    time.Duration
}

// NewRepository selects the backend implementation for cfg once.
func NewRepository(cfg domain.AppConfig, opts Options) (TaskRepository, error) {
	if err := cfg.Ready(); err != nil {
		return nil, err
	}
	switch cfg.Backend() {
	case domain.BackendGoogleSheet:
		return NewSheetsRepository(cfg, opts)
	case domain.BackendAirtable:
		return NewAirtableRepository(cfg, opts), nil
	}
	return nil, fmt.Errorf("unsupported backend %q", cfg.Backend())
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// ErrorKind classifies repository failures.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindAuth        ErrorKind = "auth"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindBackend     ErrorKind = "backend"
	KindUnavailable ErrorKind = "unavailable"
)

// ErrRecordNotFound is wrapped by not_found repository errors.
var ErrRecordNotFound = errors.New("record not found")

// RepositoryError is returned by every TaskRepository failure.
type RepositoryError struct {
	Backend    domain.Backend
	Op         string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *RepositoryError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Backend, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// IsKind reports whether err is a RepositoryError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var repoErr *RepositoryError
	return errors.As(err, &repoErr) && repoErr.Kind == kind
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindBackend
	}
}

func networkError(backend domain.Backend, op string, err error) *RepositoryError {
	return &RepositoryError{Backend: backend, Op: op, Kind: KindNetwork, Err: err}
}

func statusError(backend domain.Backend, op string, code int, body []byte) *RepositoryError {
	kind := kindForStatus(code)
	var err error
	if kind == KindNotFound {
		err = ErrRecordNotFound
	} else if len(body) > 0 {
		if len(body) > 256 {
			body = body[:256]
		}
		err = errors.New(string(body))
	}
	return &RepositoryError{Backend: backend, Op: op, Kind: kind, StatusCode: code, Err: err}
}

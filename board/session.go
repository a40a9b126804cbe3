package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// SessionConfig configures one board page load.
type SessionConfig struct {
	Client    *Client
	ClientID  string
	CompanyID string
	// Interval overrides the backend default.
	Interval  time.Duration
	NewTicker func(time.Duration) Ticker
	Logger    *log.Logger
}

// Session bundles the store, controller and scheduler of one board.
type Session struct {
	Initial    InitialData
	Store      *Store
	Controller *Controller
	Scheduler  *Scheduler
}

// NewSession loads the initial data and the first task list.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Client == nil {
		return nil, errors.New("board: session requires a client")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	initial, err := cfg.Client.InitialData(ctx, cfg.ClientID, cfg.CompanyID)
	if err != nil {
		if isConfigKind(err) {
			return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		return nil, fmt.Errorf("load initial data: %w", err)
	}
	if initial.ClientData == nil {
		return nil, errors.New("board: initial data has no assignee")
	}
	logger := cfg.Logger

	store := NewStore(StoreOptions{
		Repository: NewHTTPRepository(cfg.Client),
		Assignee:   *initial.ClientData,
		Controls:   initial.AppConfig.Controls,
		Logger:     logger,
	})
	s := &Session{
		Initial:    initial,
		Store:      store,
		Controller: NewController(store, logger),
		Scheduler: NewScheduler(store, SchedulerConfig{
			Backend:   initial.DBType,
			Interval:  cfg.Interval,
			NewTicker: cfg.NewTicker,
			Logger:    logger,
		}),
	}
	if _, err := store.Refresh(ctx); err != nil {
		if isConfigKind(err) {
			return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		return nil, fmt.Errorf("initial load: %w", err)
	}
	logger.WithFields(log.Fields{"app": cfg.Client.AppID(), "assignee": initial.ClientData.ID, "backend": initial.DBType}).Info("board session started")
	return s, nil
}

// isConfigKind reports whether the server rejected the request because the
// app is absent or incomplete.
func isConfigKind(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	return he.Kind == "not_configured" || he.Kind == "not_ready"
}

// Run polls until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	err := s.Scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close waits for background writes.
func (s *Session) Close() {
	s.Store.Wait()
}

package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ErrNotReady is returned when polling is requested for an incomplete app
// configuration.
var ErrNotReady = errors.New("board: app configuration is not ready")

const (
	AirtableInterval    = 3 * time.Second
	GoogleSheetInterval = 10 * time.Second
)

// DefaultInterval returns the polling interval for a backend.
func DefaultInterval(b domain.Backend) time.Duration {
	if b == domain.BackendGoogleSheet {
		return GoogleSheetInterval
	}
	return AirtableInterval
}

// Ticker is the part of time.Ticker the scheduler uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Backend domain.Backend
	// Interval overrides DefaultInterval(Backend).
	Interval time.Duration
	// Config, when set, must be Ready before Run polls.
	Config *domain.AppConfig
	// NewTicker replaces time.NewTicker in tests.
	NewTicker func(time.Duration) Ticker
	Logger    *log.Logger
}

// Scheduler polls the backend at a fixed interval.
type Scheduler struct {
	store     *Store
	interval  time.Duration
	config    *domain.AppConfig
	newTicker func(time.Duration) Ticker
	log       *log.Logger
}

// NewScheduler returns a scheduler refreshing store.
func NewScheduler(store *Store, cfg SchedulerConfig) *Scheduler {
	if cfg.Config != nil && cfg.Backend == "" {
		cfg.Backend = cfg.Config.Backend()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval(cfg.Backend)
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = newRealTicker
	}
	if cfg.Logger == nil {
		cfg.Logger = store.log
	}
	return &Scheduler{
		store:     store,
		interval:  cfg.Interval,
		config:    cfg.Config,
		newTicker: cfg.NewTicker,
		log:       cfg.Logger,
	}
}

// Interval returns the effective polling interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Run refreshes on every tick until ctx is done. A failed refresh is retried
// on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.config != nil {
		if err := s.config.Ready(); err != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}
	t := s.newTicker(s.interval)
	defer t.Stop()
	s.log.WithField("interval", s.interval).Info("refresh scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("refresh scheduler stopped")
			return ctx.Err()
		case <-t.C():
			s.tick(ctx)
		}
	}
}

// RefreshNow performs one refresh outside the tick schedule.
func (s *Scheduler) RefreshNow(ctx context.Context) (bool, error) {
	return s.store.Refresh(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	applied, err := s.store.Refresh(ctx)
	if err != nil {
		// already logged by the store
		return
	}
	if applied {
		s.log.Debug("refresh applied")
	}
}

package storage

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Factory hands out one breaker-guarded repository per app and rebuilds it
// when the app's configuration changes.
type Factory struct {
	opts    Options
	breaker BreakerConfig
	logger  *log.Logger
	build   func(domain.AppConfig, Options) (TaskRepository, error)

	mu    sync.Mutex
	repos map[string]factoryEntry
}

type factoryEntry struct {
	cfg  domain.AppConfig
	repo TaskRepository
}

// NewFactory creates a Factory using NewRepository for construction.
func NewFactory(opts Options, breaker BreakerConfig, logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Factory{
		opts:    opts,
		breaker: breaker,
		logger:  logger,
		build:   NewRepository,
		repos:   make(map[string]factoryEntry),
	}
}

// Repository returns the cached repository for cfg.ID, building a new one
// when none exists or cfg differs from the one it was built with.
func (f *Factory) Repository(cfg domain.AppConfig) (TaskRepository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.repos[cfg.ID]; ok && e.cfg == cfg {
		return e.repo, nil
	}
	repo, err := f.build(cfg, f.opts)
	if err != nil {
		return nil, err
	}
	guarded := NewBreakerRepository("repo:"+cfg.ID, cfg.Backend(), repo, f.breaker, f.logger)
	f.repos[cfg.ID] = factoryEntry{cfg: cfg, repo: guarded}
	return guarded, nil
}

// Forget drops the cached repository for appID.
func (f *Factory) Forget(appID string) {
	f.mu.Lock()
	delete(f.repos, appID)
	f.mu.Unlock()
}

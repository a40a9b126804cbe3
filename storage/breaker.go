package storage

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"taskboard/domain"
)

// BreakerConfig configures the circuit breaker around a repository.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32
	// Interval clears the failure counts while closed. Zero never clears them.
	Interval time.Duration
	// Timeout is how long the circuit stays open.
	Timeout time.Duration
}

// DefaultBreakerConfig trips after five consecutive failures for thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, MaxRequests: 1, Interval: time.Minute, Timeout: 30 * time.Second}
}

// BreakerRepository guards a TaskRepository with a circuit breaker.
type BreakerRepository struct {
	next    TaskRepository
	backend domain.Backend
	cb      *gobreaker.CircuitBreaker[any]
}

// NewBreakerRepository wraps next. Caller cancellations and missing records
// do not count as backend failures.
func NewBreakerRepository(name string, backend domain.Backend, next TaskRepository, cfg BreakerConfig, logger *log.Logger) *BreakerRepository {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"backend": backend,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("repository circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, ErrRecordNotFound)
		},
	}
	return &BreakerRepository{
		next:    next,
		backend: backend,
		cb:      gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (b *BreakerRepository) FetchTasks(ctx context.Context, assigneeID string) ([]domain.RawRecord, error) {
	out, err := b.execute("fetch", func() (any, error) {
		return b.next.FetchTasks(ctx, assigneeID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.RawRecord), nil
}

func (b *BreakerRepository) CreateTask(ctx context.Context, fields domain.Fields) (domain.RawRecord, error) {
	out, err := b.execute("create", func() (any, error) {
		return b.next.CreateTask(ctx, fields)
	})
	if err != nil {
		return domain.RawRecord{}, err
	}
	return out.(domain.RawRecord), nil
}

func (b *BreakerRepository) PatchTask(ctx context.Context, id string, fields domain.Fields) (domain.RawRecord, error) {
	out, err := b.execute("patch", func() (any, error) {
		return b.next.PatchTask(ctx, id, fields)
	})
	if err != nil {
		return domain.RawRecord{}, err
	}
	return out.(domain.RawRecord), nil
}

// State reports the breaker state for health output.
func (b *BreakerRepository) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerRepository) execute(op string, fn func() (any, error)) (any, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &RepositoryError{Backend: b.backend, Op: op, Kind: KindUnavailable, Err: err}
	}
	return out, err
}

package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/storage"
)

// DeadLetterSink persists failed writes.
type DeadLetterSink interface {
	Enqueue(ctx context.Context, fw storage.FailedWrite) error
}

// DispatcherConfig sizes the dead-letter worker pool.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// DispatcherConfigFromEnv reads DEADLETTER_WORKERS, DEADLETTER_BUFFER,
// DEADLETTER_TIMEOUT and DEADLETTER_HANDOFF_TIMEOUT.
func DispatcherConfigFromEnv() DispatcherConfig {
	return DispatcherConfig{
		Workers:        envInt("DEADLETTER_WORKERS", 4),
		Buffer:         envInt("DEADLETTER_BUFFER", 256),
		Timeout:        envDur("DEADLETTER_TIMEOUT", 30*time.Second),
		HandoffTimeout: envDur("DEADLETTER_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
}

// Dispatcher hands failed writes to a bounded pool of workers so the request
// path never waits on the queue. A nil *Dispatcher drops everything.
type Dispatcher struct {
	sink   DeadLetterSink
	log    *log.Logger
	cfg    DispatcherConfig
	jobs   chan storage.FailedWrite
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts cfg.Workers workers.
func NewDispatcher(sink DeadLetterSink, cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := &Dispatcher{
		sink: sink,
		log:  logger,
		cfg:  cfg,
		jobs: make(chan storage.FailedWrite, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("dead-letter dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return d
}

// Dispatch queues fw, delivering inline when the buffer stays full past the
// handoff timeout.
func (d *Dispatcher) Dispatch(fw storage.FailedWrite) {
	if d == nil {
		return
	}
	if fw.FailedAt == 0 {
		fw.FailedAt = nextTimestamp()
	}
	if d.tryEnqueue(fw) {
		return
	}
	d.log.Warn("dead-letter buffer saturated; processing inline")
	d.deliver(-1, fw)
}

// Close stops accepting work and waits for queued writes to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for fw := range d.jobs {
		d.deliver(id, fw)
	}
}

func (d *Dispatcher) deliver(worker int, fw storage.FailedWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	if err := d.sink.Enqueue(ctx, fw); err != nil {
		d.log.WithError(err).WithFields(log.Fields{
			"app":    fw.AppID,
			"op":     fw.Op,
			"record": fw.RecordID,
			"worker": worker,
		}).Error("dead-letter enqueue failed")
	}
}

func (d *Dispatcher) tryEnqueue(fw storage.FailedWrite) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	if trySendNonBlocking(d.jobs, fw) {
		return true
	}
	if d.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	return sendWithTimer(d.jobs, fw, timer.C)
}

func trySendNonBlocking(ch chan<- storage.FailedWrite, fw storage.FailedWrite) bool {
	select {
	case ch <- fw:
		return true
	default:
		return false
	}
}

func sendWithTimer(ch chan<- storage.FailedWrite, fw storage.FailedWrite, timer <-chan time.Time) bool {
	select {
	case ch <- fw:
		return true
	case <-timer:
		return false
	}
}

package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskboard/domain"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

type fakeClock struct {
	mu       sync.Mutex
	ticker   *fakeTicker
	interval time.Duration
	created  chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{created: make(chan struct{}, 1)}
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
	c.ticker = &fakeTicker{ch: make(chan time.Time)}
	c.created <- struct{}{}
	return c.ticker
}

func (c *fakeClock) Tick() {
	c.mu.Lock()
	t := c.ticker
	c.mu.Unlock()
	t.ch <- time.Now()
}

func TestDefaultInterval(t *testing.T) {
	if DefaultInterval(domain.BackendAirtable) != 3*time.Second {
		t.Fatal("unexpected airtable interval")
	}
	if DefaultInterval(domain.BackendGoogleSheet) != 10*time.Second {
		t.Fatal("unexpected sheets interval")
	}
	s, _ := newTestStore(t, &fakeRepo{}, allControls)
	cfg := domain.AppConfig{GoogleSheetID: "sheet"}
	if got := NewScheduler(s, SchedulerConfig{Config: &cfg}).Interval(); got != 10*time.Second {
		t.Fatalf("expected interval from config backend, got %v", got)
	}
	if got := NewScheduler(s, SchedulerConfig{Interval: time.Minute}).Interval(); got != time.Minute {
		t.Fatalf("expected override, got %v", got)
	}
}

func TestSchedulerRefusesIncompleteConfig(t *testing.T) {
	s, _ := newTestStore(t, &fakeRepo{}, allControls)
	cfg := domain.AppConfig{ID: "app", BaseID: "b"}
	clock := newFakeClock()
	err := NewScheduler(s, SchedulerConfig{Config: &cfg, NewTicker: clock.NewTicker}).Run(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if clock.ticker != nil {
		t.Fatal("incomplete config must not start polling")
	}
}

func TestSchedulerRefreshesOnTick(t *testing.T) {
	repo := &fakeRepo{}
	repo.setRecords(record("1", "a", "Todo"))
	s, _ := newTestStore(t, repo, allControls)
	clock := newFakeClock()
	sched := NewScheduler(s, SchedulerConfig{Backend: domain.BackendAirtable, NewTicker: clock.NewTicker})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	<-clock.created
	if clock.interval != 3*time.Second {
		t.Fatalf("unexpected interval %v", clock.interval)
	}

	clock.Tick()
	repo.setRecords(record("1", "a", "Todo"), record("2", "b", "Done"))
	repo.mu.Lock()
	repo.fetchErr = errors.New("flaky")
	repo.mu.Unlock()
	clock.Tick()
	repo.mu.Lock()
	repo.fetchErr = nil
	repo.mu.Unlock()
	clock.Tick()
	// the unbuffered tick channel guarantees the previous tick finished
	clock.Tick()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if !clock.ticker.stopped {
		t.Fatal("ticker not stopped")
	}
	if got := len(s.Snapshot().All); got != 2 {
		t.Fatalf("expected refresh after a failed tick, got %d tasks", got)
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.fetches != 4 {
		t.Fatalf("expected one fetch per tick, got %d", repo.fetches)
	}
}

func TestSchedulerSkipsTickWhileMutating(t *testing.T) {
	repo := &fakeRepo{writeGate: make(chan struct{})}
	s, _ := newTestStore(t, repo, allControls)
	s.LoadTasks([]domain.Task{task("1", "a", domain.StatusTodo, 0)})
	clock := newFakeClock()
	sched := NewScheduler(s, SchedulerConfig{NewTicker: clock.NewTicker})

	if _, err := s.MoveTask("1", domain.StatusTodo, domain.StatusDone); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	<-clock.created
	clock.Tick()
	clock.Tick()
	cancel()
	<-done

	repo.mu.Lock()
	fetches := repo.fetches
	repo.mu.Unlock()
	if fetches != 0 {
		t.Fatalf("expected ticks to be skipped, got %d fetches", fetches)
	}
	close(repo.writeGate)
}

func TestRefreshNow(t *testing.T) {
	repo := &fakeRepo{}
	repo.setRecords(record("1", "a", "Done"))
	s, _ := newTestStore(t, repo, allControls)
	applied, err := NewScheduler(s, SchedulerConfig{}).RefreshNow(context.Background())
	if err != nil || !applied {
		t.Fatalf("expected refresh, got %v %v", applied, err)
	}
}

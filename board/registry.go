package board

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the registry state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMutating
	PhaseRefreshing
)

func (p Phase) String() string {
	switch p {
	case PhaseMutating:
		return "mutating"
	case PhaseRefreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// OpID identifies one user-initiated mutation.
type OpID int64

// RefreshToken is handed out by BeginRefresh and redeemed by CompleteRefresh.
type RefreshToken struct {
	seq        uint64
	generation uint64
}

// Registry tracks pending mutations and the single in-flight refresh.
// Mutations dominate refreshes: registering one aborts the refresh, and a
// refresh is trusted only if no mutation was pending when it was issued and
// none began before it completed.
type Registry struct {
	mu         sync.Mutex
	pending    map[OpID]struct{}
	generation uint64
	refreshSeq uint64
	refreshing uint64
	cancel     context.CancelFunc
}

// NewRegistry returns an idle registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[OpID]struct{})}
}

var lastOpID int64

func nextOpID() OpID {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastOpID)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastOpID, last, now) {
			return OpID(now)
		}
	}
}

// BeginMutation aborts any in-flight refresh and registers a new mutation.
func (r *Registry) BeginMutation() OpID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortRefreshLocked()
	r.generation++
	id := nextOpID()
	r.pending[id] = struct{}{}
	return id
}

// EndMutation deregisters id. Unknown ids are ignored.
func (r *Registry) EndMutation(id OpID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// BeginRefresh allocates a cancellable context for a refresh fetch. It
// refuses while a mutation is pending. A refresh already in flight is
// aborted in favour of the new one.
func (r *Registry) BeginRefresh(parent context.Context) (context.Context, RefreshToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) > 0 {
		return nil, RefreshToken{}, false
	}
	r.abortRefreshLocked()
	ctx, cancel := context.WithCancel(parent)
	r.refreshSeq++
	r.refreshing = r.refreshSeq
	r.cancel = cancel
	return ctx, RefreshToken{seq: r.refreshSeq, generation: r.generation}, true
}

// CompleteRefresh reports whether the refresh identified by tok may be
// applied. It always releases the refresh context.
func (r *Registry) CompleteRefresh(tok RefreshToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := tok.seq != 0 && r.refreshing == tok.seq
	if current {
		r.refreshing = 0
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
	}
	return current && tok.generation == r.generation && len(r.pending) == 0
}

// abortRefreshLocked is safe to call with nothing in flight.
func (r *Registry) abortRefreshLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.refreshing = 0
}

// Phase reports the current state. Pending mutations take precedence over a
// refresh that has not noticed its cancellation yet.
func (r *Registry) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case len(r.pending) > 0:
		return PhaseMutating
	case r.refreshing != 0:
		return PhaseRefreshing
	default:
		return PhaseIdle
	}
}

// Pending returns the registered mutation ids in ascending order.
func (r *Registry) Pending() []OpID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]OpID, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

package board

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

type createCall struct {
	fields domain.Fields
	key    string
}

type patchCall struct {
	id     string
	fields domain.Fields
}

// fakeRepo answers immediately unless a gate is set. Gated calls block until
// the gate is closed; fetchStarted is signalled once a fetch is in flight.
type fakeRepo struct {
	mu       sync.Mutex
	records  []domain.RawRecord
	fetchErr error
	writeErr error
	createID string

	fetchGate    chan struct{}
	fetchStarted chan struct{}
	// honourCancel makes a gated fetch return when its context is cancelled.
	honourCancel bool
	writeGate    chan struct{}

	fetches int
	creates []createCall
	patches []patchCall
}

func (f *fakeRepo) FetchTasks(ctx context.Context, assigneeID string) ([]domain.RawRecord, error) {
	f.mu.Lock()
	f.fetches++
	gate, started := f.fetchGate, f.fetchStarted
	recs, err := f.records, f.fetchErr
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		if f.honourCancel {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-gate
		}
	}
	return recs, err
}

func (f *fakeRepo) CreateTask(ctx context.Context, fields domain.Fields) (domain.RawRecord, error) {
	f.waitWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{fields: fields, key: IdempotencyKeyFrom(ctx)})
	if f.writeErr != nil {
		return domain.RawRecord{}, f.writeErr
	}
	return domain.RawRecord{ID: f.createID, Fields: fields}, nil
}

func (f *fakeRepo) PatchTask(ctx context.Context, id string, fields domain.Fields) (domain.RawRecord, error) {
	f.waitWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patchCall{id: id, fields: fields})
	if f.writeErr != nil {
		return domain.RawRecord{}, f.writeErr
	}
	return domain.RawRecord{ID: id, Fields: fields}, nil
}

func (f *fakeRepo) waitWrite() {
	f.mu.Lock()
	gate := f.writeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeRepo) setRecords(recs ...domain.RawRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = recs
}

func (f *fakeRepo) patchCalls() []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patchCall(nil), f.patches...)
}

func (f *fakeRepo) createCalls() []createCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createCall(nil), f.creates...)
}

var allControls = domain.Controls{AllowAddingItems: true, AllowUpdatingStatus: true, AllowingUpdatingDetails: true}

func newTestStore(t *testing.T, repo *fakeRepo, controls domain.Controls) (*Store, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	n := 0
	s := NewStore(StoreOptions{
		Repository: repo,
		Assignee:   domain.Assignee{ID: "client-1", GivenName: "Ada", FamilyName: "Lovelace"},
		Controls:   controls,
		Logger:     logger,
		NewLocalID: func() string {
			n++
			return "local-" + strconv.Itoa(n)
		},
	})
	t.Cleanup(s.Wait)
	return s, hook
}

func task(id, title string, status domain.Status, rank int) domain.Task {
	return domain.Task{ID: id, Title: title, Status: status, Rank: rank}
}

func record(id, name, status string) domain.RawRecord {
	return domain.RawRecord{ID: id, Fields: domain.Fields{"Name": name, "Status": status}}
}

func bucketIDs(v View, st domain.Status) []string {
	ids := make([]string, 0, len(v.ByStatus[st]))
	for _, t := range v.ByStatus[st] {
		ids = append(ids, t.Key())
	}
	return ids
}

// assertPartition checks that the buckets are disjoint and cover exactly
// the unfiltered task list.
func assertPartition(t *testing.T, v View) {
	t.Helper()
	if v.Filter != "" {
		t.Fatalf("partition check needs an unfiltered view, filter=%q", v.Filter)
	}
	seen := map[string]domain.Status{}
	for _, st := range domain.Statuses() {
		for _, task := range v.ByStatus[st] {
			if prev, dup := seen[task.Key()]; dup {
				t.Fatalf("task %s in both %s and %s", task.Key(), prev, st)
			}
			if task.Status != st {
				t.Fatalf("task %s has status %s but sits in %s", task.Key(), task.Status, st)
			}
			seen[task.Key()] = st
		}
	}
	all := make([]string, 0, len(v.All))
	for _, task := range v.All {
		all = append(all, task.Key())
	}
	got := make([]string, 0, len(seen))
	for id := range seen {
		got = append(got, id)
	}
	sort.Strings(all)
	sort.Strings(got)
	if len(all) != len(got) {
		t.Fatalf("buckets hold %v, all tasks are %v", got, all)
	}
	for i := range all {
		if all[i] != got[i] {
			t.Fatalf("buckets hold %v, all tasks are %v", got, all)
		}
	}
}

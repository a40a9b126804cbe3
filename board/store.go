package board

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

var (
	ErrTaskNotFound    = errors.New("board: task not found")
	ErrFeatureDisabled = errors.New("board: feature disabled by app controls")
)

// Repository is the task backend as seen by the board.
type Repository interface {
	FetchTasks(ctx context.Context, assigneeID string) ([]domain.RawRecord, error)
	CreateTask(ctx context.Context, fields domain.Fields) (domain.RawRecord, error)
	PatchTask(ctx context.Context, id string, fields domain.Fields) (domain.RawRecord, error)
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches the client-generated key of a create to ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFrom returns the key set by WithIdempotencyKey.
func IdempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// StoreOptions configures a Store. Repository and Logger are required.
type StoreOptions struct {
	Repository Repository
	Registry   *Registry
	Assignee   domain.Assignee
	Controls   domain.Controls
	Logger     *log.Logger
	// NewLocalID generates ids for optimistic tasks. Defaults to uuid.NewString.
	NewLocalID func() string
}

// Store is the single mutable board state. Every read and write goes
// through its methods; the partition in byStatus always covers exactly the
// tasks in all that match the current filter.
type Store struct {
	repo     Repository
	reg      *Registry
	assignee domain.Assignee
	controls domain.Controls
	log      *log.Logger
	newID    func() string

	mu       sync.Mutex
	all      []*domain.Task
	byStatus map[domain.Status][]*domain.Task
	drafts   map[domain.Status]bool
	filter   string
	loaded   bool
	// creating holds the writes queued for tasks whose create is in flight,
	// keyed by LocalID.
	creating map[string]domain.Fields

	writes sync.WaitGroup
}

// View is a copy of the store state for rendering.
type View struct {
	Title    string
	All      []domain.Task
	ByStatus map[domain.Status][]domain.Task
	Drafts   map[domain.Status]bool
	Filter   string
	Controls domain.Controls
	Loaded   bool
	// Empty is set once loaded when the assignee has no tasks at all.
	Empty bool
}

// NewStore returns an empty, unloaded store.
func NewStore(opts StoreOptions) *Store {
	if opts.Repository == nil {
		panic("Repository is not initialized")
	}
	if opts.Logger == nil {
		panic("Logger is not initialized")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.NewLocalID == nil {
		opts.NewLocalID = uuid.NewString
	}
	s := &Store{
		repo:     opts.Repository,
		reg:      opts.Registry,
		assignee: opts.Assignee,
		controls: opts.Controls,
		log:      opts.Logger,
		newID:    opts.NewLocalID,
		drafts:   make(map[domain.Status]bool),
		creating: make(map[string]domain.Fields),
	}
	s.recomputeLocked()
	return s
}

// Registry returns the pending-operation registry guarding this store.
func (s *Store) Registry() *Registry { return s.reg }

// Controls returns the feature flags the store was built with.
func (s *Store) Controls() domain.Controls { return s.controls }

// LoadTasks replaces the task list wholesale.
func (s *Store) LoadTasks(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(tasks)
}

func (s *Store) loadLocked(tasks []domain.Task) {
	all := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		t := t.Clone()
		if !t.Status.Valid() {
			t.Status = domain.StatusTodo
		}
		all = append(all, &t)
	}
	s.all = all
	s.loaded = true
	s.recomputeLocked()
}

// Refresh fetches the assignee's tasks and loads them unless a mutation was
// registered while the fetch was in flight. It reports whether the result
// was applied. Refresh errors are logged; state is left untouched.
func (s *Store) Refresh(ctx context.Context) (bool, error) {
	rctx, tok, ok := s.reg.BeginRefresh(ctx)
	if !ok {
		s.log.Debug("refresh skipped: mutation pending")
		return false, nil
	}
	recs, err := s.repo.FetchTasks(rctx, s.assignee.ID)
	if err != nil {
		s.reg.CompleteRefresh(tok)
		if rctx.Err() != nil && ctx.Err() == nil {
			s.log.Debug("refresh aborted by a newer operation")
			return false, nil
		}
		s.log.WithError(err).WithField("assignee", s.assignee.ID).Warn("refresh failed")
		return false, err
	}
	tasks := domain.NormalizeAll(recs, s.assignee)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reg.CompleteRefresh(tok) {
		s.log.Debug("refresh discarded: superseded by a mutation")
		return false, nil
	}
	s.loadLocked(tasks)
	return true, nil
}

// MoveTask moves the task keyed id from one status bucket to another and
// writes the new status in the background. It reports whether anything
// moved.
func (s *Store) MoveTask(id string, from, to domain.Status) (bool, error) {
	if !s.controls.AllowUpdatingStatus {
		return false, ErrFeatureDisabled
	}
	if from == to || !to.Valid() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.byStatus[from]
	idx := -1
	for i, t := range src {
		if t.HasKey(id) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	t := src[idx]
	s.byStatus[from] = append(src[:idx:idx], src[idx+1:]...)
	s.byStatus[to] = append(s.byStatus[to], t)
	sortByRank(s.byStatus[to])
	t.Status = to

	if t.ID == "" {
		s.queueLocked(t, id, domain.Fields{domain.FieldStatus: string(to)})
		return true, nil
	}
	op := s.reg.BeginMutation()
	recordID := t.ID
	fields := domain.Fields{domain.FieldStatus: string(to)}
	s.async(op, "patch_status", id, func(ctx context.Context) error {
		_, err := s.repo.PatchTask(ctx, recordID, fields)
		return err
	})
	return true, nil
}

// AddTask validates d, appends an optimistic task to its column and creates
// it in the background. The optimistic task is kept when the create fails.
func (s *Store) AddTask(d domain.Draft) (domain.Task, error) {
	if !s.controls.AllowAddingItems {
		return domain.Task{}, ErrFeatureDisabled
	}
	if err := domain.ValidateDraft(d); err != nil {
		return domain.Task{}, err
	}
	status := d.Status
	if status == "" {
		status = domain.StatusTodo
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := &domain.Task{
		LocalID:     s.newID(),
		Title:       strings.TrimSpace(d.Title),
		Status:      status,
		Rank:        s.nextRankLocked(),
		Assignee:    s.assignee,
		ClientIDRef: s.clientRefLocked(),
	}
	s.all = append(s.all, t)
	if s.matchesLocked(t) {
		s.byStatus[status] = append(s.byStatus[status], t)
		sortByRank(s.byStatus[status])
	}
	s.drafts[status] = false

	fields := domain.Fields{
		domain.FieldName:       t.Title,
		domain.FieldStatus:     string(status),
		domain.FieldAssigneeID: s.assignee.ID,
	}
	if len(t.ClientIDRef) > 0 {
		fields[domain.FieldClientIDRef] = append([]string(nil), t.ClientIDRef...)
	}
	op := s.reg.BeginMutation()
	key := t.Key()
	localID := t.LocalID
	s.creating[localID] = nil
	s.async(op, "create", key, func(ctx context.Context) error {
		rec, err := s.repo.CreateTask(WithIdempotencyKey(ctx, localID), fields)
		if err != nil || rec.ID == "" {
			s.mu.Lock()
			queued := len(s.creating[localID]) > 0
			delete(s.creating, localID)
			s.mu.Unlock()
			if err == nil && queued {
				s.log.WithField("task", key).Warn("queued changes kept locally: create returned no id")
			}
			return err
		}
		// the id is adopted once the queue drains, so edits made meanwhile
		// keep queueing in order
		for {
			s.mu.Lock()
			queued := s.creating[localID]
			if len(queued) == 0 {
				delete(s.creating, localID)
				t.ID = rec.ID
				s.mu.Unlock()
				return nil
			}
			s.creating[localID] = nil
			s.mu.Unlock()
			if _, err := s.repo.PatchTask(ctx, rec.ID, queued); err != nil {
				s.mu.Lock()
				delete(s.creating, localID)
				t.ID = rec.ID
				s.mu.Unlock()
				return err
			}
		}
	})
	return t.Clone(), nil
}

// EditDescription replaces the task description and writes it in the
// background.
func (s *Store) EditDescription(id, text string) error {
	if !s.controls.AllowingUpdatingDetails {
		return ErrFeatureDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(id)
	if t == nil {
		return ErrTaskNotFound
	}
	t.Description = text
	if t.ID == "" {
		s.queueLocked(t, id, domain.Fields{domain.FieldDescription: text})
		return nil
	}
	op := s.reg.BeginMutation()
	recordID := t.ID
	fields := domain.Fields{domain.FieldDescription: text}
	s.async(op, "patch_description", id, func(ctx context.Context) error {
		_, err := s.repo.PatchTask(ctx, recordID, fields)
		return err
	})
	return nil
}

// ApplyTextFilter narrows the buckets to tasks whose title contains term,
// ignoring case. An empty term shows everything.
func (s *Store) ApplyTextFilter(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = term
	s.recomputeLocked()
}

// Filter returns the active filter term.
func (s *Store) Filter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// ShowDraft opens the inline add-task form of a column.
func (s *Store) ShowDraft(status domain.Status) {
	if !status.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[status] = true
}

// HideDrafts closes every inline add-task form.
func (s *Store) HideDrafts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range domain.Statuses() {
		s.drafts[st] = false
	}
}

func (s *Store) DraftVisible(status domain.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[status]
}

// Task returns a copy of the task keyed id.
func (s *Store) Task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(id)
	if t == nil {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// StatusOf returns the bucket currently holding the task keyed id.
func (s *Store) StatusOf(id string) (domain.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range domain.Statuses() {
		for _, t := range s.byStatus[st] {
			if t.HasKey(id) {
				return st, true
			}
		}
	}
	return "", false
}

// Snapshot copies the current state.
func (s *Store) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		Title:    s.assignee.BoardTitle(),
		All:      make([]domain.Task, 0, len(s.all)),
		ByStatus: make(map[domain.Status][]domain.Task, len(s.byStatus)),
		Drafts:   make(map[domain.Status]bool, len(s.drafts)),
		Filter:   s.filter,
		Controls: s.controls,
		Loaded:   s.loaded,
		Empty:    s.loaded && len(s.all) == 0,
	}
	for _, t := range s.all {
		v.All = append(v.All, t.Clone())
	}
	for _, st := range domain.Statuses() {
		bucket := make([]domain.Task, 0, len(s.byStatus[st]))
		for _, t := range s.byStatus[st] {
			bucket = append(bucket, t.Clone())
		}
		v.ByStatus[st] = bucket
		v.Drafts[st] = s.drafts[st]
	}
	return v
}

// Wait blocks until background writes have finished.
func (s *Store) Wait() {
	s.writes.Wait()
}

// async runs one backend write. The mutation stays registered until fn
// returns; failures are logged and local state is kept.
func (s *Store) async(op OpID, name, key string, fn func(ctx context.Context) error) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		defer s.reg.EndMutation(op)
		if err := fn(context.Background()); err != nil {
			s.log.WithError(err).WithFields(log.Fields{
				"op":       name,
				"task":     key,
				"assignee": s.assignee.ID,
			}).Error("board write failed")
		}
	}()
}

// queueLocked defers fields until the create of t confirms. Without a
// create in flight the change stays local.
func (s *Store) queueLocked(t *domain.Task, key string, fields domain.Fields) {
	queued, ok := s.creating[t.LocalID]
	if !ok {
		s.log.WithField("task", key).Warn("change kept locally: task not persisted")
		return
	}
	if queued == nil {
		queued = domain.Fields{}
	}
	for k, v := range fields {
		queued[k] = v
	}
	s.creating[t.LocalID] = queued
}

func (s *Store) recomputeLocked() {
	by := make(map[domain.Status][]*domain.Task, 3)
	for _, st := range domain.Statuses() {
		by[st] = nil
	}
	for _, t := range s.all {
		if s.matchesLocked(t) {
			by[t.Status] = append(by[t.Status], t)
		}
	}
	for _, bucket := range by {
		sortByRank(bucket)
	}
	s.byStatus = by
}

func (s *Store) matchesLocked(t *domain.Task) bool {
	if s.filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), strings.ToLower(s.filter))
}

func (s *Store) findLocked(id string) *domain.Task {
	for _, t := range s.all {
		if t.HasKey(id) {
			return t
		}
	}
	return nil
}

func (s *Store) nextRankLocked() int {
	next := 0
	for _, t := range s.all {
		if t.Rank >= next {
			next = t.Rank + 1
		}
	}
	return next
}

// clientRefLocked reuses the backend reference of an existing task so new
// rows link to the same assignee record.
func (s *Store) clientRefLocked() []string {
	for _, t := range s.all {
		if len(t.ClientIDRef) > 0 {
			return append([]string(nil), t.ClientIDRef...)
		}
	}
	return nil
}

func sortByRank(tasks []*domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Rank < tasks[j].Rank })
}

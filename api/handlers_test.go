package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
	"taskboard/storage"
)

type memConfigs struct {
	mu      sync.Mutex
	configs map[string]domain.AppConfig
	users   map[string][]string
	err     error
}

func newMemConfigs(cfgs ...domain.AppConfig) *memConfigs {
	m := &memConfigs{configs: map[string]domain.AppConfig{}, users: map[string][]string{}}
	for _, c := range cfgs {
		m.configs[c.ID] = c
	}
	return m
}

func (m *memConfigs) GetConfig(ctx context.Context, appID string) (*domain.AppConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cfg, ok := m.configs[appID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *memConfigs) PutConfig(ctx context.Context, appID string, cfg domain.AppConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[appID] = cfg
	return nil
}

func (m *memConfigs) GetUserApps(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.users[userID]...), nil
}

func (m *memConfigs) PutUserApps(ctx context.Context, userID string, appIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = append([]string(nil), appIDs...)
	return nil
}

type fakeRepo struct {
	mu      sync.Mutex
	records []domain.RawRecord
	err     error
	creates []domain.Fields
	patches map[string]domain.Fields
	lastAsg string
}

func (f *fakeRepo) FetchTasks(ctx context.Context, assigneeID string) ([]domain.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAsg = assigneeID
	return f.records, f.err
}

func (f *fakeRepo) CreateTask(ctx context.Context, fields domain.Fields) (domain.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, fields)
	if f.err != nil {
		return domain.RawRecord{}, f.err
	}
	return domain.RawRecord{ID: "recNew", Fields: fields}, nil
}

func (f *fakeRepo) PatchTask(ctx context.Context, id string, fields domain.Fields) (domain.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patches == nil {
		f.patches = map[string]domain.Fields{}
	}
	f.patches[id] = fields
	if f.err != nil {
		return domain.RawRecord{}, f.err
	}
	return domain.RawRecord{ID: id, Fields: fields}, nil
}

type fakeRepos struct {
	repo storage.TaskRepository
	err  error
}

func (f fakeRepos) Repository(cfg domain.AppConfig) (storage.TaskRepository, error) {
	return f.repo, f.err
}

type memDeduper struct {
	mu      sync.Mutex
	keys    map[string]bool
	removed []string
}

func (d *memDeduper) Add(ctx context.Context, scope, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys == nil {
		d.keys = map[string]bool{}
	}
	if d.keys[scope+":"+key] {
		return false, nil
	}
	d.keys[scope+":"+key] = true
	return true, nil
}

func (d *memDeduper) Remove(ctx context.Context, scope, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, scope+":"+key)
	d.removed = append(d.removed, key)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	writes []storage.FailedWrite
}

func (s *recordingSink) Enqueue(ctx context.Context, fw storage.FailedWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, fw)
	return nil
}

func (s *recordingSink) Writes() []storage.FailedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.FailedWrite(nil), s.writes...)
}

var airtableConfig = domain.AppConfig{ID: "app1", AirtableAPIKey: "k", BaseID: "b", TableID: "t"}

func newTestServer(t *testing.T, svc Services) *echo.Echo {
	t.Helper()
	if svc.Logger == nil {
		svc.Logger, _ = test.NewNullLogger()
	}
	e := echo.New()
	Register(e, svc)
	return e
}

func serve(e *echo.Echo, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGetDataReturnsRecords(t *testing.T) {
	repo := &fakeRepo{records: []domain.RawRecord{{ID: "rec1", Fields: domain.Fields{"Name": "Buy milk"}}}}
	e := newTestServer(t, Services{Configs: newMemConfigs(airtableConfig), Repos: fakeRepos{repo: repo}})

	rec := serve(e, http.MethodGet, "/data?appId=app1&assigneeId=c1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var got []domain.RawRecord
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(got) != 1 || got[0].ID != "rec1" {
		t.Fatalf("unexpected records %+v", got)
	}
	if repo.lastAsg != "c1" {
		t.Fatalf("expected assignee forwarded, got %q", repo.lastAsg)
	}
}

func TestGetDataStatusCodes(t *testing.T) {
	notReady := domain.AppConfig{ID: "half", BaseID: "b"}
	tests := []struct {
		name   string
		target string
		repos  fakeRepos
		want   int
	}{
		{"missing app", "/data?assigneeId=c1", fakeRepos{repo: &fakeRepo{}}, http.StatusBadRequest},
		{"missing assignee", "/data?appId=app1", fakeRepos{repo: &fakeRepo{}}, http.StatusBadRequest},
		{"unknown app", "/data?appId=nope&assigneeId=c1", fakeRepos{repo: &fakeRepo{}}, http.StatusNotFound},
		{"not ready", "/data?appId=half&assigneeId=c1", fakeRepos{repo: &fakeRepo{}}, http.StatusConflict},
		{"backend error", "/data?appId=app1&assigneeId=c1", fakeRepos{repo: &fakeRepo{err: &storage.RepositoryError{Kind: storage.KindAuth}}}, http.StatusBadGateway},
		{"breaker open", "/data?appId=app1&assigneeId=c1", fakeRepos{repo: &fakeRepo{err: &storage.RepositoryError{Kind: storage.KindUnavailable}}}, http.StatusServiceUnavailable},
		{"repository build", "/data?appId=app1&assigneeId=c1", fakeRepos{err: errors.New("no creds")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(t, Services{Configs: newMemConfigs(airtableConfig, notReady), Repos: tt.repos})
			rec := serve(e, http.MethodGet, tt.target, "")
			if rec.Code != tt.want {
				t.Fatalf("expected status %d got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPostDataDeduplicatesByIdempotencyKey(t *testing.T) {
	repo := &fakeRepo{}
	deduper := &memDeduper{}
	e := newTestServer(t, Services{Configs: newMemConfigs(airtableConfig), Repos: fakeRepos{repo: repo}, Deduper: deduper})
	body := `{"Name":"New task","Status":"Todo"}`

	first := serve(e, http.MethodPost, "/data?appId=app1", body, IdempotencyHeader, "k1")
	if first.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", first.Code, first.Body.String())
	}
	second := serve(e, http.MethodPost, "/data?appId=app1", body, IdempotencyHeader, "k1")
	if second.Code != http.StatusConflict {
		t.Fatalf("expected duplicate to be rejected, got %d", second.Code)
	}
	if len(repo.creates) != 1 {
		t.Fatalf("expected a single backend write, got %d", len(repo.creates))
	}
	if repo.creates[0]["Name"] != "New task" {
		t.Fatalf("unexpected fields %v", repo.creates[0])
	}

	var rec domain.RawRecord
	if err := sonic.Unmarshal(first.Body.Bytes(), &rec); err != nil || rec.ID != "recNew" {
		t.Fatalf("unexpected response %s (%v)", first.Body.String(), err)
	}
}

func TestPostDataFailureReleasesKeyAndDeadLetters(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &recordingSink{}
	dispatcher := NewDispatcher(sink, DispatcherConfig{Workers: 1, Buffer: 4, Timeout: time.Second}, logger)
	repo := &fakeRepo{err: &storage.RepositoryError{Kind: storage.KindBackend}}
	deduper := &memDeduper{}
	e := newTestServer(t, Services{Configs: newMemConfigs(airtableConfig), Repos: fakeRepos{repo: repo}, Deduper: deduper, DeadLetters: dispatcher, Logger: logger})

	rec := serve(e, http.MethodPost, "/data?appId=app1", `{"Name":"x"}`, IdempotencyHeader, "k1")
	dispatcher.Close()

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502 got %d", rec.Code)
	}
	if len(deduper.removed) != 1 || deduper.removed[0] != "k1" {
		t.Fatalf("expected key to be released, got %v", deduper.removed)
	}
	writes := sink.Writes()
	if len(writes) != 1 || writes[0].Op != "create" || writes[0].IdempotencyKey != "k1" || writes[0].Kind != storage.KindBackend {
		t.Fatalf("unexpected dead letters %+v", writes)
	}

	repo.err = nil
	retry := serve(e, http.MethodPost, "/data?appId=app1", `{"Name":"x"}`, IdempotencyHeader, "k1")
	if retry.Code != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", retry.Code)
	}
}

func TestPostDataRejectsInvalidBody(t *testing.T) {
	repo := &fakeRepo{}
	e := newTestServer(t, Services{Configs: newMemConfigs(airtableConfig), Repos: fakeRepos{repo: repo}})

	rec := serve(e, http.MethodPost, "/data?appId=app1", `[1,2]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	if len(repo.creates) != 0 {
		t.Fatal("invalid body must not reach the backend")
	}
}

func TestPatchData(t *testing.T) {
	repo := &fakeRepo{}
	e := newTestServer(t, Services{Configs: newMemConfigs(airtableConfig), Repos: fakeRepos{repo: repo}})

	missing := serve(e, http.MethodPatch, "/data?appId=app1", `{"Status":"Done"}`)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", missing.Code)
	}

	rec := serve(e, http.MethodPatch, "/data?appId=app1&recordId=rec1", `{"Status":"Done"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.patches["rec1"]["Status"] != "Done" {
		t.Fatalf("unexpected patches %v", repo.patches)
	}
}

func TestPatchDataNotFound(t *testing.T) {
	sink := &recordingSink{}
	logger, _ := test.NewNullLogger()
	dispatcher := NewDispatcher(sink, DispatcherConfig{Workers: 1, Buffer: 1}, logger)
	repo := &fakeRepo{err: &storage.RepositoryError{Kind: storage.KindNotFound, Err: storage.ErrRecordNotFound}}
	e := newTestServer(t, Services{Configs: newMemConfigs(airtableConfig), Repos: fakeRepos{repo: repo}, DeadLetters: dispatcher})

	rec := serve(e, http.MethodPatch, "/data?appId=app1&recordId=gone", `{"Status":"Done"}`)
	dispatcher.Close()

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
	if len(sink.Writes()) != 0 {
		t.Fatal("missing records are not dead-lettered")
	}
}

func TestGetDataLogsRequestMetrics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.InfoLevel)
	repo := &fakeRepo{records: []domain.RawRecord{{ID: "a"}, {ID: "b"}}}
	e := newTestServer(t, Services{Configs: newMemConfigs(airtableConfig), Repos: fakeRepos{repo: repo}, Logger: logger})

	serve(e, http.MethodGet, "/data?appId=app1&assigneeId=c1", "")

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "observability.event" {
		t.Fatalf("expected metrics entry, got %+v", entry)
	}
	attrs := entry.Data["attributes"].(map[string]any)
	if attrs["taskboard.data.records"] != int64(2) || attrs["taskboard.data.backend"] != "airtable" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestServer(t, Services{Configs: newMemConfigs(), Repos: fakeRepos{}})
	if rec := serve(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}

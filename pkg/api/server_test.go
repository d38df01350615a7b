package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vtagger/vtagger/pkg/dimensions"
	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/stores"
	"github.com/vtagger/vtagger/pkg/sync"
)

type fakeController struct {
	job       sync.Job
	startErr  error
	cancelErr error
	events    chan sync.Job
}

func (f *fakeController) Start(ctx context.Context, scope sync.Scope) (sync.Job, error) {
	if f.startErr != nil {
		return sync.Job{}, f.startErr
	}
	f.job = sync.Job{ID: "job-1", Status: sync.StatusRunning, Scope: scope}
	return f.job, nil
}

func (f *fakeController) Cancel(ctx context.Context) (sync.Job, error) {
	if f.cancelErr != nil {
		return sync.Job{}, f.cancelErr
	}
	f.job.Status = sync.StatusCancelling
	return f.job, nil
}

func (f *fakeController) Reset(ctx context.Context) (sync.Job, error) {
	f.job = sync.Job{Status: sync.StatusIdle}
	return f.job, nil
}

func (f *fakeController) Snapshot(ctx context.Context) (sync.Job, error) {
	return f.job, nil
}

func (f *fakeController) Subscribe() (<-chan sync.Job, func()) {
	if f.events == nil {
		f.events = make(chan sync.Job)
	}
	return f.events, func() {}
}

type fakeHistory struct {
	syncs   []*stores.SyncRecord
	uploads []*stores.UploadRecord
	tags    []stores.DiscoveredTag
	stats   map[string]*stores.DailyStats
	vtags   map[string]map[string]string
}

func (f *fakeHistory) ListSyncRecords(ctx context.Context, limit int) ([]*stores.SyncRecord, error) {
	if limit < len(f.syncs) {
		return f.syncs[:limit], nil
	}
	return f.syncs, nil
}

func (f *fakeHistory) GetSyncRecord(ctx context.Context, id string) (*stores.SyncRecord, error) {
	for _, rec := range f.syncs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, stores.ErrNotFound
}

func (f *fakeHistory) ListUploadRecords(ctx context.Context, limit int) ([]*stores.UploadRecord, error) {
	return f.uploads, nil
}

func (f *fakeHistory) ListDiscoveredTags(ctx context.Context) ([]stores.DiscoveredTag, error) {
	return f.tags, nil
}

func (f *fakeHistory) GetDailyStats(ctx context.Context, day string) (*stores.DailyStats, error) {
	if stats, ok := f.stats[day]; ok {
		return stats, nil
	}
	return nil, stores.ErrNotFound
}

func (f *fakeHistory) GetResourceVTags(ctx context.Context, resourceID string) (map[string]string, error) {
	return f.vtags[resourceID], nil
}

type fakeDims struct {
	dims []engine.Dimension
}

func (f *fakeDims) LoadAll() ([]engine.Dimension, error) {
	return f.dims, nil
}

func (f *fakeDims) Parse(name string, content []byte) (engine.Dimension, []dimensions.ValidationError) {
	if strings.Contains(string(content), "broken") {
		return engine.Dimension{}, []dimensions.ValidationError{
			{File: name, Message: "field vtag_name is required"},
		}
	}
	return engine.Dimension{
		Name:         "environment",
		Index:        0,
		DefaultValue: "Unallocated",
		Statements: []engine.Statement{
			{Match: "TAG['env'] == 'prod'", Value: "'production'"},
		},
	}, nil
}

func environmentDimensions() []engine.Dimension {
	return []engine.Dimension{
		{
			Name:         "environment",
			Index:        0,
			DefaultValue: "Unallocated",
			Statements: []engine.Statement{
				{Match: "TAG['env'] == 'prod'", Value: "'production'"},
			},
		},
	}
}

func newTestServer(controller *fakeController, history *fakeHistory, dims *fakeDims) *Server {
	if history == nil {
		history = &fakeHistory{}
	}
	if dims == nil {
		dims = &fakeDims{dims: environmentDimensions()}
	}
	return NewServer(Options{ListenAddr: "127.0.0.1:0"}, controller, history, dims, nil, zerolog.Nop())
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeController{}, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSyncStart(t *testing.T) {
	s := newTestServer(&fakeController{}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/sync/start", `{"filter_mode":"not_vtagged"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var job sync.Job
	decodeJSON(t, rec, &job)
	if job.Status != sync.StatusRunning {
		t.Errorf("expected running job, got %s", job.Status)
	}
	if job.Scope.FilterMode != sync.FilterNotVTagged {
		t.Errorf("expected filter mode to pass through, got %s", job.Scope.FilterMode)
	}
}

func TestSyncStartConflict(t *testing.T) {
	s := newTestServer(&fakeController{startErr: sync.ErrSyncInProgress}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/sync/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestSyncStartRejectsUnknownFields(t *testing.T) {
	s := newTestServer(&fakeController{}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/sync/start", `{"filtre_mode":"all"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSyncCancelConflictWhenIdle(t *testing.T) {
	s := newTestServer(&fakeController{cancelErr: sync.ErrNoSyncInProgress}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/sync/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestSyncHistory(t *testing.T) {
	history := &fakeHistory{
		syncs: []*stores.SyncRecord{
			{ID: "s-2", Status: "completed"},
			{ID: "s-1", Status: "error"},
		},
	}
	s := newTestServer(&fakeController{}, history, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/sync/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Syncs []stores.SyncRecord `json:"syncs"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Syncs) != 2 || resp.Syncs[0].ID != "s-2" {
		t.Errorf("unexpected history %+v", resp.Syncs)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/sync/history/s-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing record, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/sync/history/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing record, got %d", rec.Code)
	}
}

func TestDimensionValidate(t *testing.T) {
	s := newTestServer(&fakeController{}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/dimensions/validate",
		`{"name":"env.yaml","content":"vtag_name: environment"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	decodeJSON(t, rec, &resp)
	if !resp.Valid {
		t.Errorf("expected a valid document, got %s", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/api/dimensions/validate",
		`{"name":"env.yaml","content":"broken"}`)
	decodeJSON(t, rec, &resp)
	if resp.Valid {
		t.Error("expected an invalid document")
	}

	rec = doRequest(t, s, http.MethodPost, "/api/dimensions/validate", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d", rec.Code)
	}
}

func TestResolve(t *testing.T) {
	s := newTestServer(&fakeController{}, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/resolve",
		`{"resource":{"id":"arn:aws:ec2:us-east-1:123:instance/i-1","account_id":"123","payer_account":"123","tags":{"env":"prod"}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var mapping engine.ResolvedMapping
	decodeJSON(t, rec, &mapping)
	if mapping.Values["environment"] != "production" {
		t.Errorf("expected environment=production, got %v", mapping.Values)
	}
	if !mapping.Matched {
		t.Error("expected a matched mapping")
	}

	rec = doRequest(t, s, http.MethodPost, "/api/resolve", `{"resource":{"tags":{}}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing resource id, got %d", rec.Code)
	}
}

func TestResourceVTags(t *testing.T) {
	history := &fakeHistory{
		vtags: map[string]map[string]string{
			"r-1": {"environment": "production"},
		},
	}
	s := newTestServer(&fakeController{}, history, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/resources/vtags?resource_id=r-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		VTags map[string]string `json:"vtags"`
	}
	decodeJSON(t, rec, &resp)
	if resp.VTags["environment"] != "production" {
		t.Errorf("unexpected vtags %v", resp.VTags)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/resources/vtags", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without resource_id, got %d", rec.Code)
	}
}

func TestDailyStatsNotFound(t *testing.T) {
	s := newTestServer(&fakeController{}, &fakeHistory{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/stats/daily/2026-01-01", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSyncStream(t *testing.T) {
	controller := &fakeController{
		job:    sync.Job{ID: "job-1", Status: sync.StatusRunning},
		events: make(chan sync.Job, 1),
	}
	controller.events <- sync.Job{ID: "job-1", Status: sync.StatusCompleted}
	close(controller.events)

	s := newTestServer(controller, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/sync/stream", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("unexpected content type %q", got)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"status":"running"`) {
		t.Errorf("expected the initial snapshot in the stream:\n%s", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("expected the published event in the stream:\n%s", body)
	}
	if strings.Count(body, "event: progress") != 2 {
		t.Errorf("expected two events, got:\n%s", body)
	}
}

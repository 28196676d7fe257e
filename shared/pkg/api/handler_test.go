package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/sdd-inspector/pkg/api"
	"github.com/psantana5/sdd-inspector/pkg/auth"
	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/ratelimit"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
	"github.com/psantana5/sdd-inspector/pkg/store"
)

type fakePipeline struct {
	mu        sync.Mutex
	ledger    store.Store
	submitted []models.JobDescriptor
	stopped   bool
}

func (p *fakePipeline) Submit(desc models.JobDescriptor) (*models.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, scheduler.ErrStopped
	}
	if desc.ID == "" {
		desc.ID = fmt.Sprintf("job-%d", len(p.submitted)+1)
	}
	job := models.NewJob(desc)
	if err := p.ledger.CreateJob(job); err != nil {
		return nil, err
	}
	p.submitted = append(p.submitted, desc)
	return job, nil
}

func (p *fakePipeline) Working() bool    { return true }
func (p *fakePipeline) QueueLength() int { return len(p.submitted) }
func (p *fakePipeline) Progress() int64  { return 42 }
func (p *fakePipeline) Current() string  { return "job-1" }

type fakeProducts struct {
	date          string
	height, width int
}

func (f *fakeProducts) SetPendingProduct(date string, height, width int) error {
	if height <= 0 || width <= 0 {
		return fmt.Errorf("invalid stand size %dx%d", width, height)
	}
	f.date, f.height, f.width = date, height, width
	return nil
}

func newTestRouter(t *testing.T, opts api.RouterOptions) (http.Handler, *fakePipeline, *fakeProducts) {
	t.Helper()
	ledger := store.NewMemoryStore()
	pipeline := &fakePipeline{ledger: ledger}
	products := &fakeProducts{}
	h := api.NewHandler(pipeline, ledger, products, api.Paths{InputRoot: "/data/in", OutputRoot: "/data/out"}, nil)
	return api.NewRouter(h, opts), pipeline, products
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSetProduct(t *testing.T) {
	router, _, products := newTestRouter(t, api.RouterOptions{})

	rr := do(router, "POST", "/product", `{"date":"20250401182801","mt_stand_height":350,"mt_stand_width":350}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "20250401182801", products.date)
	assert.Equal(t, 350, products.height)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"date":`},
		{"bad date", `{"date":"2025-04-01","mt_stand_height":350,"mt_stand_width":350}`},
		{"zero size", `{"date":"20250401182801","mt_stand_height":0,"mt_stand_width":350}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/product", tt.body).Code)
		})
	}
}

func TestCreateJobResolvesDirectories(t *testing.T) {
	router, pipeline, _ := newTestRouter(t, api.RouterOptions{})

	rr := do(router, "POST", "/jobs", `{"date":"20250401182801","mt_stand_width":350,"mt_stand_height":350,"save_visual":true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var job models.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusQueued, job.Status)

	require.Len(t, pipeline.submitted, 1)
	desc := pipeline.submitted[0]
	assert.Equal(t, "/data/in/20250401/20250401182801_350x350", desc.InputDir)
	assert.Equal(t, "/data/out/20250401/20250401182801_350x350", desc.OutputDir)
	assert.True(t, desc.SaveVisual)
	assert.Equal(t, models.DefaultFMLength, desc.FMLength)

	rr = do(router, "POST", "/jobs", `{"date":"20250401182801","mt_stand_width":350,"mt_stand_height":350,"sdd_in_path":"/tmp/x","fm_length":120}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "/tmp/x", pipeline.submitted[1].InputDir)
	assert.Equal(t, 120, pipeline.submitted[1].FMLength)

	assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/jobs", `{"date":"bad"}`).Code)

	pipeline.stopped = true
	assert.Equal(t, http.StatusServiceUnavailable,
		do(router, "POST", "/jobs", `{"date":"20250401182801","mt_stand_width":350,"mt_stand_height":350}`).Code)
}

func TestJobQueries(t *testing.T) {
	router, _, _ := newTestRouter(t, api.RouterOptions{})
	require.Equal(t, http.StatusCreated, do(router, "POST", "/jobs", `{"date":"20250401182801","mt_stand_width":350,"mt_stand_height":350}`).Code)
	require.Equal(t, http.StatusCreated, do(router, "POST", "/jobs", `{"date":"20250401183000","mt_stand_width":350,"mt_stand_height":350}`).Code)

	rr := do(router, "GET", "/jobs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Jobs  []models.Job `json:"jobs"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	rr = do(router, "GET", "/jobs?limit=1", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rr = do(router, "GET", "/jobs?status=completed", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Count)

	assert.Equal(t, http.StatusOK, do(router, "GET", "/jobs/job-1", "").Code)
	rr = do(router, "GET", "/jobs/20250401183000", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, "job-2", job.Descriptor.ID)

	assert.Equal(t, http.StatusNotFound, do(router, "GET", "/jobs/missing", "").Code)
}

func TestStatusAndHealth(t *testing.T) {
	router, _, _ := newTestRouter(t, api.RouterOptions{})

	rr := do(router, "GET", "/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"working":true,"queue_length":0,"progress":42,"current_job":"job-1"}`, rr.Body.String())

	rr = do(router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())
}

func TestRouterMiddlewares(t *testing.T) {
	keyAuth, err := auth.NewAPIKeyAuth("k", "/health", "/metrics")
	require.NoError(t, err)
	collector := metrics.NewCollector()
	router, _, _ := newTestRouter(t, api.RouterOptions{Metrics: collector, Auth: keyAuth})

	assert.Equal(t, http.StatusUnauthorized, do(router, "GET", "/status", "").Code)
	assert.Equal(t, http.StatusOK, do(router, "GET", "/health", "").Code)

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("X-API-Key", "k")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sdd_http_requests_total")
}

func TestRouterRateLimit(t *testing.T) {
	router, _, _ := newTestRouter(t, api.RouterOptions{Limiter: ratelimit.NewLimiter(0.001, 2)})

	assert.Equal(t, http.StatusOK, do(router, "GET", "/status", "").Code)
	assert.Equal(t, http.StatusOK, do(router, "GET", "/status", "").Code)
	rr := do(router, "GET", "/status", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestProductWithoutListener(t *testing.T) {
	ledger := store.NewMemoryStore()
	h := api.NewHandler(&fakePipeline{ledger: ledger}, ledger, nil, api.Paths{}, nil)
	router := api.NewRouter(h, api.RouterOptions{})
	assert.Equal(t, http.StatusServiceUnavailable,
		do(router, "POST", "/product", `{"date":"20250401182801","mt_stand_height":350,"mt_stand_width":350}`).Code)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/admission"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/dispatch"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository/memory"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/service"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	store  *memory.Store
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	ctrl := admission.New(store, admission.WithLogger(logger), admission.WithLockTimeout(100*time.Millisecond))
	svc := service.NewCampaignService(store, ctrl, 0, logger)
	d := dispatch.New(store, dispatch.WithLogger(logger))
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	return &testServer{
		t:      t,
		router: NewRouter(NewCampaignHandler(svc, logger), NewWorkHandler(d, logger), cfg),
		store:  store,
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createCampaign(body string) model.Campaign {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/campaigns", body)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Campaign](s.t, rec)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	rec := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCampaignLifecycle(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	c := s.createCampaign(`{"title":"Launch","description":"beta","max_participants":2}`)
	assert.True(t, c.Active)

	rec := s.do(http.MethodGet, "/campaigns", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Campaign](t, rec), 1)

	rec = s.do(http.MethodPost, "/campaigns/"+c.ID+"/applications", `{"user_id":"u1","message":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	app := decode[model.Application](t, rec)
	assert.Equal(t, model.StatusPending, app.Status)

	rec = s.do(http.MethodPost, "/campaigns/"+c.ID+"/applications", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already applied")

	rec = s.do(http.MethodPost, "/campaigns/"+c.ID+"/applications?wait=false", `{"user_id":"u2"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/campaigns/"+c.ID+"/applications", `{"user_id":"u3"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "full")

	rec = s.do(http.MethodGet, "/campaigns/"+c.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[model.CampaignSummary](t, rec)
	assert.Equal(t, 2, summary.Admitted)
	require.NotNil(t, summary.Remaining)
	assert.Zero(t, *summary.Remaining)

	rec = s.do(http.MethodGet, "/campaigns/"+c.ID+"/applications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Application](t, rec), 2)

	rec = s.do(http.MethodPost, "/campaigns/"+c.ID+"/approvals", `{"max":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[admission.BatchResult](t, rec)
	assert.Len(t, res.Approved, 2)
	assert.True(t, res.LimitReached)

	rec = s.do(http.MethodPatch, "/campaigns/"+c.ID, `{"is_active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Campaign](t, rec).Active)

	rec = s.do(http.MethodDelete, "/campaigns/"+c.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/campaigns/"+c.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplicationTransitions(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	c := s.createCampaign(`{"title":"Review"}`)
	rec := s.do(http.MethodPost, "/campaigns/"+c.ID+"/applications", `{"user_id":"u"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	app := decode[model.Application](t, rec)

	rec = s.do(http.MethodPost, "/applications/"+app.ID+"/approve", `{"note":"looks good"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[model.Application](t, rec)
	assert.Equal(t, model.StatusApproved, approved.Status)
	assert.Equal(t, "looks good", approved.AdminNote)

	rec = s.do(http.MethodPost, "/applications/"+app.ID+"/withdraw", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/applications/"+app.ID+"/reject", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/applications/nope/approve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApply_ErrorMapping(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	c := s.createCampaign(`{"title":"Busy","max_participants":5}`)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown campaign", "/campaigns/missing/applications", `{"user_id":"u"}`, http.StatusNotFound},
		{"unknown field", "/campaigns/" + c.ID + "/applications", `{"user_id":"u","extra":1}`, http.StatusBadRequest},
		{"malformed json", "/campaigns/" + c.ID + "/applications", `{"user_id":`, http.StatusBadRequest},
		{"missing user", "/campaigns/" + c.ID + "/applications", `{"user_id":""}`, http.StatusBadRequest},
		{"bad wait flag", "/campaigns/" + c.ID + "/applications?wait=maybe", `{"user_id":"u"}`, http.StatusBadRequest},
		{"bad capacity", "/campaigns", `{"title":"x","max_participants":0}`, http.StatusBadRequest},
		{"bad batch size", "/campaigns/" + c.ID + "/approvals", `{"max":0}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestApply_BusyCampaignIsServiceUnavailable(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	c := s.createCampaign(`{"title":"Hot","max_participants":5}`)

	ctx := context.Background()
	tx, err := s.store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.LockCampaign(ctx, c.ID, repository.LockOptions{Mode: repository.LockNoWait})
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	for _, path := range []string{
		"/campaigns/" + c.ID + "/applications?wait=false",
		"/campaigns/" + c.ID + "/applications",
	} {
		rec := s.do(http.MethodPost, path, `{"user_id":"u"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"), path)
	}
}

func TestWorkQueueEndpoints(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	rec := s.do(http.MethodPost, "/queues/mail/claim", `{"worker_id":"w1"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for i := range 2 {
		rec = s.do(http.MethodPost, "/queues/mail/items", fmt.Sprintf(`{"payload":{"to":"user%d@example.com"}}`, i))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodPost, "/queues/mail/claim", `{"worker_id":"w1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[model.WorkItem](t, rec)
	assert.Equal(t, model.WorkInProgress, first.Status)
	assert.JSONEq(t, `{"to":"user0@example.com"}`, string(first.Payload))

	rec = s.do(http.MethodPost, "/queues/mail/claim", `{"worker_id":"w2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[model.WorkItem](t, rec)
	assert.NotEqual(t, first.ID, second.ID)

	rec = s.do(http.MethodPost, "/work/"+first.ID+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.WorkDone, decode[model.WorkItem](t, rec).Status)

	rec = s.do(http.MethodPost, "/work/"+first.ID+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/work/"+second.ID+"/fail", `{"error":"bounce","requeue":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.WorkPending, decode[model.WorkItem](t, rec).Status)

	rec = s.do(http.MethodGet, "/queues/mail/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.WorkItem](t, rec), 2)

	rec = s.do(http.MethodPost, "/work/missing/complete", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodPost, "/queues/mail/claim", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	s := newTestServer(t, RouterConfig{RateLimiter: NewRateLimiter(1, 2)})

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, s.do(http.MethodGet, "/campaigns", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code, "health is not rate limited")
}

func TestRateLimiter_CleanupForgetsIdleClients(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.limiter("10.0.0.1")

	now = now.Add(time.Hour)
	l.limiter("10.0.0.2")
	l.Cleanup()

	assert.Len(t, l.entries, 1)
	assert.Contains(t, l.entries, "10.0.0.2")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	rec := s.do(http.MethodOptions, "/campaigns", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestServer(t, RouterConfig{
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HTTPMetrics: NewHTTPMetrics(reg),
	})
	s.createCampaign(`{"title":"Metered"}`)

	rec := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `status="201"`)
	assert.NotContains(t, body, `route="unmatched"`)
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := newTestServer(t, RouterConfig{Logger: logger})

	s.do(http.MethodGet, "/campaigns/missing", "")
	assert.Contains(t, buf.String(), `"msg":"http request"`)
	assert.Contains(t, buf.String(), `"status":404`)
	assert.Contains(t, buf.String(), `"path":"/campaigns/missing"`)
}

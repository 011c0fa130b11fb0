package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMKlausv/project-chimera-w0/pkg/approval"
	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/lifecycle"
	"github.com/JMKlausv/project-chimera-w0/pkg/orchestrator"
	"github.com/JMKlausv/project-chimera-w0/pkg/perception"
	"github.com/JMKlausv/project-chimera-w0/pkg/statestore"
)

// rejectAll scores every trend below threshold so submitted workflows end in
// REJECTED without reaching the generation collaborators.
func rejectAll(_ context.Context, _ contracts.Trend, _ []string) (perception.Factors, float64, error) {
	return perception.Factors{}, 0, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := statestore.NewMemoryStore()
	verifier, err := approval.NewVerifier([]byte("test-secret"))
	require.NoError(t, err)
	engine := lifecycle.NewEngine(store, verifier, nil)
	pipeline, err := perception.NewPipeline(nil, perception.ScorerFunc(rejectAll), nil)
	require.NoError(t, err)
	orch := orchestrator.New(engine, store, pipeline, nil,
		nil, nil, nil, nil, contracts.EscalationFunc(func(contracts.EscalationEvent) {}),
		orchestrator.Options{Goals: []string{"brand awareness"}}, nil)
	t.Cleanup(orch.Wait)
	return NewServer(orch, nil, nil)
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func validTrend(id string) contracts.Trend {
	return contracts.Trend{
		ID:        id,
		Topic:     "ai regulation",
		Platform:  contracts.PlatformTwitter,
		Sentiment: contracts.SentimentNeutral,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Engagement: contracts.Engagement{
			Likes: 9000, Comments: 2000, Shares: 1000, Score: 16000,
		},
		DecayScore: 0.8,
	}
}

func TestSubmitAndStatus(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/trends", validTrend("t-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h, "/api/workflows", map[string]string{"trend_id": "t-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	contentID := submitted["content_id"]
	require.NotEmpty(t, contentID)

	// The reject-all scorer drives the workflow to REJECTED.
	assert.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/workflows/"+contentID, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		var status orchestrator.Status
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.State == contracts.StateRejected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitUnknownTrend(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/workflows", map[string]string{"trend_id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "RES_NOT_FOUND", problem.Code)
	assert.Equal(t, http.StatusNotFound, problem.Status)
}

func TestSubmitValidation(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/workflows", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Trend failing schema validation maps through the fault catalog.
	bad := validTrend("t-bad")
	bad.Engagement.Score = 1 // formula mismatch
	rec = postJSON(t, h, "/api/trends", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "VAL_ENGAGEMENT_FORMULA_MISMATCH", problem.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
}

func TestStatusUnknownWorkflow(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/workflows/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := newTestServer(t)
	srv.rl = NewIPRateLimiter(1, 1)
	h := srv.Handler()

	first := httptest.NewRequest(http.MethodGet, "/health", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodGet, "/health", nil)
	second.RemoteAddr = "10.0.0.1:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	// A different client is unaffected.
	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pricewatch/internal/core/domain"
	"github.com/rl1809/pricewatch/internal/core/service"
)

func TestReconcile_ReturnsSummary(t *testing.T) {
	rec := newMockReconciler()
	srv := httptest.NewServer(NewHTTPHandler(rec).Routes())
	defer srv.Close()

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		req, _ := http.NewRequest(method, srv.URL+"/api/reconcile", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)

		var got domain.RunSummary
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, method)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
		assert.Equal(t, domain.RunStatusOK, got.Status)
		assert.Equal(t, 2, got.UpdatedCount)
		assert.Equal(t, []string{"https://shop.test/a", "https://shop.test/b"}, got.Updated)
		require.Len(t, got.Failures, 1)
		assert.Equal(t, domain.StageFetching, got.Failures[0].Stage)
	}
	assert.Equal(t, 2, rec.runCalls())
}

func TestReconcile_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"run in progress", service.ErrRunInProgress, http.StatusConflict},
		{"catalog load", fmt.Errorf("%w: %w", service.ErrCatalogLoad, errors.New("db down")), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newMockReconciler()
			rec.runErr = tt.err

			w := httptest.NewRecorder()
			NewHTTPHandler(rec).Reconcile(w, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))

			assert.Equal(t, tt.status, w.Code)
			var body StatusResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, "FAILED", body.Status)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestReconcile_SurvivesCanceledRequest(t *testing.T) {
	rec := newMockReconciler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", nil).WithContext(ctx)
	NewHTTPHandler(rec).Reconcile(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, rec.ctxErr)
}

func TestReconcile_MethodNotAllowed(t *testing.T) {
	rec := newMockReconciler()
	w := httptest.NewRecorder()
	NewHTTPHandler(rec).Reconcile(w, httptest.NewRequest(http.MethodDelete, "/api/reconcile", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 0, rec.runCalls())
}

func TestLastRun(t *testing.T) {
	rec := newMockReconciler()
	h := NewHTTPHandler(rec)

	w := httptest.NewRecorder()
	h.LastRun(w, httptest.NewRequest(http.MethodGet, "/api/runs/last", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.RunSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "run-1", got.RunID)

	rec.lastErr = service.ErrNoRunRecorded
	w = httptest.NewRecorder()
	h.LastRun(w, httptest.NewRequest(http.MethodGet, "/api/runs/last", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	rec.lastErr = errors.New("redis down")
	w = httptest.NewRecorder()
	h.LastRun(w, httptest.NewRequest(http.MethodGet, "/api/runs/last", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRecentRuns(t *testing.T) {
	rec := newMockReconciler()
	h := NewHTTPHandler(rec)

	w := httptest.NewRecorder()
	h.RecentRuns(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var runs []domain.RunSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	assert.Len(t, runs, 1)
	assert.Equal(t, defaultRunsLimit, rec.limit)

	w = httptest.NewRecorder()
	h.RecentRuns(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=3", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, rec.limit)

	w = httptest.NewRecorder()
	h.RecentRuns(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheckAndRequestID(t *testing.T) {
	routes := NewHTTPHandler(newMockReconciler()).Routes()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	routes.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rl1809/pricewatch/internal/core/domain"
	"github.com/rl1809/pricewatch/internal/core/service"
	"github.com/rl1809/pricewatch/internal/obs"
)

// Reconciler is the part of the reconcile service exposed over the wire.
type Reconciler interface {
	Run(ctx context.Context) (domain.RunSummary, error)
	LastRun(ctx context.Context) (domain.RunSummary, error)
	RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
}

const defaultRunsLimit = 10

type HTTPHandler struct {
	reconciler Reconciler
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewHTTPHandler(reconciler Reconciler) *HTTPHandler {
	return &HTTPHandler{reconciler: reconciler}
}

// Routes registers the handler on a fresh mux and wraps it with the
// request id and access log middleware.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/reconcile", h.Reconcile)
	mux.HandleFunc("/api/runs", h.RecentRuns)
	mux.HandleFunc("/api/runs/last", h.LastRun)
	return WithRequestID(WithLogging(mux))
}

func (h *HTTPHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Runs outlive the trigger request; RunTimeout bounds them.
	summary, err := h.reconciler.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		status := http.StatusInternalServerError
		message := "internal error"

		if errors.Is(err, service.ErrRunInProgress) {
			status = http.StatusConflict
			message = "reconciliation already running"
		} else if errors.Is(err, service.ErrCatalogLoad) {
			status = http.StatusServiceUnavailable
			message = err.Error()
		}

		obs.Logger.Warn("reconcile_rejected", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeJSON(w, status, StatusResponse{
			Status:  string(domain.RunStatusFailed),
			Message: message,
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) LastRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := h.reconciler.LastRun(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrNoRunRecorded) {
			writeJSON(w, http.StatusNotFound, StatusResponse{Status: "NOT_FOUND", Message: "no run recorded"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Status: "ERROR", Message: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, StatusResponse{Status: "ERROR", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.reconciler.RecentRuns(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Status: "ERROR", Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

package handler

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

type mockReconciler struct {
	mu      sync.Mutex
	summary domain.RunSummary
	runErr  error
	lastErr error
	calls   int
	ctxErr  error
	limit   int
}

func newMockReconciler() *mockReconciler {
	return &mockReconciler{
		summary: domain.RunSummary{
			RunID:            "run-1",
			Status:           domain.RunStatusOK,
			StartedAt:        time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
			FinishedAt:       time.Date(2026, 5, 1, 8, 0, 3, 0, time.UTC),
			UpdatedCount:     2,
			Updated:          []string{"https://shop.test/a", "https://shop.test/b"},
			Failures:         []domain.ItemFailure{{Identity: "https://shop.test/c", Stage: domain.StageFetching, Reason: "fetch failed"}},
			Notified:         1,
			DispatchFailures: []domain.ItemFailure{},
		},
	}
}

func (m *mockReconciler) Run(ctx context.Context) (domain.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.ctxErr = ctx.Err()
	if m.runErr != nil {
		return domain.RunSummary{Status: domain.RunStatusFailed}, m.runErr
	}
	return m.summary, nil
}

func (m *mockReconciler) LastRun(ctx context.Context) (domain.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr != nil {
		return domain.RunSummary{}, m.lastErr
	}
	return m.summary, nil
}

func (m *mockReconciler) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	return []domain.RunSummary{m.summary}, nil
}

func (m *mockReconciler) runCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

package port

import (
	"context"
	"time"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

type DispatchLedger interface {
	// Reserve sets a key for idempotency check, returns false if already exists
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release removes a reservation (for rollback on failed send)
	Release(ctx context.Context, key string) error
}

type RunLock interface {
	// Lock takes the run lock, returns false if another run holds it
	Lock(ctx context.Context, token string, ttl time.Duration) (bool, error)

	// Unlock frees the lock only if token still owns it
	Unlock(ctx context.Context, token string) error
}

type RunRecorder interface {
	SaveRun(ctx context.Context, summary domain.RunSummary) error

	// LastRun returns nil when no run has been recorded
	LastRun(ctx context.Context) (*domain.RunSummary, error)

	// RecentRuns returns up to limit summaries, newest first
	RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
}

package port

import (
	"context"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

type ItemRepository interface {
	// LoadAll returns the whole catalog with histories and subscribers
	LoadAll(ctx context.Context) ([]domain.TrackedItem, error)

	// Upsert writes the item keyed by identity with a version check for optimistic locking
	Upsert(ctx context.Context, identity string, item domain.TrackedItem) error
}

package port

import (
	"context"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

type ObservationFetcher interface {
	// Fetch returns a fresh observation for the item behind identity
	Fetch(ctx context.Context, identity string) (domain.ObservedSnapshot, error)
}

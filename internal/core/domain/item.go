package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
	AvailabilityUnknown    Availability = "unknown"
)

type PriceObservation struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

type Subscriber struct {
	Email string
}

// TrackedItem is one catalog entry. The aggregate fields are derived from
// PriceHistory and are only ever written together with it.
type TrackedItem struct {
	Identity     string
	Title        string
	CurrentPrice decimal.Decimal
	Availability Availability
	PriceHistory []PriceObservation
	LowestPrice  decimal.Decimal
	HighestPrice decimal.Decimal
	AveragePrice decimal.Decimal
	Subscribers  []Subscriber
	Version      int // optimistic locking
	UpdatedAt    time.Time
}

// Recipients returns the subscriber addresses, normalized and unique, in
// subscription order.
func (t TrackedItem) Recipients() []string {
	seen := make(map[string]struct{}, len(t.Subscribers))
	out := make([]string, 0, len(t.Subscribers))
	for _, s := range t.Subscribers {
		addr := NormalizeEmail(s.Email)
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingIdentity = errors.New("snapshot has no identity")
	ErrNegativePrice   = errors.New("snapshot price is negative")
)

// ObservedSnapshot is the transient result of one fetch.
type ObservedSnapshot struct {
	Identity     string
	Title        string
	CurrentPrice decimal.Decimal
	Availability Availability
	ObservedAt   time.Time
}

func (s ObservedSnapshot) Validate() error {
	if s.Identity == "" {
		return ErrMissingIdentity
	}
	if s.CurrentPrice.IsNegative() {
		return ErrNegativePrice
	}
	return nil
}

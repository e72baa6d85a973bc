package service

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

var hundred = decimal.NewFromInt(100)

// Classifier decides which notification, if any, a refresh warrants.
// A zero ThresholdPercent disables threshold classification.
type Classifier struct {
	ThresholdPercent decimal.Decimal
}

func NewClassifier(thresholdPercent float64) Classifier {
	if thresholdPercent < 0 {
		thresholdPercent = 0
	}
	return Classifier{ThresholdPercent: decimal.NewFromFloat(thresholdPercent)}
}

// Classify compares the item as it was before this cycle with the fresh
// observation. Rules are checked in order and the first match wins:
// back in stock, lowest ever, then a drop against the prior current price
// (threshold crossed when the drop reaches ThresholdPercent, price drop
// otherwise). Rules read the prior state; next only feeds the event payload.
func (c Classifier) Classify(prior domain.TrackedItem, fresh domain.ObservedSnapshot, next domain.Aggregates) *domain.NotificationEvent {
	if len(prior.PriceHistory) == 0 {
		return nil
	}
	if fresh.Availability == domain.AvailabilityOutOfStock {
		return nil
	}

	event := func(kind domain.EventKind) *domain.NotificationEvent {
		title := fresh.Title
		if title == "" {
			title = prior.Title
		}
		return &domain.NotificationEvent{
			Kind:       kind,
			Identity:   prior.Identity,
			Sequence:   len(prior.PriceHistory) + 1,
			Title:      title,
			PriorPrice: prior.CurrentPrice,
			NewPrice:   fresh.CurrentPrice,
			Lowest:     next.Lowest,
			Average:    next.Average,
		}
	}

	if prior.Availability == domain.AvailabilityOutOfStock && fresh.Availability == domain.AvailabilityInStock {
		return event(domain.EventBackInStock)
	}

	if fresh.CurrentPrice.LessThan(prior.LowestPrice) {
		return event(domain.EventLowestEver)
	}

	if !fresh.CurrentPrice.LessThan(prior.CurrentPrice) {
		return nil
	}
	if c.thresholdEnabled() && c.dropPercent(prior.CurrentPrice, fresh.CurrentPrice).GreaterThanOrEqual(c.ThresholdPercent) {
		return event(domain.EventThresholdCrossed)
	}
	return event(domain.EventPriceDrop)
}

func (c Classifier) thresholdEnabled() bool {
	return c.ThresholdPercent.IsPositive()
}

func (c Classifier) dropPercent(prior, fresh decimal.Decimal) decimal.Decimal {
	if !prior.IsPositive() {
		return decimal.Zero
	}
	return prior.Sub(fresh).Mul(hundred).Div(prior)
}

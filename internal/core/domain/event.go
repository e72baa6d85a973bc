package domain

import "github.com/shopspring/decimal"

type EventKind string

const (
	EventBackInStock      EventKind = "back_in_stock"
	EventLowestEver       EventKind = "lowest_ever"
	EventPriceDrop        EventKind = "price_drop"
	EventThresholdCrossed EventKind = "threshold_crossed"
)

// EventKinds lists every kind in precedence order.
var EventKinds = []EventKind{
	EventBackInStock,
	EventLowestEver,
	EventPriceDrop,
	EventThresholdCrossed,
}

type NotificationEvent struct {
	Kind     EventKind
	Identity string
	// Sequence is the history position of the observation that raised the
	// event, so a repeated transition gets a new key.
	Sequence   int
	Title      string
	PriorPrice decimal.Decimal
	NewPrice   decimal.Decimal
	Lowest     decimal.Decimal
	Average    decimal.Decimal
}

type Aggregates struct {
	Lowest  decimal.Decimal
	Highest decimal.Decimal
	Average decimal.Decimal
}

type Delivery string

const (
	DeliverySent      Delivery = "sent"
	DeliverySkipped   Delivery = "skipped"
	DeliveryDuplicate Delivery = "duplicate"
)

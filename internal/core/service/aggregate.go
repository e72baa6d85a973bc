package service

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

// ComputeAggregates returns lowest, highest and mean price of history.
func ComputeAggregates(history []domain.PriceObservation) (domain.Aggregates, error) {
	if len(history) == 0 {
		return domain.Aggregates{}, ErrEmptyHistory
	}

	lowest := history[0].Price
	highest := history[0].Price
	sum := decimal.Zero
	for _, o := range history {
		if o.Price.LessThan(lowest) {
			lowest = o.Price
		}
		if o.Price.GreaterThan(highest) {
			highest = o.Price
		}
		sum = sum.Add(o.Price)
	}

	return domain.Aggregates{
		Lowest:  lowest,
		Highest: highest,
		Average: sum.Div(decimal.NewFromInt(int64(len(history)))),
	}, nil
}

package rail

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FXProvider returns how many units of to one unit of from buys. The rate is
// treated as an opaque number.
type FXProvider interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// FixedRates quotes configured rates into a single target token.
type FixedRates struct {
	target string
	rates  map[string]decimal.Decimal
}

func NewFixedRates(target string, rates map[string]decimal.Decimal) *FixedRates {
	normalised := make(map[string]decimal.Decimal, len(rates))
	for token, rate := range rates {
		normalised[strings.ToUpper(token)] = rate
	}
	return &FixedRates{target: strings.ToUpper(target), rates: normalised}
}

func (f *FixedRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if to != f.target {
		return decimal.Zero, fmt.Errorf("no rates into %s", to)
	}
	rate, ok := f.rates[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s/%s rate configured", from, to)
	}
	return rate, nil
}

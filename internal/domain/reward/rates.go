package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnsupportedPair = errors.New("unsupported conversion pair")

// maxRateScale keeps amount x rate exact within the converted_points column.
const maxRateScale = 6

type RateProvider interface {
	Rate(ctx context.Context, from, to PointType) (decimal.Decimal, error)
}

type pair struct{ from, to PointType }

// StaticRates is a fixed rate table loaded from configuration.
type StaticRates map[pair]decimal.Decimal

func (r StaticRates) Rate(_ context.Context, from, to PointType) (decimal.Decimal, error) {
	rate, ok := r[pair{from, to}]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s to %s", ErrUnsupportedPair, from, to)
	}
	return rate, nil
}

// ParseRates reads "From:To=rate" pairs separated by commas, e.g.
// "Noncashable:Cashable=0.1,Cashable:Money=1".
func ParseRates(spec string) (StaticRates, error) {
	rates := make(StaticRates)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		pairStr, rateStr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("rate entry %q: missing '='", entry)
		}
		fromStr, toStr, ok := strings.Cut(strings.TrimSpace(pairStr), ":")
		if !ok {
			return nil, fmt.Errorf("rate entry %q: expected From:To", entry)
		}

		from, err := ParsePointType(strings.TrimSpace(fromStr))
		if err != nil {
			return nil, fmt.Errorf("rate entry %q: %w", entry, err)
		}
		to, err := ParsePointType(strings.TrimSpace(toStr))
		if err != nil {
			return nil, fmt.Errorf("rate entry %q: %w", entry, err)
		}
		if from == to {
			return nil, fmt.Errorf("rate entry %q: from and to must differ", entry)
		}
		if from == PointNoncashable && to == PointMoney {
			return nil, fmt.Errorf("rate entry %q: non-cashable points cannot be encashed", entry)
		}

		rate, err := decimal.NewFromString(strings.TrimSpace(rateStr))
		if err != nil {
			return nil, fmt.Errorf("rate entry %q: %w", entry, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate entry %q: rate must be positive", entry)
		}
		if !rate.Equal(rate.Truncate(maxRateScale)) {
			return nil, fmt.Errorf("rate entry %q: at most %d decimal places", entry, maxRateScale)
		}

		p := pair{from, to}
		if _, dup := rates[p]; dup {
			return nil, fmt.Errorf("rate entry %q: duplicate pair", entry)
		}
		rates[p] = rate
	}
	return rates, nil
}

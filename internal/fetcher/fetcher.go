package fetcher

import (
	"context"
	"errors"
)

// ErrPoolNotFound is returned when a provider has no data for the requested pool.
var ErrPoolNotFound = errors.New("pool not found")

// Series holds daily-aligned samples for one pool, oldest first. Any slice may be
// empty when the provider does not carry that measure.
type Series struct {
	PoolID string
	Prices []float64
	TVL    []float64
	APY    []float64 // percent
}

// Len reports the longest of the carried series.
func (s Series) Len() int {
	n := len(s.Prices)
	if len(s.TVL) > n {
		n = len(s.TVL)
	}
	if len(s.APY) > n {
		n = len(s.APY)
	}
	return n
}

// SeriesFetcher retrieves raw series for a pool over the trailing rangeDays.
// Implementations must honour ctx cancellation.
type SeriesFetcher interface {
	FetchSeries(ctx context.Context, poolID string, rangeDays int) (Series, error)
}

package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeriesPoint is one daily observation of a pool.
type SeriesPoint struct {
	PoolID string
	Day    time.Time
	Price  *decimal.Decimal
	TVLUSD *decimal.Decimal
	APYPct *decimal.Decimal
}

// MetricsSnapshot captures a computed metrics result for history and auditing.
type MetricsSnapshot struct {
	PoolID      string
	ComputedAt  time.Time
	Volatility  float64
	SharpeRatio float64
	MaxDrawdown float64
	RiskScore   float64
	RiskLevel   string
	Samples     int
	CreatedAt   time.Time
}

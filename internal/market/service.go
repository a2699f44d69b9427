package market

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"defi-risk-metrics/internal/cache"
	"defi-risk-metrics/internal/fetcher"
	"defi-risk-metrics/internal/risk"
)

const (
	maxPoolIDLength = 128

	defaultRangeDays       = 30
	defaultProviderTimeout = 15 * time.Second
)

var (
	// ErrInvalidPoolID rejects empty or malformed identifiers before any work is done.
	ErrInvalidPoolID = errors.New("invalid pool id")
	// ErrProviderTimeout marks a provider call that exceeded its deadline.
	ErrProviderTimeout = errors.New("provider timeout")
)

// ProviderError carries an upstream failure. Error returns the provider message unchanged.
type ProviderError struct {
	PoolID  string
	Timeout bool
	Err     error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CacheStatus reports whether a result was served from cache or computed.
type CacheStatus string

const (
	CacheStatusCached   CacheStatus = "cached"
	CacheStatusComputed CacheStatus = "computed"
)

// MarketMetrics is the computed risk profile of one pool.
type MarketMetrics struct {
	PoolID      string       `json:"poolId"`
	Volatility  float64      `json:"volatility"`
	SharpeRatio float64      `json:"sharpeRatio"`
	MaxDrawdown float64      `json:"maxDrawdown"`
	RiskScore   float64      `json:"riskScore"`
	RiskLevel   risk.Level   `json:"riskLevel"`
	Factors     risk.Factors `json:"factors"`
	Samples     int          `json:"samples"`
	LatestTVL   float64      `json:"latestTvl"`
	LatestAPY   float64      `json:"latestApy"`
	ComputedAt  time.Time    `json:"computedAt"`
}

// Result wraps metrics with per-request metadata.
type Result struct {
	Metrics        MarketMetrics
	RequestID      string
	Timestamp      time.Time
	ProcessingTime time.Duration
	CacheStatus    CacheStatus
}

// OperationalMetrics aggregates service counters with cache statistics.
type OperationalMetrics struct {
	Requests            uint64      `json:"requests"`
	Cached              uint64      `json:"cached"`
	Computed            uint64      `json:"computed"`
	Failures            uint64      `json:"failures"`
	AvgProcessingTimeMs float64     `json:"avgProcessingTimeMs"`
	Cache               cache.Stats `json:"cache"`
}

// Options tune the service.
type Options struct {
	// CacheTTL is passed to every cache write. Zero uses the cache default.
	CacheTTL        time.Duration
	ProviderTimeout time.Duration
	RangeDays       int
	RiskFreeRate    float64
	// Registerer receives the service instruments. Nil disables Prometheus export.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Service computes pool risk metrics through the cache.
type Service struct {
	opts     Options
	provider fetcher.SeriesFetcher
	cache    *cache.Cache[MarketMetrics]
	logger   zerolog.Logger
	group    singleflight.Group
	now      func() time.Time

	requests        atomic.Uint64
	cached          atomic.Uint64
	computed        atomic.Uint64
	failures        atomic.Uint64
	processingNanos atomic.Int64

	requestsTotal   *prometheus.CounterVec
	computeDuration prometheus.Histogram
}

// New constructs the service. A nil metrics cache gets a default one.
func New(opts Options, provider fetcher.SeriesFetcher, metricsCache *cache.Cache[MarketMetrics], logger zerolog.Logger) *Service {
	if opts.RangeDays <= 0 {
		opts.RangeDays = defaultRangeDays
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if metricsCache == nil {
		metricsCache = cache.New[MarketMetrics](cache.Options{DefaultTTL: opts.CacheTTL, Now: now})
	}

	s := &Service{
		opts:     opts,
		provider: provider,
		cache:    metricsCache,
		logger:   logger.With().Str("component", "market_service").Logger(),
		now:      now,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskmetrics",
			Name:      "market_metrics_requests_total",
			Help:      "Market metrics requests by outcome.",
		}, []string{"outcome"}),
		computeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "riskmetrics",
			Name:      "market_metrics_compute_seconds",
			Help:      "Provider fetch plus computation latency for cache misses.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if opts.Registerer != nil {
		opts.Registerer.MustRegister(
			s.requestsTotal,
			s.computeDuration,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "riskmetrics",
				Name:      "cache_entries",
				Help:      "Live entries in the metrics cache.",
			}, func() float64 { return float64(s.cache.Len()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "riskmetrics",
				Name:      "cache_hit_rate",
				Help:      "Cache hits divided by lookups since the last stats reset.",
			}, func() float64 { return s.cache.Stats().HitRate }),
		)
	}

	return s
}

// GetMarketMetrics returns metrics for poolID, serving from cache when a live entry exists.
func (s *Service) GetMarketMetrics(ctx context.Context, poolID string) (Result, error) {
	start := s.now()
	requestID := NewRequestID(start)
	s.requests.Add(1)

	id, err := NormalizePoolID(poolID)
	if err != nil {
		s.fail(requestID, err)
		return Result{RequestID: requestID, Timestamp: start}, err
	}

	if metrics, ok := s.cache.Get(id); ok {
		s.cached.Add(1)
		s.requestsTotal.WithLabelValues(string(CacheStatusCached)).Inc()
		return s.finish(start, requestID, metrics, CacheStatusCached), nil
	}

	// Cold requests for one pool share a single provider call. The shared call runs
	// detached from any one caller so a cancelled caller does not fail the others.
	ch := s.group.DoChan(id, func() (interface{}, error) {
		return s.compute(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = &ProviderError{PoolID: id, Timeout: true, Err: fmt.Errorf("%w: %v", ErrProviderTimeout, err)}
		}
		s.fail(requestID, err)
		return Result{RequestID: requestID, Timestamp: start}, err
	case res := <-ch:
		if res.Err != nil {
			s.fail(requestID, res.Err)
			return Result{RequestID: requestID, Timestamp: start}, res.Err
		}
		s.computed.Add(1)
		s.requestsTotal.WithLabelValues(string(CacheStatusComputed)).Inc()
		return s.finish(start, requestID, res.Val.(MarketMetrics), CacheStatusComputed), nil
	}
}

func (s *Service) compute(ctx context.Context, poolID string) (MarketMetrics, error) {
	started := time.Now()
	defer func() { s.computeDuration.Observe(time.Since(started).Seconds()) }()

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()

	series, err := s.provider.FetchSeries(fetchCtx, poolID, s.opts.RangeDays)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return MarketMetrics{}, &ProviderError{
				PoolID:  poolID,
				Timeout: true,
				Err:     fmt.Errorf("%w after %s", ErrProviderTimeout, s.opts.ProviderTimeout),
			}
		}
		return MarketMetrics{}, &ProviderError{PoolID: poolID, Err: err}
	}

	metrics := Compute(series, s.opts.RiskFreeRate, s.now())
	metrics.PoolID = poolID
	s.cache.Set(poolID, metrics, s.opts.CacheTTL)

	s.logger.Debug().
		Str("pool_id", poolID).
		Int("samples", metrics.Samples).
		Float64("risk_score", metrics.RiskScore).
		Str("risk_level", string(metrics.RiskLevel)).
		Msg("metrics computed")
	return metrics, nil
}

// Compute derives metrics from a raw series. Prices drive the return-based metrics when
// at least two are present; TVL stands in otherwise.
func Compute(series fetcher.Series, riskFreeRate float64, now time.Time) MarketMetrics {
	values := series.Prices
	if len(values) < 2 {
		values = series.TVL
	}

	volatility := risk.CalculateVolatility(values)
	latestAPY := last(series.APY)
	factors := risk.DeriveFactors(risk.FactorInputs{
		Values:     values,
		TVL:        series.TVL,
		LatestAPY:  latestAPY,
		Volatility: volatility,
	})
	score := risk.CalculateRiskScore(factors)

	return MarketMetrics{
		PoolID:      series.PoolID,
		Volatility:  volatility,
		SharpeRatio: risk.CalculateSharpeRatio(risk.Returns(values), riskFreeRate),
		MaxDrawdown: risk.CalculateMaxDrawdown(values),
		RiskScore:   score,
		RiskLevel:   risk.GetRiskLevel(score),
		Factors:     factors,
		Samples:     len(values),
		LatestTVL:   last(series.TVL),
		LatestAPY:   latestAPY,
		ComputedAt:  now.UTC(),
	}
}

// Invalidate drops the cached entry for poolID.
func (s *Service) Invalidate(poolID string) bool {
	id, err := NormalizePoolID(poolID)
	if err != nil {
		return false
	}
	return s.cache.Delete(id)
}

// ClearCache removes every cached entry. Hit and miss counters are kept.
func (s *Service) ClearCache() {
	s.cache.Clear()
	s.logger.Info().Msg("metrics cache cleared")
}

// ResetCacheStats zeroes the cache counters.
func (s *Service) ResetCacheStats() {
	s.cache.ResetStats()
}

// SweepCache removes expired entries and reports how many were dropped.
func (s *Service) SweepCache() int {
	return s.cache.Sweep()
}

// CacheStats snapshots the cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Metrics reports service counters merged with cache statistics.
func (s *Service) Metrics() OperationalMetrics {
	cached := s.cached.Load()
	computed := s.computed.Load()

	var avg float64
	if served := cached + computed; served > 0 {
		avg = float64(s.processingNanos.Load()) / float64(served) / float64(time.Millisecond)
	}

	return OperationalMetrics{
		Requests:            s.requests.Load(),
		Cached:              cached,
		Computed:            computed,
		Failures:            s.failures.Load(),
		AvgProcessingTimeMs: avg,
		Cache:               s.cache.Stats(),
	}
}

func (s *Service) finish(start time.Time, requestID string, metrics MarketMetrics, status CacheStatus) Result {
	elapsed := s.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	s.processingNanos.Add(int64(elapsed))
	return Result{
		Metrics:        metrics,
		RequestID:      requestID,
		Timestamp:      start.UTC(),
		ProcessingTime: elapsed,
		CacheStatus:    status,
	}
}

func (s *Service) fail(requestID string, err error) {
	s.failures.Add(1)
	s.requestsTotal.WithLabelValues("error").Inc()
	s.logger.Warn().Err(err).Str("request_id", requestID).Msg("market metrics request failed")
}

// NormalizePoolID trims id and rejects empty, oversized, or whitespace-bearing values.
func NormalizePoolID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPoolID)
	}
	if len(trimmed) > maxPoolIDLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidPoolID, maxPoolIDLength)
	}
	for _, r := range trimmed {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidPoolID)
		}
	}
	return trimmed, nil
}

// NewRequestID builds req_<unix millis>_<8 hex chars>.
func NewRequestID(now time.Time) string {
	u := uuid.New()
	return "req_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + hex.EncodeToString(u[:4])
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

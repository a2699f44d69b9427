package warmer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"defi-risk-metrics/internal/alerting"
	"defi-risk-metrics/internal/market"
	"defi-risk-metrics/internal/risk"
	"defi-risk-metrics/internal/storage"
)

const defaultConcurrency = 4

// MetricsSource is the subset of market.Service the warmer drives.
type MetricsSource interface {
	GetMarketMetrics(ctx context.Context, poolID string) (market.Result, error)
	SweepCache() int
}

// Options tune the warm job.
type Options struct {
	Pools []string
	// Concurrency bounds parallel pool computations.
	Concurrency int
	// SnapshotRetention prunes older snapshots when positive.
	SnapshotRetention time.Duration
	AlertsEnabled     bool
	// AlertCooldown is the minimum gap between repeated alerts for a pool that stays high.
	AlertCooldown time.Duration
}

// Job keeps configured pools warm in the metrics cache, records snapshots and raises
// alerts for pools at high risk.
type Job struct {
	opts     Options
	svc      MetricsSource
	store    storage.SnapshotStore
	notifier alerting.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastLevel map[string]risk.Level
	lastAlert map[string]time.Time
}

// New builds a warm job. store and notifier may be nil.
func New(opts Options, svc MetricsSource, store storage.SnapshotStore, notifier alerting.Notifier, logger zerolog.Logger) *Job {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Job{
		opts:      opts,
		svc:       svc,
		store:     store,
		notifier:  notifier,
		logger:    logger.With().Str("component", "warmer").Logger(),
		now:       time.Now,
		lastLevel: make(map[string]risk.Level),
		lastAlert: make(map[string]time.Time),
	}
}

// Tick runs one warm cycle. It matches scheduler.TickFunc.
func (j *Job) Tick(ctx context.Context, bucket time.Time) error {
	swept := j.svc.SweepCache()

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Concurrency)
	for _, pool := range j.opts.Pools {
		pool := pool
		g.Go(func() error {
			if err := j.warmPool(gctx, pool); err != nil {
				failed.Add(1)
				j.logger.Warn().Err(err).Str("pool_id", pool).Msg("warm pool failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if j.store != nil && j.opts.SnapshotRetention > 0 {
		cutoff := j.now().Add(-j.opts.SnapshotRetention)
		if err := j.store.DeleteSnapshotsBefore(ctx, cutoff); err != nil {
			j.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune snapshots")
		}
	}

	j.logger.Info().
		Time("bucket", bucket).
		Int("pools", len(j.opts.Pools)).
		Int32("failed", failed.Load()).
		Int("swept", swept).
		Msg("warm cycle finished")

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("warm cycle: %d of %d pools failed", n, len(j.opts.Pools))
	}
	return nil
}

func (j *Job) warmPool(ctx context.Context, pool string) error {
	res, err := j.svc.GetMarketMetrics(ctx, pool)
	if err != nil {
		return err
	}

	if j.store != nil && res.CacheStatus == market.CacheStatusComputed {
		if err := j.store.UpsertSnapshot(ctx, snapshotFrom(res.Metrics)); err != nil {
			j.logger.Error().Err(err).Str("pool_id", pool).Msg("failed to persist snapshot")
		}
	}

	if note, ok := j.shouldAlert(res.Metrics); ok && j.notifier != nil {
		if err := j.notifier.Notify(ctx, note); err != nil {
			j.logger.Error().Err(err).Str("pool_id", pool).Msg("failed to dispatch alert")
		}
	}
	return nil
}

// shouldAlert records the pool level and reports whether an alert is due: the pool is
// high and either just became high or the cooldown since the last alert has passed.
func (j *Job) shouldAlert(m market.MarketMetrics) (alerting.Notification, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	previous := j.lastLevel[m.PoolID]
	j.lastLevel[m.PoolID] = m.RiskLevel

	if !j.opts.AlertsEnabled || m.RiskLevel != risk.LevelHigh {
		return alerting.Notification{}, false
	}

	now := j.now()
	if last, ok := j.lastAlert[m.PoolID]; ok && previous == risk.LevelHigh && now.Sub(last) < j.opts.AlertCooldown {
		return alerting.Notification{}, false
	}
	j.lastAlert[m.PoolID] = now

	return alerting.Notification{
		PoolID:        m.PoolID,
		ComputedAt:    m.ComputedAt,
		RiskScore:     m.RiskScore,
		RiskLevel:     string(m.RiskLevel),
		PreviousLevel: string(previous),
		Volatility:    m.Volatility,
		SharpeRatio:   m.SharpeRatio,
		MaxDrawdown:   m.MaxDrawdown,
		LatestTVL:     m.LatestTVL,
		LatestAPY:     m.LatestAPY,
	}, true
}

func snapshotFrom(m market.MarketMetrics) storage.MetricsSnapshot {
	return storage.MetricsSnapshot{
		PoolID:      m.PoolID,
		ComputedAt:  m.ComputedAt,
		Volatility:  m.Volatility,
		SharpeRatio: m.SharpeRatio,
		MaxDrawdown: m.MaxDrawdown,
		RiskScore:   m.RiskScore,
		RiskLevel:   string(m.RiskLevel),
		Samples:     m.Samples,
	}
}

package warmer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defi-risk-metrics/internal/alerting"
	"defi-risk-metrics/internal/market"
	"defi-risk-metrics/internal/risk"
	"defi-risk-metrics/internal/storage"
)

type fakeSource struct {
	mu      sync.Mutex
	metrics map[string]market.MarketMetrics
	status  market.CacheStatus
	errs    map[string]error
	sweeps  int
}

func (f *fakeSource) GetMarketMetrics(ctx context.Context, poolID string) (market.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[poolID]; err != nil {
		return market.Result{}, err
	}
	return market.Result{Metrics: f.metrics[poolID], CacheStatus: f.status}, nil
}

func (f *fakeSource) SweepCache() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0
}

func (f *fakeSource) setLevel(pool string, level risk.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.metrics[pool]
	m.RiskLevel = level
	f.metrics[pool] = m
}

type fakeStore struct {
	mu       sync.Mutex
	snaps    []storage.MetricsSnapshot
	prunedAt []time.Time
}

func (s *fakeStore) UpsertSnapshot(ctx context.Context, snap storage.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *fakeStore) ListRecentSnapshots(ctx context.Context, limit int) ([]storage.MetricsSnapshot, error) {
	return nil, nil
}

func (s *fakeStore) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunedAt = append(s.prunedAt, olderThan)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func newSource() *fakeSource {
	return &fakeSource{
		status: market.CacheStatusComputed,
		metrics: map[string]market.MarketMetrics{
			"pool-A": {PoolID: "pool-A", RiskScore: 20, RiskLevel: risk.LevelLow, Samples: 30},
			"pool-B": {PoolID: "pool-B", RiskScore: 80, RiskLevel: risk.LevelHigh, Samples: 30},
		},
		errs: map[string]error{},
	}
}

func TestTickWarmsPoolsAndPersists(t *testing.T) {
	src := newSource()
	store := &fakeStore{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	job := New(Options{Pools: []string{"pool-A", "pool-B"}, SnapshotRetention: 24 * time.Hour}, src, store, nil, zerolog.Nop())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Tick(context.Background(), now))
	assert.Equal(t, 1, src.sweeps)
	assert.Len(t, store.snaps, 2)
	require.Len(t, store.prunedAt, 1)
	assert.Equal(t, now.Add(-24*time.Hour), store.prunedAt[0])

	src.status = market.CacheStatusCached
	require.NoError(t, job.Tick(context.Background(), now))
	assert.Len(t, store.snaps, 2, "cached results are not snapshotted again")
}

func TestTickReportsFailures(t *testing.T) {
	src := newSource()
	src.errs["pool-A"] = errors.New("upstream down")

	job := New(Options{Pools: []string{"pool-A", "pool-B"}}, src, nil, nil, zerolog.Nop())
	err := job.Tick(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 pools failed")
}

func TestAlertsOnHighRiskWithCooldown(t *testing.T) {
	src := newSource()
	notifier := &fakeNotifier{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	job := New(Options{
		Pools:         []string{"pool-A", "pool-B"},
		AlertsEnabled: true,
		AlertCooldown: time.Hour,
	}, src, nil, notifier, zerolog.Nop())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Tick(context.Background(), now))
	require.Equal(t, 1, notifier.count(), "only the high pool alerts")
	assert.Equal(t, "pool-B", notifier.notes[0].PoolID)
	assert.Equal(t, "high", notifier.notes[0].RiskLevel)

	now = now.Add(30 * time.Minute)
	require.NoError(t, job.Tick(context.Background(), now))
	assert.Equal(t, 1, notifier.count(), "cooldown suppresses repeats")

	now = now.Add(31 * time.Minute)
	require.NoError(t, job.Tick(context.Background(), now))
	assert.Equal(t, 2, notifier.count(), "cooldown elapsed")

	src.setLevel("pool-A", risk.LevelHigh)
	now = now.Add(time.Minute)
	require.NoError(t, job.Tick(context.Background(), now))
	require.Equal(t, 3, notifier.count(), "a pool turning high alerts at once")
	assert.Equal(t, "pool-A", notifier.notes[2].PoolID)
	assert.Equal(t, "low", notifier.notes[2].PreviousLevel)
}

func TestAlertsDisabled(t *testing.T) {
	notifier := &fakeNotifier{}
	job := New(Options{Pools: []string{"pool-B"}}, newSource(), nil, notifier, zerolog.Nop())
	require.NoError(t, job.Tick(context.Background(), time.Now()))
	assert.Zero(t, notifier.count())
}

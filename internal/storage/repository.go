package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"defi-risk-metrics/internal/fetcher"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS pool_series (
    pool_id    TEXT        NOT NULL,
    day        DATE        NOT NULL,
    price      NUMERIC,
    tvl_usd    NUMERIC,
    apy_pct    NUMERIC,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (pool_id, day)
);

CREATE TABLE IF NOT EXISTS metrics_snapshots (
    pool_id      TEXT             NOT NULL,
    computed_at  TIMESTAMPTZ      NOT NULL,
    volatility   DOUBLE PRECISION NOT NULL,
    sharpe_ratio DOUBLE PRECISION NOT NULL,
    max_drawdown DOUBLE PRECISION NOT NULL,
    risk_score   DOUBLE PRECISION NOT NULL,
    risk_level   TEXT             NOT NULL,
    samples      INTEGER          NOT NULL,
    created_at   TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (pool_id, computed_at)
);`

	upsertSeriesPointSQL = `INSERT INTO pool_series (
        pool_id,
        day,
        price,
        tvl_usd,
        apy_pct
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (pool_id, day) DO UPDATE
    SET
        price   = EXCLUDED.price,
        tvl_usd = EXCLUDED.tvl_usd,
        apy_pct = EXCLUDED.apy_pct;`

	listSeriesSinceSQL = `SELECT
        day,
        price::TEXT,
        tvl_usd::TEXT,
        apy_pct::TEXT
    FROM pool_series
    WHERE pool_id = $1
      AND day >= $2
    ORDER BY day;`

	upsertSnapshotSQL = `INSERT INTO metrics_snapshots (
        pool_id,
        computed_at,
        volatility,
        sharpe_ratio,
        max_drawdown,
        risk_score,
        risk_level,
        samples
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (pool_id, computed_at) DO UPDATE
    SET volatility   = EXCLUDED.volatility,
        sharpe_ratio = EXCLUDED.sharpe_ratio,
        max_drawdown = EXCLUDED.max_drawdown,
        risk_score   = EXCLUDED.risk_score,
        risk_level   = EXCLUDED.risk_level,
        samples      = EXCLUDED.samples;`

	listRecentSnapshotsSQL = `SELECT
        pool_id,
        computed_at,
        volatility,
        sharpe_ratio,
        max_drawdown,
        risk_score,
        risk_level,
        samples,
        created_at
    FROM metrics_snapshots
    ORDER BY computed_at DESC
    LIMIT $1;`

	deleteSnapshotsBeforeSQL = `DELETE FROM metrics_snapshots WHERE computed_at < $1;`
)

// SnapshotStore defines operations for metrics snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap MetricsSnapshot) error
	ListRecentSnapshots(ctx context.Context, limit int) ([]MetricsSnapshot, error)
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error
}

// Store aggregates access to pool series and metrics snapshots.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates tables when missing. Safe to run repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertSeriesPoint persists or updates one daily observation.
func (s *Store) UpsertSeriesPoint(ctx context.Context, point SeriesPoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSeriesPointSQL,
		point.PoolID,
		point.Day.UTC().Truncate(24*time.Hour),
		nullableDecimal(point.Price),
		nullableDecimal(point.TVLUSD),
		nullableDecimal(point.APYPct),
	)
	if execErr != nil {
		return fmt.Errorf("upsert series point: %w", execErr)
	}
	return nil
}

// FetchSeries reads the trailing rangeDays of stored observations for poolID.
// Missing measures on a day are skipped for that measure only.
func (s *Store) FetchSeries(ctx context.Context, poolID string, rangeDays int) (fetcher.Series, error) {
	pool, err := s.getPool()
	if err != nil {
		return fetcher.Series{}, err
	}
	if rangeDays <= 0 {
		rangeDays = 1
	}

	since := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(rangeDays - 1))
	rows, queryErr := pool.Query(ctx, listSeriesSinceSQL, poolID, since)
	if queryErr != nil {
		return fetcher.Series{}, fmt.Errorf("list pool series: %w", queryErr)
	}
	defer rows.Close()

	series := fetcher.Series{PoolID: poolID}
	points := 0
	for rows.Next() {
		point, scanErr := scanSeriesPoint(rows)
		if scanErr != nil {
			return fetcher.Series{}, scanErr
		}
		points++
		if point.Price != nil {
			series.Prices = append(series.Prices, point.Price.InexactFloat64())
		}
		if point.TVLUSD != nil {
			series.TVL = append(series.TVL, point.TVLUSD.InexactFloat64())
		}
		if point.APYPct != nil {
			series.APY = append(series.APY, point.APYPct.InexactFloat64())
		}
	}
	if rows.Err() != nil {
		return fetcher.Series{}, rows.Err()
	}
	if points == 0 {
		return fetcher.Series{}, fmt.Errorf("%w: %s", fetcher.ErrPoolNotFound, poolID)
	}
	return series, nil
}

// UpsertSnapshot persists a computed metrics snapshot.
func (s *Store) UpsertSnapshot(ctx context.Context, snap MetricsSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.PoolID,
		snap.ComputedAt.UTC(),
		snap.Volatility,
		snap.SharpeRatio,
		snap.MaxDrawdown,
		snap.RiskScore,
		snap.RiskLevel,
		snap.Samples,
	)
	if execErr != nil {
		return fmt.Errorf("upsert metrics snapshot: %w", execErr)
	}
	return nil
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending compute time.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]MetricsSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]MetricsSnapshot, 0, limit)
	for rows.Next() {
		var snap MetricsSnapshot
		if err := rows.Scan(
			&snap.PoolID,
			&snap.ComputedAt,
			&snap.Volatility,
			&snap.SharpeRatio,
			&snap.MaxDrawdown,
			&snap.RiskScore,
			&snap.RiskLevel,
			&snap.Samples,
			&snap.CreatedAt,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// DeleteSnapshotsBefore prunes historical snapshots.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return nil
}

func scanSeriesPoint(rows pgx.Rows) (SeriesPoint, error) {
	var (
		day      time.Time
		priceStr *string
		tvlStr   *string
		apyStr   *string
	)

	if err := rows.Scan(&day, &priceStr, &tvlStr, &apyStr); err != nil {
		return SeriesPoint{}, err
	}

	point := SeriesPoint{Day: day}
	var err error
	if point.Price, err = parseNullableDecimal(priceStr); err != nil {
		return SeriesPoint{}, fmt.Errorf("parse price: %w", err)
	}
	if point.TVLUSD, err = parseNullableDecimal(tvlStr); err != nil {
		return SeriesPoint{}, fmt.Errorf("parse tvl: %w", err)
	}
	if point.APYPct, err = parseNullableDecimal(apyStr); err != nil {
		return SeriesPoint{}, fmt.Errorf("parse apy: %w", err)
	}
	return point, nil
}

func parseNullableDecimal(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

var _ fetcher.SeriesFetcher = (*Store)(nil)
var _ SnapshotStore = (*Store)(nil)

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"defi-risk-metrics/internal/config"
	"defi-risk-metrics/internal/fetcher"
	"defi-risk-metrics/internal/storage"
)

// Ingest copies upstream series into pool_series so the postgres provider can serve them.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	if len(opts.PoolIDs) == 0 {
		return errors.New("at least one pool id is required")
	}

	var source fetcher.SeriesFetcher
	switch opts.Source {
	case "", config.ProviderLlama:
		source = a.newLlama()
	case config.ProviderChain:
		source = a.newChain()
	default:
		return fmt.Errorf("unsupported ingest source %q", opts.Source)
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("ingest dry-run: nothing will be written")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot ingest")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	written := 0
	failed := 0
	for _, pool := range opts.PoolIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		series, err := source.FetchSeries(ctx, pool, a.Config.Provider.RangeDays)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("pool_id", pool).Msg("ingest fetch failed")
			continue
		}

		points := seriesPoints(pool, series, today)
		if store != nil {
			for _, point := range points {
				if err := store.UpsertSeriesPoint(ctx, point); err != nil {
					return err
				}
			}
		}
		written += len(points)
		a.Logger.Info().Str("pool_id", pool).Int("points", len(points)).Msg("pool ingested")
	}

	a.Logger.Info().Int("points", written).Int("failed", failed).Msg("ingest finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d pools failed to ingest", failed, len(opts.PoolIDs))
	}
	return nil
}

// seriesPoints lays a trailing daily series onto calendar days ending at today. Measures
// of different lengths are aligned on their most recent sample.
func seriesPoints(poolID string, series fetcher.Series, today time.Time) []storage.SeriesPoint {
	n := series.Len()
	points := make([]storage.SeriesPoint, n)
	for i := range points {
		points[i] = storage.SeriesPoint{
			PoolID: poolID,
			Day:    today.AddDate(0, 0, -(n - 1 - i)),
		}
	}

	assign := func(values []float64, set func(p *storage.SeriesPoint, d *decimal.Decimal)) {
		offset := n - len(values)
		for i, v := range values {
			d := decimal.NewFromFloat(v)
			set(&points[offset+i], &d)
		}
	}
	assign(series.Prices, func(p *storage.SeriesPoint, d *decimal.Decimal) { p.Price = d })
	assign(series.TVL, func(p *storage.SeriesPoint, d *decimal.Decimal) { p.TVLUSD = d })
	assign(series.APY, func(p *storage.SeriesPoint, d *decimal.Decimal) { p.APYPct = d })
	return points
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"defi-risk-metrics/internal/market"
	"defi-risk-metrics/internal/storage"
)

// Snapshots prints the most recent persisted metrics snapshots.
func (a *App) Snapshots(ctx context.Context, out io.Writer, opts SnapshotsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snaps, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeSnapshots(out, snaps)
}

func writeSnapshots(out io.Writer, snaps []storage.MetricsSnapshot) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(out, "no snapshots found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Computed (UTC)\tPool\tScore\tLevel\tVolatility%\tSharpe\tMaxDD%\tSamples")
	for _, snap := range snaps {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			snap.ComputedAt.UTC().Format(time.RFC3339),
			snap.PoolID,
			formatFloat(snap.RiskScore, 1),
			snap.RiskLevel,
			formatFloat(snap.Volatility*100, 3),
			formatFloat(snap.SharpeRatio, 3),
			formatFloat(snap.MaxDrawdown*100, 2),
			snap.Samples,
		)
	}
	return writer.Flush()
}

// Metrics computes metrics for one pool and prints them as indented JSON.
func (a *App) Metrics(ctx context.Context, out io.Writer, poolID string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	provider, err := a.newProvider(store)
	if err != nil {
		return err
	}

	res, err := a.newService(provider, nil).GetMarketMetrics(ctx, poolID)
	if err != nil {
		return err
	}
	return writeResult(out, res)
}

func writeResult(out io.Writer, res market.Result) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]interface{}{
		"data":           res.Metrics,
		"requestId":      res.RequestID,
		"timestamp":      res.Timestamp.UTC().Format(time.RFC3339Nano),
		"processingTime": float64(res.ProcessingTime) / float64(time.Millisecond),
		"cacheStatus":    res.CacheStatus,
	})
}

func formatFloat(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

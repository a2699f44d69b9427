package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"defi-risk-metrics/internal/fetcher"
	"defi-risk-metrics/internal/market"
	"defi-risk-metrics/internal/risk"
)

// Export renders a pool's value series and drawdown as a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.PNGPath == "" {
		return errors.New("--png must be provided")
	}
	poolID, err := market.NormalizePoolID(opts.PoolID)
	if err != nil {
		return err
	}

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

	fetchCtx, cancel := context.WithTimeout(ctx, a.Config.Provider.Timeout)
	defer cancel()
	series, err := provider.FetchSeries(fetchCtx, poolID, a.Config.Provider.RangeDays)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	metrics := market.Compute(series, a.Config.Risk.RiskFreeRate, now)
	a.Logger.Info().
		Str("pool_id", poolID).
		Int("samples", metrics.Samples).
		Str("risk_level", string(metrics.RiskLevel)).
		Msg("exporting chart")

	return writeSeriesPNG(opts.PNGPath, poolID, series, metrics, now.Truncate(24*time.Hour), a.Config.Export.Width, a.Config.Export.Height)
}

func writeSeriesPNG(path, poolID string, series fetcher.Series, metrics market.MarketMetrics, lastDay time.Time, width, height int) error {
	values := series.Prices
	name := "Price"
	if len(values) < 2 {
		values = series.TVL
		name = "TVL (USD)"
	}
	if len(values) < 2 {
		return fmt.Errorf("pool %s has %d samples; at least 2 are needed to chart", poolID, len(values))
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(values))
	for i := range values {
		x[i] = lastDay.AddDate(0, 0, -(len(values) - 1 - i))
	}
	drawdown := risk.DrawdownSeries(values)
	for i := range drawdown {
		drawdown[i] *= -100
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4g")
	}
	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s  risk %s (%.1f)  vol %.3f%%  maxDD %.2f%%", poolID, metrics.RiskLevel, metrics.RiskScore, metrics.Volatility*100, metrics.MaxDrawdown*100),
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           name,
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Drawdown (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    name,
				XValues: x,
				YValues: values,
			},
		},
	}
	// a flat zero drawdown has no range to plot
	if metrics.MaxDrawdown > 0 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Drawdown %",
			XValues: x,
			YValues: drawdown,
			YAxis:   chart.YAxisSecondary,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"defi-risk-metrics/internal/alerting"
	"defi-risk-metrics/internal/api"
	"defi-risk-metrics/internal/cache"
	"defi-risk-metrics/internal/config"
	"defi-risk-metrics/internal/fetcher"
	"defi-risk-metrics/internal/market"
	"defi-risk-metrics/internal/scheduler"
	"defi-risk-metrics/internal/storage"
	"defi-risk-metrics/internal/warmer"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newProvider builds the configured series provider. The postgres provider needs an open store.
func (a *App) newProvider(store *storage.Store) (fetcher.SeriesFetcher, error) {
	switch a.Config.Provider.Kind {
	case config.ProviderLlama:
		return a.newLlama(), nil
	case config.ProviderChain:
		return a.newChain(), nil
	case config.ProviderPostgres:
		if store == nil {
			return nil, errors.New("provider.kind=postgres requires database.dsn")
		}
		return store, nil
	default:
		return nil, fmt.Errorf("provider.kind %q is not supported", a.Config.Provider.Kind)
	}
}

func (a *App) newLlama() *fetcher.Llama {
	cfg := a.Config.Provider.Llama
	return fetcher.NewLlama(fetcher.LlamaOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newChain() *fetcher.Chain {
	cfg := a.Config.Provider.Chain
	return fetcher.NewChain(fetcher.ChainOptions{
		RPCURL:        cfg.RPCURL,
		BlocksPerDay:  cfg.BlocksPerDay,
		AssetDecimals: cfg.AssetDecimals,
		AssetUSDPrice: cfg.AssetUSDPrice,
		Timeout:       cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(provider fetcher.SeriesFetcher, reg prometheus.Registerer) *market.Service {
	metricsCache := cache.New[market.MarketMetrics](cache.Options{
		DefaultTTL: a.Config.Cache.TTL,
		Capacity:   a.Config.Cache.Capacity,
	})
	return market.New(market.Options{
		CacheTTL:        a.Config.Cache.TTL,
		ProviderTimeout: a.Config.Provider.Timeout,
		RangeDays:       a.Config.Provider.RangeDays,
		RiskFreeRate:    a.Config.Risk.RiskFreeRate,
		Registerer:      reg,
	}, provider, metricsCache, a.Logger)
}

// Serve runs the HTTP API and, when enabled, the cache warmer until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; snapshots disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	provider, err := a.newProvider(store)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc := a.newService(provider, reg)

	server := api.New(api.Options{
		Addr:            a.Config.Server.Addr,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		MetricsPath:     a.Config.Server.MetricsPath,
		Gatherer:        reg,
	}, svc, a.Logger)

	var (
		sched *scheduler.Scheduler
		job   *warmer.Job
	)
	if a.Config.Warmer.Enabled {
		sched, err = scheduler.New(scheduler.Options{
			Interval:     a.Config.Warmer.Interval,
			AlignToStart: a.Config.Warmer.AlignToBucket,
			StartupDelay: a.Config.Warmer.StartupDelay,
			Immediate:    true,
		}, a.Logger)
		if err != nil {
			return err
		}

		var snapshots storage.SnapshotStore
		if store != nil {
			snapshots = store
		}
		job = warmer.New(warmer.Options{
			Pools:             a.Config.Warmer.Pools,
			SnapshotRetention: a.Config.Warmer.SnapshotRetention,
			AlertsEnabled:     a.Config.Alerting.Enabled,
			AlertCooldown:     a.Config.Alerting.Cooldown,
		}, svc, snapshots, a.newNotifier(), a.Logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx, job.Tick)
		})
	}

	a.Logger.Info().
		Str("provider", a.Config.Provider.Kind).
		Bool("warmer", a.Config.Warmer.Enabled).
		Msg("starting risk metrics service")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("risk metrics service stopped")
	return nil
}

// ExportOptions hold parameters for chart export.
type ExportOptions struct {
	PoolID  string
	PNGPath string
}

// SnapshotsOptions configure the snapshots command.
type SnapshotsOptions struct {
	Limit int
}

// IngestOptions configure series ingestion into Postgres.
type IngestOptions struct {
	PoolIDs []string
	// Source names the upstream provider: llama or chain.
	Source string
	DryRun bool
}

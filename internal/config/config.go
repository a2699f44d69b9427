package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"defi-risk-metrics/internal/logging"
)

// Provider kinds accepted by provider.kind.
const (
	ProviderLlama    = "llama"
	ProviderChain    = "chain"
	ProviderPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Provider ProviderConfig `mapstructure:"provider"`
	Database DatabaseConfig `mapstructure:"database"`
	Warmer   WarmerConfig   `mapstructure:"warmer"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig covers the HTTP API listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
}

// CacheConfig sizes the metrics cache.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

// RiskConfig tunes metric computation.
type RiskConfig struct {
	RiskFreeRate float64 `mapstructure:"risk_free_rate"` // per period, matching the series cadence
}

// ProviderConfig selects and configures the series provider.
type ProviderConfig struct {
	Kind      string        `mapstructure:"kind"`
	RangeDays int           `mapstructure:"range_days"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Llama     LlamaConfig   `mapstructure:"llama"`
	Chain     ChainConfig   `mapstructure:"chain"`
}

// LlamaConfig captures DefiLlama yields API connectivity.
type LlamaConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainConfig covers on-chain ERC-4626 vault sampling.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	BlocksPerDay   uint64        `mapstructure:"blocks_per_day"`
	AssetDecimals  int32         `mapstructure:"asset_decimals"`
	AssetUSDPrice  float64       `mapstructure:"asset_usd_price"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// WarmerConfig governs the background cache warmer.
type WarmerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval"`
	AlignToBucket     bool          `mapstructure:"align_to_bucket"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
	Pools             []string      `mapstructure:"pools"`
	SnapshotRetention time.Duration `mapstructure:"snapshot_retention"`
}

// AlertingConfig defines high-risk alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets chart export behaviour.
type ExportConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RISKMETRICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "riskmetrics")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.metrics_path", "/metrics")

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.capacity", 1024)

	v.SetDefault("risk.risk_free_rate", 0.0)

	v.SetDefault("provider.kind", ProviderLlama)
	v.SetDefault("provider.range_days", 30)
	v.SetDefault("provider.timeout", "15s")
	v.SetDefault("provider.llama.base_url", "https://yields.llama.fi")
	v.SetDefault("provider.llama.request_timeout", "10s")
	v.SetDefault("provider.llama.user_agent", "riskmetrics/1.0")
	v.SetDefault("provider.chain.blocks_per_day", 7200)
	v.SetDefault("provider.chain.asset_decimals", 18)
	v.SetDefault("provider.chain.asset_usd_price", 1.0)
	v.SetDefault("provider.chain.request_timeout", "30s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.ensure_schema", true)

	v.SetDefault("warmer.enabled", false)
	v.SetDefault("warmer.interval", "5m")
	v.SetDefault("warmer.align_to_bucket", true)
	v.SetDefault("warmer.startup_delay", "0s")
	v.SetDefault("warmer.pools", []string{})
	v.SetDefault("warmer.snapshot_retention", "720h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.width", 1280)
	v.SetDefault("export.height", 720)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero")
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity cannot be negative")
	}
	if c.Provider.RangeDays < 2 {
		return fmt.Errorf("provider.range_days must be at least 2")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be greater than zero")
	}
	switch c.Provider.Kind {
	case ProviderLlama:
	case ProviderChain:
		if c.Provider.Chain.RPCURL == "" {
			return fmt.Errorf("provider.chain.rpc_url is required for provider.kind=chain")
		}
	case ProviderPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for provider.kind=postgres")
		}
	default:
		return fmt.Errorf("provider.kind %q is not supported", c.Provider.Kind)
	}
	if c.Warmer.Enabled {
		if c.Warmer.Interval <= 0 {
			return fmt.Errorf("warmer.interval must be greater than zero")
		}
		if len(c.Warmer.Pools) == 0 {
			return fmt.Errorf("warmer.pools must list at least one pool when the warmer is enabled")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Export.Width <= 0 || c.Export.Height <= 0 {
		return fmt.Errorf("export.width and export.height must be greater than zero")
	}
	return nil
}

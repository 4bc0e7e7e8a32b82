// Package config defines the top-level configuration for the perpwatch
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PERPWATCH_* environment
// variables.
type Config struct {
	Indexer     IndexerConfig     `toml:"indexer"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Discovery   DiscoveryConfig   `toml:"discovery"`
	Scoring     ScoringConfig     `toml:"scoring"`
	Leaderboard LeaderboardConfig `toml:"leaderboard"`
	Watcher     WatcherConfig     `toml:"watcher"`
	Alerts      AlertsConfig      `toml:"alerts"`
	Archive     ArchiveConfig     `toml:"archive"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// IndexerConfig holds the exchange indexer API endpoints and request
// parameters.
type IndexerConfig struct {
	RestURL        string   `toml:"rest_url"`
	WsURL          string   `toml:"ws_url"`
	Timeout        duration `toml:"timeout"`
	PageLimit      int      `toml:"page_limit"`
	MaxPages       int      `toml:"max_pages"`
	RatePerSecond  int      `toml:"rate_per_second"`
	RetryAttempts  int      `toml:"retry_attempts"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// DiscoveryConfig holds candidate discovery parameters.
type DiscoveryConfig struct {
	SeedAddresses []string `toml:"seed_addresses"`
	Tickers       []string `toml:"tickers"`
	LookbackHours int      `toml:"lookback_hours"`
	MinFills      int      `toml:"min_fills"`
	MinVolume     float64  `toml:"min_volume"`
	MaxSeeds      int      `toml:"max_seeds"`
}

// ScoringConfig holds the scoring window and weight overrides.
type ScoringConfig struct {
	WindowHours    int     `toml:"window_hours"`
	WeightRealized float64 `toml:"weight_realized"`
	WeightNet      float64 `toml:"weight_net"`
	WeightFills    float64 `toml:"weight_fills"`
	WeightTurnover float64 `toml:"weight_turnover"`
}

// LeaderboardConfig holds ranking parameters.
type LeaderboardConfig struct {
	TopN           int      `toml:"top_n"`
	UpdateInterval duration `toml:"update_interval"`
}

// WatcherConfig holds activity-watch parameters.
type WatcherConfig struct {
	Interval     duration `toml:"interval"`
	DedupTTL     duration `toml:"dedup_ttl"`
	LockTTL      duration `toml:"lock_ttl"`
	MaxFillsPoll int      `toml:"max_fills_poll"`
}

// AlertsConfig holds classifier thresholds.
type AlertsConfig struct {
	LargeTradeMedium   float64  `toml:"large_trade_medium"`
	LargeTradeHigh     float64  `toml:"large_trade_high"`
	LargeTradeCritical float64  `toml:"large_trade_critical"`
	SpikeMultiplier    float64  `toml:"spike_multiplier"`
	SpikeWindow        duration `toml:"spike_window"`
	MinSpikeSamples    int      `toml:"min_spike_samples"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Indexer: IndexerConfig{
			RestURL:        "https://indexer.dydx.trade/v4",
			WsURL:          "wss://indexer.dydx.trade/v4/ws",
			Timeout:        duration{30 * time.Second},
			PageLimit:      100,
			MaxPages:       50,
			RatePerSecond:  8,
			RetryAttempts:  3,
			RetryBaseDelay: duration{500 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpwatch",
			User:          "perpwatch",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpwatch-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Discovery: DiscoveryConfig{
			Tickers:       []string{"BTC-USD", "ETH-USD", "SOL-USD"},
			LookbackHours: 24,
			MinFills:      5,
			MinVolume:     10_000,
			MaxSeeds:      200,
		},
		Scoring: ScoringConfig{
			WindowHours:    24,
			WeightRealized: 0.4,
			WeightNet:      0.3,
			WeightFills:    0.1,
			WeightTurnover: 0.2,
		},
		Leaderboard: LeaderboardConfig{
			TopN:           20,
			UpdateInterval: duration{time.Hour},
		},
		Watcher: WatcherConfig{
			Interval:     duration{3 * time.Minute},
			DedupTTL:     duration{48 * time.Hour},
			LockTTL:      duration{2 * time.Minute},
			MaxFillsPoll: 500,
		},
		Alerts: AlertsConfig{
			LargeTradeMedium:   10_000,
			LargeTradeHigh:     50_000,
			LargeTradeCritical: 100_000,
			SpikeMultiplier:    3.0,
			SpikeWindow:        duration{time.Hour},
			MinSpikeSamples:    1,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"large_trade", "volume_spike", "anomaly", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"update":  true,
	"watch":   true,
	"stream":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: update, watch, stream, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Indexer
	if c.Indexer.RestURL == "" {
		errs = append(errs, "indexer: rest_url must not be empty")
	}
	if c.Mode == "stream" && c.Indexer.WsURL == "" {
		errs = append(errs, "indexer: ws_url is required for stream mode")
	}
	if c.Indexer.PageLimit < 1 {
		errs = append(errs, "indexer: page_limit must be >= 1")
	}
	if c.Indexer.MaxPages < 1 {
		errs = append(errs, "indexer: max_pages must be >= 1")
	}
	if c.Indexer.RetryAttempts < 0 {
		errs = append(errs, "indexer: retry_attempts must be >= 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only exercised when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Discovery. Seeds can also come from the known-addresses table, so an
	// empty list is only fatal for modes that run ranking.
	if len(c.Discovery.SeedAddresses) == 0 && (c.Mode == "update" || c.Mode == "full") {
		errs = append(errs, "discovery: seed_addresses must not be empty for update/full mode")
	}
	if c.Discovery.MinFills < 0 {
		errs = append(errs, "discovery: min_fills must be >= 0")
	}
	if c.Discovery.MinVolume < 0 {
		errs = append(errs, "discovery: min_volume must be >= 0")
	}
	if c.Discovery.LookbackHours < 0 {
		errs = append(errs, "discovery: lookback_hours must be >= 0 (0 = unbounded)")
	}

	// Scoring
	if c.Scoring.WindowHours < 1 {
		errs = append(errs, "scoring: window_hours must be >= 1")
	}

	// Leaderboard
	if c.Leaderboard.TopN < 1 {
		errs = append(errs, "leaderboard: top_n must be >= 1")
	}

	// Watcher
	if c.Watcher.Interval.Duration <= 0 {
		errs = append(errs, "watcher: interval must be positive")
	}
	if c.Watcher.DedupTTL.Duration <= 0 {
		errs = append(errs, "watcher: dedup_ttl must be positive")
	}

	// Alerts: thresholds must be strictly increasing so severity is
	// monotone in trade size.
	if !(c.Alerts.LargeTradeMedium < c.Alerts.LargeTradeHigh && c.Alerts.LargeTradeHigh < c.Alerts.LargeTradeCritical) {
		errs = append(errs, "alerts: large_trade thresholds must be strictly increasing (medium < high < critical)")
	}
	if c.Alerts.SpikeMultiplier <= 1 {
		errs = append(errs, "alerts: spike_multiplier must be > 1")
	}
	if c.Alerts.SpikeWindow.Duration <= 0 {
		errs = append(errs, "alerts: spike_window must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

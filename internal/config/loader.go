package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Indexer ──
	setStr(&cfg.Indexer.RestURL, "PERPWATCH_INDEXER_REST_URL")
	setStr(&cfg.Indexer.WsURL, "PERPWATCH_INDEXER_WS_URL")
	setDuration(&cfg.Indexer.Timeout, "PERPWATCH_INDEXER_TIMEOUT")
	setInt(&cfg.Indexer.PageLimit, "PERPWATCH_INDEXER_PAGE_LIMIT")
	setInt(&cfg.Indexer.MaxPages, "PERPWATCH_INDEXER_MAX_PAGES")
	setInt(&cfg.Indexer.RatePerSecond, "PERPWATCH_INDEXER_RATE_PER_SECOND")
	setInt(&cfg.Indexer.RetryAttempts, "PERPWATCH_INDEXER_RETRY_ATTEMPTS")
	setDuration(&cfg.Indexer.RetryBaseDelay, "PERPWATCH_INDEXER_RETRY_BASE_DELAY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERPWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPWATCH_S3_FORCE_PATH_STYLE")

	// ── Discovery ──
	setStringSlice(&cfg.Discovery.SeedAddresses, "PERPWATCH_DISCOVERY_SEED_ADDRESSES")
	setStringSlice(&cfg.Discovery.Tickers, "PERPWATCH_DISCOVERY_TICKERS")
	setInt(&cfg.Discovery.LookbackHours, "PERPWATCH_DISCOVERY_LOOKBACK_HOURS")
	setInt(&cfg.Discovery.MinFills, "PERPWATCH_DISCOVERY_MIN_FILLS")
	setFloat64(&cfg.Discovery.MinVolume, "PERPWATCH_DISCOVERY_MIN_VOLUME")
	setInt(&cfg.Discovery.MaxSeeds, "PERPWATCH_DISCOVERY_MAX_SEEDS")

	// ── Scoring ──
	setInt(&cfg.Scoring.WindowHours, "PERPWATCH_SCORING_WINDOW_HOURS")
	setFloat64(&cfg.Scoring.WeightRealized, "PERPWATCH_SCORING_WEIGHT_REALIZED")
	setFloat64(&cfg.Scoring.WeightNet, "PERPWATCH_SCORING_WEIGHT_NET")
	setFloat64(&cfg.Scoring.WeightFills, "PERPWATCH_SCORING_WEIGHT_FILLS")
	setFloat64(&cfg.Scoring.WeightTurnover, "PERPWATCH_SCORING_WEIGHT_TURNOVER")

	// ── Leaderboard ──
	setInt(&cfg.Leaderboard.TopN, "PERPWATCH_LEADERBOARD_TOP_N")
	setDuration(&cfg.Leaderboard.UpdateInterval, "PERPWATCH_LEADERBOARD_UPDATE_INTERVAL")

	// ── Watcher ──
	setDuration(&cfg.Watcher.Interval, "PERPWATCH_WATCHER_INTERVAL")
	setDuration(&cfg.Watcher.DedupTTL, "PERPWATCH_WATCHER_DEDUP_TTL")
	setDuration(&cfg.Watcher.LockTTL, "PERPWATCH_WATCHER_LOCK_TTL")
	setInt(&cfg.Watcher.MaxFillsPoll, "PERPWATCH_WATCHER_MAX_FILLS_POLL")

	// ── Alerts ──
	setFloat64(&cfg.Alerts.LargeTradeMedium, "PERPWATCH_ALERTS_LARGE_TRADE_MEDIUM")
	setFloat64(&cfg.Alerts.LargeTradeHigh, "PERPWATCH_ALERTS_LARGE_TRADE_HIGH")
	setFloat64(&cfg.Alerts.LargeTradeCritical, "PERPWATCH_ALERTS_LARGE_TRADE_CRITICAL")
	setFloat64(&cfg.Alerts.SpikeMultiplier, "PERPWATCH_ALERTS_SPIKE_MULTIPLIER")
	setDuration(&cfg.Alerts.SpikeWindow, "PERPWATCH_ALERTS_SPIKE_WINDOW")
	setInt(&cfg.Alerts.MinSpikeSamples, "PERPWATCH_ALERTS_MIN_SPIKE_SAMPLES")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PERPWATCH_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PERPWATCH_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "PERPWATCH_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPWATCH_MODE")
	setStr(&cfg.LogLevel, "PERPWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

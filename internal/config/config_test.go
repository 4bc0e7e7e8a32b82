package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateForWatchMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsRequireSeedsForRankingModes(t *testing.T) {
	for _, mode := range []string{"update", "full"} {
		t.Run(mode, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = mode
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "seed_addresses")

			cfg.Discovery.SeedAddresses = []string{"dydx1seed"}
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Indexer.RestURL = ""
	cfg.Leaderboard.TopN = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "turbo"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "rest_url")
	assert.Contains(t, err.Error(), "top_n")
}

func TestValidateLargeTradeThresholdOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	cfg.Alerts.LargeTradeHigh = cfg.Alerts.LargeTradeCritical + 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestValidateStreamModeRequiresWsURL(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "stream"
	cfg.Indexer.WsURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws_url")
}

func TestValidateS3OnlyWhenArchiveEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	cfg.S3.Bucket = ""
	assert.NoError(t, cfg.Validate())

	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "watch"

[leaderboard]
top_n = 5
update_interval = "30m"

[watcher]
interval = "45s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, 5, cfg.Leaderboard.TopN)
	assert.Equal(t, 30*time.Minute, cfg.Leaderboard.UpdateInterval.Duration)
	assert.Equal(t, 45*time.Second, cfg.Watcher.Interval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://indexer.dydx.trade/v4", cfg.Indexer.RestURL)
	assert.Equal(t, 48*time.Hour, cfg.Watcher.DedupTTL.Duration)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
mode = "full"

[discovery]
seed_addresses = ["dydx1fromfile"]
`)

	t.Setenv("PERPWATCH_MODE", "watch")
	t.Setenv("PERPWATCH_LEADERBOARD_TOP_N", "7")
	t.Setenv("PERPWATCH_WATCHER_INTERVAL", "90s")
	t.Setenv("PERPWATCH_DISCOVERY_SEED_ADDRESSES", "dydx1a, dydx1b,dydx1c")
	t.Setenv("PERPWATCH_ALERTS_LARGE_TRADE_MEDIUM", "2500.5")
	t.Setenv("PERPWATCH_POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, 7, cfg.Leaderboard.TopN)
	assert.Equal(t, 90*time.Second, cfg.Watcher.Interval.Duration)
	assert.Equal(t, []string{"dydx1a", "dydx1b", "dydx1c"}, cfg.Discovery.SeedAddresses)
	assert.Equal(t, 2500.5, cfg.Alerts.LargeTradeMedium)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestLoadIgnoresMalformedEnvValues(t *testing.T) {
	path := writeConfig(t, `mode = "watch"`)

	t.Setenv("PERPWATCH_LEADERBOARD_TOP_N", "lots")
	t.Setenv("PERPWATCH_WATCHER_INTERVAL", "soon")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Leaderboard.TopN)
	assert.Equal(t, 3*time.Minute, cfg.Watcher.Interval.Duration)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("2h45m")))
	assert.Equal(t, 2*time.Hour+45*time.Minute, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2h45m0s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soonish")))
}

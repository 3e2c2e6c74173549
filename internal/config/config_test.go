package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultMetaDBPath, cfg.MetaDBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, DefaultMaxPathsPerSrc, cfg.MaxPathsPerSource)
	assert.EqualValues(t, DefaultDriftMinOccurs, cfg.DriftMinOccurrence)
	assert.EqualValues(t, DefaultDriftRemovalWin, cfg.DriftRemovalWindow)
	assert.Equal(t, DefaultMaterializeBatch, cfg.MaterializeBatchSize)
	assert.Equal(t, DefaultReconcileCron, cfg.ReconcileCron)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.Warnings)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("META_DB_PATH", "/tmp/meta.sqlite")
	t.Setenv("ENV", "production")
	t.Setenv("DISCOVERY_MAX_PATHS", "42")
	t.Setenv("DRIFT_MIN_OCCURRENCES", "3")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/meta.sqlite", cfg.MetaDBPath)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 42, cfg.MaxPathsPerSource)
	assert.EqualValues(t, 3, cfg.DriftMinOccurrence)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadFromEnv_MalformedValuesWarnAndFallBack(t *testing.T) {
	t.Setenv("DISCOVERY_MAX_PATHS", "many")
	t.Setenv("RATE_LIMIT_RPS", "fast")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxPathsPerSrc, cfg.MaxPathsPerSource)
	assert.EqualValues(t, DefaultRateLimitRPS, cfg.RateLimitRPS)
	assert.Len(t, cfg.Warnings, 2)
}

func TestLoadFromEnv_RejectsInvalidBounds(t *testing.T) {
	t.Setenv("MATERIALIZE_BATCH_SIZE", "0")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range tests {
		cfg := &Config{LogLevel: tc.in}
		assert.Equal(t, tc.want, cfg.SlogLevel(), "level %q", tc.in)
	}
}

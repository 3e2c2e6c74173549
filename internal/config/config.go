// Package config handles application configuration and environment loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultListenAddr       = ":8080"
	DefaultMetaDBPath       = "schemaflow.sqlite"
	DefaultMaxPathsPerSrc   = 500
	DefaultDriftMinOccurs   = 10
	DefaultDriftRemovalWin  = 50
	DefaultMaterializeBatch = 200
	DefaultDryRunSample     = 100
	DefaultRateLimitRPS     = 100
	DefaultRateLimitBurst   = 200
	DefaultReconcileCron    = "@every 5m"
)

// Config holds the configuration for the discovery engine.
type Config struct {
	MetaDBPath string // path to the SQLite metastore file
	ListenAddr string // HTTP listen address
	LogLevel   string // debug, info, warn, error
	Env        string // "development" (default) or "production"

	// Discovery and drift tuning.
	MaxPathsPerSource  int    // distinct-path ceiling before dynamic-map collapse
	DriftMinOccurrence int64  // sightings before a field counts as part of the schema
	DriftRemovalWindow int64  // records without a sighting before field_removed fires
	ReconcileCron      string // cron spec for periodic drift reconciliation ("" disables)

	// Materialization tuning.
	MaterializeBatchSize int
	DryRunSampleSize     int

	// Rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// CORS.
	CORSAllowedOrigins []string

	// Warnings collects non-fatal problems found during loading. The caller
	// logs them once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults and collecting warnings for malformed values.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:           envOr("META_DB_PATH", DefaultMetaDBPath),
		ListenAddr:           envOr("LISTEN_ADDR", DefaultListenAddr),
		LogLevel:             envOr("LOG_LEVEL", "info"),
		Env:                  envOr("ENV", "development"),
		ReconcileCron:        envOr("RECONCILE_CRON", DefaultReconcileCron),
		MaxPathsPerSource:    DefaultMaxPathsPerSrc,
		DriftMinOccurrence:   DefaultDriftMinOccurs,
		DriftRemovalWindow:   DefaultDriftRemovalWin,
		MaterializeBatchSize: DefaultMaterializeBatch,
		DryRunSampleSize:     DefaultDryRunSample,
		RateLimitRPS:         DefaultRateLimitRPS,
		RateLimitBurst:       DefaultRateLimitBurst,
		CORSAllowedOrigins:   []string{"*"},
	}

	cfg.loadInt("DISCOVERY_MAX_PATHS", &cfg.MaxPathsPerSource)
	cfg.loadInt64("DRIFT_MIN_OCCURRENCES", &cfg.DriftMinOccurrence)
	cfg.loadInt64("DRIFT_REMOVAL_WINDOW", &cfg.DriftRemovalWindow)
	cfg.loadInt("MATERIALIZE_BATCH_SIZE", &cfg.MaterializeBatchSize)
	cfg.loadInt("DRY_RUN_SAMPLE_SIZE", &cfg.DryRunSampleSize)
	cfg.loadInt("RATE_LIMIT_BURST", &cfg.RateLimitBurst)

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			cfg.warnf("RATE_LIMIT_RPS %q is not a number, using %v", v, cfg.RateLimitRPS)
		} else {
			cfg.RateLimitRPS = f
		}
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxPathsPerSource < 1 {
		return fmt.Errorf("DISCOVERY_MAX_PATHS must be at least 1")
	}
	if c.DriftMinOccurrence < 1 {
		return fmt.Errorf("DRIFT_MIN_OCCURRENCES must be at least 1")
	}
	if c.DriftRemovalWindow < 1 {
		return fmt.Errorf("DRIFT_REMOVAL_WINDOW must be at least 1")
	}
	if c.MaterializeBatchSize < 1 {
		return fmt.Errorf("MATERIALIZE_BATCH_SIZE must be at least 1")
	}
	return nil
}

func (c *Config) loadInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.warnf("%s %q is not an integer, using %d", name, v, *dst)
		return
	}
	*dst = n
}

func (c *Config) loadInt64(name string, dst *int64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		c.warnf("%s %q is not an integer, using %d", name, v, *dst)
		return
	}
	*dst = n
}

func (c *Config) warnf(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

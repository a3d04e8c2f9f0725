// Package config defines the ingester configuration and its load order:
// defaults, then an optional config file (JSON or YAML), then environment
// variables. Validation failures here are the only errors allowed to stop
// the process at startup.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aliceisjustplaying/languagestats-bsky/errors"
)

// DefaultCollection is the record collection ingested when none is configured.
const DefaultCollection = "app.bsky.feed.post"

// Config represents the complete application configuration
type Config struct {
	// FirehoseURL is the Jetstream subscription endpoint (ws:// or wss://).
	FirehoseURL string `json:"firehose_url" yaml:"firehose_url"`

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string `json:"database_url" yaml:"database_url"`

	// MetricsPort is the listen port for the metrics/health HTTP server.
	MetricsPort int `json:"metrics_port" yaml:"metrics_port"`

	// WantedCollections is the commit collection allow-list.
	WantedCollections []string `json:"wanted_collections" yaml:"wanted_collections"`

	// ReconnectBaseDelay and ReconnectMaxDelay bound the exponential backoff
	// between reconnect attempts.
	ReconnectBaseDelay time.Duration `json:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `json:"reconnect_max_delay" yaml:"reconnect_max_delay"`

	// CursorFlushInterval is how often the in-memory watermark is persisted.
	// Reconnection after a crash may replay up to one interval of commits.
	CursorFlushInterval time.Duration `json:"cursor_flush_interval" yaml:"cursor_flush_interval"`

	// ReconcileInterval is how often in-memory counters are overwritten with
	// authoritative counts from storage.
	ReconcileInterval time.Duration `json:"reconcile_interval" yaml:"reconcile_interval"`

	// PurgeDays is the post retention window; PurgeInterval is how often the
	// purge task runs.
	PurgeDays     int           `json:"purge_days" yaml:"purge_days"`
	PurgeInterval time.Duration `json:"purge_interval" yaml:"purge_interval"`

	// ShutdownTimeout bounds graceful shutdown before the process is forced out.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// Default returns the configuration defaults, matching the upstream Jetstream
// consumer conventions.
func Default() *Config {
	return &Config{
		FirehoseURL:         "wss://jetstream.atproto.tools/subscribe",
		MetricsPort:         3000,
		WantedCollections:   []string{DefaultCollection},
		ReconnectBaseDelay:  time.Second,
		ReconnectMaxDelay:   30 * time.Second,
		CursorFlushInterval: 10 * time.Second,
		ReconcileInterval:   5 * time.Minute,
		PurgeDays:           7,
		PurgeInterval:       time.Hour,
		ShutdownTimeout:     10 * time.Second,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load builds the effective configuration: defaults, overlaid by the optional
// file at path (empty path skips the file), overlaid by environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// loadFile merges a JSON or YAML config file into cfg. The format is chosen
// by file extension, defaulting to JSON.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapFatal(err, "Config", "loadFile", "read config file")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return errors.WrapFatal(err, "Config", "loadFile", "parse config file")
	}
	return nil
}

// applyEnv overrides config fields from the environment. Variable names match
// the original deployment (FIREHOSE_URL, DATABASE_URL, PORT, ...).
func (c *Config) applyEnv() {
	if v := os.Getenv("FIREHOSE_URL"); v != "" {
		c.FirehoseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MetricsPort = port
		}
	}
	if v := os.Getenv("WANTED_COLLECTIONS"); v != "" {
		var collections []string
		for _, entry := range strings.Split(v, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				collections = append(collections, entry)
			}
		}
		if len(collections) > 0 {
			c.WantedCollections = collections
		}
	}
	if v := os.Getenv("PURGE_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.PurgeDays = days
		}
	}
	if v := os.Getenv("CURSOR_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CursorFlushInterval = d
		}
	}
	if v := os.Getenv("RECONNECT_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReconnectBaseDelay = d
		}
	}
	if v := os.Getenv("RECONNECT_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReconnectMaxDelay = d
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

// Validate checks the configuration for fatal problems. It is the startup
// gate: once validation passes, no configuration error may stop the stream.
func (c *Config) Validate() error {
	if c.FirehoseURL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "firehose_url")
	}
	u, err := url.Parse(c.FirehoseURL)
	if err != nil {
		return errors.WrapFatal(err, "Config", "Validate", "parse firehose_url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapFatal(
			fmt.Errorf("%w: firehose_url scheme %q, want ws or wss", errors.ErrInvalidConfig, u.Scheme),
			"Config", "Validate", "firehose_url scheme")
	}

	if c.DatabaseURL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "database_url")
	}

	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return errors.WrapFatal(
			fmt.Errorf("%w: metrics_port %d", errors.ErrInvalidConfig, c.MetricsPort),
			"Config", "Validate", "metrics_port")
	}

	if len(c.WantedCollections) == 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: wanted_collections is empty", errors.ErrInvalidConfig),
			"Config", "Validate", "wanted_collections")
	}

	for name, d := range map[string]time.Duration{
		"reconnect_base_delay":  c.ReconnectBaseDelay,
		"reconnect_max_delay":   c.ReconnectMaxDelay,
		"cursor_flush_interval": c.CursorFlushInterval,
		"reconcile_interval":    c.ReconcileInterval,
		"purge_interval":        c.PurgeInterval,
		"shutdown_timeout":      c.ShutdownTimeout,
	} {
		if d <= 0 {
			return errors.WrapFatal(
				fmt.Errorf("%w: %s must be positive, got %v", errors.ErrInvalidConfig, name, d),
				"Config", "Validate", name)
		}
	}

	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return errors.WrapFatal(
			fmt.Errorf("%w: reconnect_max_delay %v below base %v",
				errors.ErrInvalidConfig, c.ReconnectMaxDelay, c.ReconnectBaseDelay),
			"Config", "Validate", "reconnect delays")
	}

	if c.PurgeDays <= 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: purge_days %d", errors.ErrInvalidConfig, c.PurgeDays),
			"Config", "Validate", "purge_days")
	}

	return nil
}

// Retention returns the purge window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.PurgeDays) * 24 * time.Hour
}

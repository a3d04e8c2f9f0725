package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.DatabaseURL = "postgres://localhost:5432/langstats?sslmode=disable"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{DefaultCollection}, cfg.WantedCollections)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10*time.Second, cfg.CursorFlushInterval)
	assert.Equal(t, 7, cfg.PurgeDays)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing firehose url", func(c *Config) { c.FirehoseURL = "" }, true},
		{"http firehose scheme", func(c *Config) { c.FirehoseURL = "http://example.com" }, true},
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, true},
		{"bad metrics port", func(c *Config) { c.MetricsPort = -1 }, true},
		{"empty collections", func(c *Config) { c.WantedCollections = nil }, true},
		{"zero flush interval", func(c *Config) { c.CursorFlushInterval = 0 }, true},
		{"max delay below base", func(c *Config) { c.ReconnectMaxDelay = 100 * time.Millisecond }, true},
		{"zero purge days", func(c *Config) { c.PurgeDays = 0 }, true},
		{"negative shutdown timeout", func(c *Config) { c.ShutdownTimeout = -time.Second }, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig()
			test.mutate(cfg)
			err := cfg.Validate()
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
firehose_url: wss://example.com/subscribe
database_url: postgres://db/langstats
metrics_port: 9100
wanted_collections:
  - app.bsky.feed.post
  - app.bsky.feed.like
purge_days: 14
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://example.com/subscribe", cfg.FirehoseURL)
	assert.Equal(t, "postgres://db/langstats", cfg.DatabaseURL)
	assert.Equal(t, 9100, cfg.MetricsPort)
	assert.Equal(t, []string{"app.bsky.feed.post", "app.bsky.feed.like"}, cfg.WantedCollections)
	assert.Equal(t, 14, cfg.PurgeDays)
	// Untouched fields keep defaults.
	assert.Equal(t, 10*time.Second, cfg.CursorFlushInterval)
}

func TestLoadFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := []byte(`{"firehose_url":"wss://example.com/subscribe","database_url":"postgres://db/x"}`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/subscribe", cfg.FirehoseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIREHOSE_URL", "wss://env.example.com/subscribe")
	t.Setenv("DATABASE_URL", "postgres://env/langstats")
	t.Setenv("PORT", "8088")
	t.Setenv("WANTED_COLLECTIONS", "app.bsky.feed.post, app.bsky.feed.repost")
	t.Setenv("PURGE_DAYS", "3")
	t.Setenv("CURSOR_FLUSH_INTERVAL", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "wss://env.example.com/subscribe", cfg.FirehoseURL)
	assert.Equal(t, "postgres://env/langstats", cfg.DatabaseURL)
	assert.Equal(t, 8088, cfg.MetricsPort)
	assert.Equal(t, []string{"app.bsky.feed.post", "app.bsky.feed.repost"}, cfg.WantedCollections)
	assert.Equal(t, 3, cfg.PurgeDays)
	assert.Equal(t, 5*time.Second, cfg.CursorFlushInterval)
}

func TestRetention(t *testing.T) {
	cfg := validConfig()
	cfg.PurgeDays = 3
	assert.Equal(t, 72*time.Hour, cfg.Retention())
}

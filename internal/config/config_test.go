package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Scraper.RespectRobots {
		t.Fatal("expected robots respected by default")
	}
	if got := cfg.PerHostInterval(); got != time.Second {
		t.Fatalf("expected 1s per-host interval, got %v", got)
	}
	if got := cfg.RobotsTTL(); got != time.Hour {
		t.Fatalf("expected 1h robots ttl, got %v", got)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected memory storage default, got %s", cfg.Storage.Backend)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scraper:
  workers: 6
  user_agent: harvest-agent
  per_host_interval_ms: 2000
  respect_robots: false
  host_failure_ceiling: 3
  max_pages_default: 100
http:
  timeout_seconds: 45
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: raw
pubsub:
  enabled: true
  project_id: proj
  topic_name: scrape-events
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Scraper.Workers != 6 || cfg.Scraper.RespectRobots {
		t.Fatalf("expected scraper overrides to apply: %+v", cfg.Scraper)
	}
	if got := cfg.PerHostInterval(); got != 2*time.Second {
		t.Fatalf("expected 2s per-host interval, got %v", got)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected gcs storage config: %+v", cfg.Storage)
	}
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Fatalf("expected http timeout 45s, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Scraper: ScraperConfig{Workers: 1, PerHostIntervalMs: 1000},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Storage: StorageConfig{Backend: "memory"},
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "server.port",
		},
		{
			name:   "invalid workers",
			mutate: func(c *Config) { c.Scraper.Workers = 0 },
			want:   "scraper.workers",
		},
		{
			name:   "invalid timeout",
			mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
			want:   "http.timeout_seconds",
		},
		{
			name:   "headless without parallelism",
			mutate: func(c *Config) { c.Headless = HeadlessConfig{Enabled: true} },
			want:   "headless.max_parallel",
		},
		{
			name:   "unknown storage backend",
			mutate: func(c *Config) { c.Storage.Backend = "tape" },
			want:   "storage.backend",
		},
		{
			name:   "local storage without base dir",
			mutate: func(c *Config) { c.Storage = StorageConfig{Backend: "local"} },
			want:   "storage.base_dir",
		},
		{
			name:   "gcs storage without bucket",
			mutate: func(c *Config) { c.Storage = StorageConfig{Backend: "gcs"} },
			want:   "storage.gcs_bucket",
		},
		{
			name:   "db enabled without dsn",
			mutate: func(c *Config) { c.DB.Enabled = true },
			want:   "db.dsn",
		},
		{
			name:   "pubsub enabled without topic",
			mutate: func(c *Config) { c.PubSub = PubSubConfig{Enabled: true, ProjectID: "p"} },
			want:   "pubsub.project_id and pubsub.topic_name",
		},
		{
			name:   "auth enabled without key",
			mutate: func(c *Config) { c.Auth.Enabled = true },
			want:   "auth.api_key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

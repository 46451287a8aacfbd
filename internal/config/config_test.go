package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "vigil" {
		t.Errorf("expected app name vigil, got %q", cfg.App.Name)
	}
	if cfg.App.Environment != "local" {
		t.Errorf("expected local environment, got %q", cfg.App.Environment)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected 10s read timeout, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("expected 1MB body limit, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.Store.Backend)
	}
	if cfg.Kafka.Enabled {
		t.Error("kafka must be disabled by default")
	}
	if cfg.Kafka.Topic != "balance-alerts" {
		t.Errorf("expected balance-alerts topic, got %q", cfg.Kafka.Topic)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info log level, got %q", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
store:
  backend: sqlite
  sqlite_path: /tmp/vigil-test.db
logging:
  level: debug
  pretty: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %q", cfg.Store.Backend)
	}
	if cfg.Store.SQLitePath != "/tmp/vigil-test.db" {
		t.Errorf("unexpected sqlite path %q", cfg.Store.SQLitePath)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Pretty {
		t.Errorf("logging overrides not applied: %+v", cfg.Logging)
	}
	// Untouched sections keep their defaults.
	if cfg.Kafka.Producer.BatchSize != 100 {
		t.Errorf("expected default producer batch size, got %d", cfg.Kafka.Producer.BatchSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VIGIL_SERVER_ADDR", ":7070")
	t.Setenv("VIGIL_STORE_BACKEND", "sqlite")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":7070" {
		t.Errorf("expected :7070 from env, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite from env, got %q", cfg.Store.Backend)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad environment",
			mutate: func(c *Config) { c.App.Environment = "prod" },
			want:   "app.environment",
		},
		{
			name:   "empty addr",
			mutate: func(c *Config) { c.Server.Addr = "" },
			want:   "server.addr",
		},
		{
			name:   "zero body limit",
			mutate: func(c *Config) { c.Server.MaxBodyBytes = 0 },
			want:   "server.max_body_bytes",
		},
		{
			name:   "unknown store backend",
			mutate: func(c *Config) { c.Store.Backend = "postgres" },
			want:   "store.backend",
		},
		{
			name: "kafka enabled without brokers",
			mutate: func(c *Config) {
				c.Kafka.Enabled = true
				c.Kafka.Brokers = nil
			},
			want: "kafka.brokers",
		},
		{
			name: "kafka enabled without topic",
			mutate: func(c *Config) {
				c.Kafka.Enabled = true
				c.Kafka.Topic = ""
			},
			want: "kafka.topic",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			want:   "logging.level",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %q", tc.want, err)
			}
		})
	}
}

package config_test

import (
	"testing"
	"time"

	"github.com/iofold/iofold-sub002/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()

	if cfg.Server.Port != 8080 {
		t.Fatalf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Jobs.Concurrency != 4 {
		t.Fatalf("default concurrency = %d, want 4", cfg.Jobs.Concurrency)
	}
	if cfg.Jobs.DefaultMaxRetries != 3 {
		t.Fatalf("default max retries = %d, want 3", cfg.Jobs.DefaultMaxRetries)
	}
	if cfg.Jobs.StreamMaxLifetime != 5*time.Minute {
		t.Fatalf("default stream lifetime = %s, want 5m", cfg.Jobs.StreamMaxLifetime)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JOBS_CONCURRENCY", "16")
	t.Setenv("JOBS_AUTO_RETRY", "true")
	t.Setenv("JOBS_STREAM_POLL_INTERVAL", "250ms")
	t.Setenv("REDIS_ENABLED", "false")

	cfg := config.Load()

	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Jobs.Concurrency != 16 {
		t.Fatalf("concurrency = %d, want 16", cfg.Jobs.Concurrency)
	}
	if !cfg.Jobs.AutoRetry {
		t.Fatal("auto retry should be enabled")
	}
	if cfg.Jobs.StreamPollInterval != 250*time.Millisecond {
		t.Fatalf("stream poll = %s, want 250ms", cfg.Jobs.StreamPollInterval)
	}
	if cfg.Redis.Enabled {
		t.Fatal("redis should be disabled")
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("JOBS_DEQUEUE_TIMEOUT", "garbage")

	cfg := config.Load()

	if cfg.Server.Port != 8080 {
		t.Fatalf("invalid port should fall back to 8080, got %d", cfg.Server.Port)
	}
	if cfg.Jobs.DequeueTimeout != 5*time.Second {
		t.Fatalf("invalid timeout should fall back to 5s, got %s", cfg.Jobs.DequeueTimeout)
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := config.DatabaseConfig{
		Host: "db", Port: 5433, User: "app", Password: "secret", Name: "jobs", SSLMode: "require",
	}
	want := "host=db port=5433 user=app password=secret dbname=jobs sslmode=require"
	if got := d.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

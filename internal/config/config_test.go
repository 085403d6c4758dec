package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "REDIS_URL", "PIPEMATE_CACHE_TTL_SECONDS", "PIPEMATE_CONTENT_BACKEND", "PIPEMATE_WORKFLOW_DIR", "S3_USE_SSL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Addr != ":8080" {
		t.Errorf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.RedisURL != "" {
		t.Errorf("expected cache disabled by default, got %q", cfg.RedisURL)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected 5m cache ttl, got %v", cfg.CacheTTL)
	}
	if cfg.ContentBackend != "github" {
		t.Errorf("expected github backend, got %q", cfg.ContentBackend)
	}
	if cfg.WorkflowDir != ".github/workflows" {
		t.Errorf("expected workflow dir, got %q", cfg.WorkflowDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIPEMATE_CACHE_TTL_SECONDS", "60")
	t.Setenv("PIPEMATE_CONTENT_BACKEND", "S3")
	t.Setenv("PIPEMATE_WORKFLOW_DIR", "ci/workflows/")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("LOG_PRETTY", "not-a-bool")

	cfg := Load()
	if cfg.CacheTTL != time.Minute {
		t.Errorf("expected 1m cache ttl, got %v", cfg.CacheTTL)
	}
	if cfg.ContentBackend != "s3" {
		t.Errorf("expected s3 backend, got %q", cfg.ContentBackend)
	}
	if cfg.WorkflowDir != "ci/workflows" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.WorkflowDir)
	}
	if !cfg.S3UseSSL {
		t.Error("expected S3_USE_SSL to be parsed")
	}
	if cfg.LogPretty {
		t.Error("expected invalid bool to fall back to false")
	}
}

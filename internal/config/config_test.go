package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_RequiresProviderKey(t *testing.T) {
	_, err := Load()
	if err == nil {
		t.Fatal("expected error with no provider keys configured")
	}
	if !strings.Contains(err.Error(), "provider API key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Cache.Mode != "memory" {
		t.Errorf("cache mode = %q, want memory", cfg.Cache.Mode)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("cache ttl = %v, want 1h", cfg.Cache.TTL)
	}
	if cfg.ProviderTimeout != 30*time.Second {
		t.Errorf("provider timeout = %v, want 30s", cfg.ProviderTimeout)
	}
	if cfg.Budget.AlertThreshold != 0.8 {
		t.Errorf("alert threshold = %v, want 0.8", cfg.Budget.AlertThreshold)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit should default to enabled")
	}
}

func TestLoad_RedisRequiredForRedisCache(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CACHE_MODE", "redis")

	if _, err := Load(); err == nil {
		t.Error("expected error: CACHE_MODE=redis without REDIS_URL")
	}
}

func TestLoad_RedisRequiredForLimits(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RPM_LIMIT", "100")

	if _, err := Load(); err == nil {
		t.Error("expected error: rate limits without REDIS_URL")
	}
}

func TestLoad_RedisRequiredForBudget(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BUDGET_DAILY_LIMIT", "10.0")

	if _, err := Load(); err == nil {
		t.Error("expected error: budget limits without REDIS_URL")
	}
}

func TestLoad_InvalidCacheMode(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CACHE_MODE", "disk")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid cache mode")
	}
}

func TestLoad_InvalidAlertThreshold(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BUDGET_ALERT_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Error("expected error for alert threshold > 1")
	}
}

func TestLoad_FullStack(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("CACHE_MODE", "redis")
	t.Setenv("RPM_LIMIT", "500")
	t.Setenv("RPD_LIMIT", "10000")
	t.Setenv("TPM_LIMIT", "90000")
	t.Setenv("BUDGET_DAILY_LIMIT", "50")
	t.Setenv("BUDGET_MONTHLY_LIMIT", "1000")
	t.Setenv("CLICKHOUSE_ADDR", "localhost:9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.RPMLimit != 500 || cfg.RateLimit.RPDLimit != 10000 || cfg.RateLimit.TPMLimit != 90000 {
		t.Errorf("rate limits = %+v", cfg.RateLimit)
	}
	if cfg.Budget.DailyLimit != 50 || cfg.Budget.MonthlyLimit != 1000 {
		t.Errorf("budget = %+v", cfg.Budget)
	}
	if cfg.Audit.ClickHouseAddr != "localhost:9000" {
		t.Errorf("clickhouse addr = %q", cfg.Audit.ClickHouseAddr)
	}
	if cfg.Audit.ClickHouseDatabase != "default" {
		t.Errorf("clickhouse database = %q", cfg.Audit.ClickHouseDatabase)
	}
}

// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example OPENAI_API_KEY becomes
// openai_api_key in YAML.
//
// Only one provider key is strictly required for the gateway to start.
// Redis is optional — set CACHE_MODE=memory for the in-process cache; rate
// limiting and budget tracking are disabled without Redis.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Provider API keys — at least one must be non-empty.
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Gemini    ProviderConfig

	// OpenAI-compatible providers.
	XAI      ProviderConfig
	DeepSeek ProviderConfig
	Groq     ProviderConfig

	// Redis holds the connection URL for the cache, rate limiter, budget
	// ledger, and audit fast-lookup store. Required when CacheMode is
	// "redis"; without it admission control degrades to pass-through.
	Redis RedisConfig

	// Cache controls response caching behaviour.
	Cache CacheConfig

	// RateLimit controls fixed-window admission limits.
	RateLimit RateLimitConfig

	// Budget controls daily/monthly spend caps.
	Budget BudgetConfig

	// Audit controls the async audit trail.
	Audit AuditConfig

	// ProviderTimeout is the per-provider request timeout. Default: 30s.
	ProviderTimeout time.Duration

	// Models overrides or extends the built-in model catalog.
	Models []ModelOverride

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string
}

// ProviderConfig holds configuration for a single upstream provider.
type ProviderConfig struct {
	// APIKey is the provider API key. Leave empty to disable the provider.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	// Useful for local mocks and development. Leave empty to use the default.
	BaseURL string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis-backed cache (requires REDIS_URL). Recommended for production.
	//   "memory" — In-process TTL cache. No external deps; not shared across replicas.
	//   "none"   — Cache disabled entirely.
	// Default: "memory".
	Mode string

	// TTL is the default time-to-live for cached responses. Default: 1h.
	TTL time.Duration

	// ExcludeExact is a list of exact model names that must never be cached.
	ExcludeExact []string

	// ExcludePatterns is a list of Go regular expressions matched against
	// model names. Requests whose model matches any pattern are not cached.
	// Example: ["^ft:", ".*-realtime$"]
	ExcludePatterns []string
}

// RateLimitConfig controls fixed-window admission limits. A zero value
// disables that window. Limits apply per model and to the "global" scope.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute. Default: 0 (disabled).
	RPMLimit int

	// RPDLimit is the maximum requests per day. Default: 0 (disabled).
	RPDLimit int

	// TPMLimit is the maximum tokens per minute. Default: 0 (disabled).
	TPMLimit int
}

// BudgetConfig controls spend caps. A zero limit disables that period.
type BudgetConfig struct {
	// DailyLimit is the daily spend cap in USD. Default: 0 (disabled).
	DailyLimit float64

	// MonthlyLimit is the monthly spend cap in USD. Default: 0 (disabled).
	MonthlyLimit float64

	// AlertThreshold is the fraction of a limit that triggers a one-time
	// alert per period, e.g. 0.8 for 80%. Default: 0.8.
	AlertThreshold float64
}

// AuditConfig controls the async audit trail.
type AuditConfig struct {
	// Enabled turns the audit logger on. Default: true.
	Enabled bool

	// ClickHouseAddr is the host:port of the ClickHouse native endpoint.
	// Empty disables the durable sink; entries still go to the structured
	// log and the 24h Redis lookup store.
	ClickHouseAddr string

	// ClickHouseDatabase is the target database. Default: "default".
	ClickHouseDatabase string

	ClickHouseUser     string
	ClickHousePassword string
}

// ModelOverride extends or replaces a built-in catalog entry. Loaded from the
// "models" list of the YAML file only — the shape does not map onto flat env
// vars.
type ModelOverride struct {
	ID                 string  `mapstructure:"id"`
	Provider           string  `mapstructure:"provider"`
	ContextWindow      int     `mapstructure:"context_window"`
	MaxOutputTokens    int     `mapstructure:"max_output_tokens"`
	CostPer1KInput     float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput    float64 `mapstructure:"cost_per_1k_output"`
	DefaultTemperature float64 `mapstructure:"default_temperature"`
	DefaultMaxTokens   int     `mapstructure:"default_max_tokens"`
	Embedding          bool    `mapstructure:"embedding"`
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
//
// At least one provider API key must be configured.
// REDIS_URL is only required when CACHE_MODE=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("PROVIDER_TIMEOUT", "30s")

	// Rate limits: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)
	v.SetDefault("RPD_LIMIT", 0)
	v.SetDefault("TPM_LIMIT", 0)

	// Budget: 0 = disabled.
	v.SetDefault("BUDGET_DAILY_LIMIT", 0.0)
	v.SetDefault("BUDGET_MONTHLY_LIMIT", 0.0)
	v.SetDefault("BUDGET_ALERT_THRESHOLD", 0.8)

	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("CLICKHOUSE_DATABASE", "default")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		OpenAI:    ProviderConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_BASE_URL")},
		Anthropic: ProviderConfig{APIKey: v.GetString("ANTHROPIC_API_KEY"), BaseURL: v.GetString("ANTHROPIC_BASE_URL")},
		Gemini:    ProviderConfig{APIKey: v.GetString("GOOGLE_API_KEY"), BaseURL: v.GetString("GEMINI_BASE_URL")},

		XAI:      ProviderConfig{APIKey: v.GetString("XAI_API_KEY"), BaseURL: v.GetString("XAI_BASE_URL")},
		DeepSeek: ProviderConfig{APIKey: v.GetString("DEEPSEEK_API_KEY"), BaseURL: v.GetString("DEEPSEEK_BASE_URL")},
		Groq:     ProviderConfig{APIKey: v.GetString("GROQ_API_KEY"), BaseURL: v.GetString("GROQ_BASE_URL")},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
			RPDLimit: v.GetInt("RPD_LIMIT"),
			TPMLimit: v.GetInt("TPM_LIMIT"),
		},

		Budget: BudgetConfig{
			DailyLimit:     v.GetFloat64("BUDGET_DAILY_LIMIT"),
			MonthlyLimit:   v.GetFloat64("BUDGET_MONTHLY_LIMIT"),
			AlertThreshold: v.GetFloat64("BUDGET_ALERT_THRESHOLD"),
		},

		Audit: AuditConfig{
			Enabled:            v.GetBool("AUDIT_ENABLED"),
			ClickHouseAddr:     v.GetString("CLICKHOUSE_ADDR"),
			ClickHouseDatabase: v.GetString("CLICKHOUSE_DATABASE"),
			ClickHouseUser:     v.GetString("CLICKHOUSE_USER"),
			ClickHousePassword: v.GetString("CLICKHOUSE_PASSWORD"),
		},

		ProviderTimeout: v.GetDuration("PROVIDER_TIMEOUT"),

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := v.UnmarshalKey("models", &cfg.Models); err != nil {
		return nil, fmt.Errorf("config: invalid models section: %w", err)
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if !c.AtLeastOneProviderKey() {
		return fmt.Errorf(
			"config: at least one provider API key is required " +
				"(OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, " +
				"XAI_API_KEY, DEEPSEEK_API_KEY, or GROQ_API_KEY)",
		)
	}

	// Redis URL is required when cache mode is "redis".
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	// Rate limiting and budget tracking keep their counters in Redis.
	if c.Redis.URL == "" {
		if c.RateLimit.RPMLimit > 0 || c.RateLimit.RPDLimit > 0 || c.RateLimit.TPMLimit > 0 {
			return fmt.Errorf("config: REDIS_URL is required when rate limits are set")
		}
		if c.Budget.DailyLimit > 0 || c.Budget.MonthlyLimit > 0 {
			return fmt.Errorf("config: REDIS_URL is required when budget limits are set")
		}
	}

	// Validate cache mode value.
	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	// Validate log level.
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.RateLimit.RPMLimit < 0 || c.RateLimit.RPDLimit < 0 || c.RateLimit.TPMLimit < 0 {
		return fmt.Errorf("config: rate limits must not be negative")
	}
	if c.Budget.DailyLimit < 0 || c.Budget.MonthlyLimit < 0 {
		return fmt.Errorf("config: budget limits must not be negative")
	}
	if c.Budget.AlertThreshold <= 0 || c.Budget.AlertThreshold > 1 {
		return fmt.Errorf("config: BUDGET_ALERT_THRESHOLD must be in (0, 1], got %v", c.Budget.AlertThreshold)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("config: PROVIDER_TIMEOUT must be a positive duration")
	}

	return nil
}

// AtLeastOneProviderKey returns true if at least one provider is configured.
func (c *Config) AtLeastOneProviderKey() bool {
	return c.OpenAI.APIKey != "" ||
		c.Anthropic.APIKey != "" ||
		c.Gemini.APIKey != "" ||
		c.XAI.APIKey != "" ||
		c.DeepSeek.APIKey != "" ||
		c.Groq.APIKey != ""
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}

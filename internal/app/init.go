package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/ai-gateway/internal/audit"
	"github.com/nulpointcorp/ai-gateway/internal/budget"
	gwCache "github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/catalog"
	"github.com/nulpointcorp/ai-gateway/internal/gateway"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/internal/server"
)

// initInfra establishes optional external connections. Redis backs the
// cache (when CACHE_MODE=redis), the rate limiter, the budget ledger, and
// the audit fast-lookup store; a single client is shared by all of them.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		return nil
	}

	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

	rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info("redis connected")

	return nil
}

// initProviders builds the upstream provider map. At least one provider must
// be configured — this is enforced by config validation before we reach here.
func (a *App) initProviders(_ context.Context) error {
	a.provs = buildProviders(a.baseCtx, a.cfg)
	if len(a.provs) == 0 {
		return fmt.Errorf("no provider API keys configured")
	}

	names := make([]string, 0, len(a.provs))
	for n := range a.provs {
		names = append(names, n)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initServices creates the model catalog, the cache backend, the Prometheus
// registry, and the audit logger.
func (a *App) initServices(ctx context.Context) error {
	overrides := make([]catalog.ModelConfig, len(a.cfg.Models))
	for i, m := range a.cfg.Models {
		overrides[i] = catalog.ModelConfig{
			ID:                 m.ID,
			Provider:           m.Provider,
			ContextWindow:      m.ContextWindow,
			MaxOutputTokens:    m.MaxOutputTokens,
			CostPer1KInput:     m.CostPer1KInput,
			CostPer1KOutput:    m.CostPer1KOutput,
			DefaultTemperature: m.DefaultTemperature,
			DefaultMaxTokens:   m.DefaultMaxTokens,
			Embedding:          m.Embedding,
		}
	}
	cat, err := catalog.New(overrides)
	if err != nil {
		return err
	}
	a.cat = cat

	switch a.cfg.Cache.Mode {
	case "redis":
		// RedisCache wraps the already-connected client in initGateway.
		a.log.Info("cache backend: redis")
	case "memory":
		a.memCache = gwCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")
	case "none":
		a.log.Info("cache backend: disabled")
	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	if a.cfg.Audit.Enabled {
		sinks := []audit.Sink{audit.NewSlogSink(a.log)}
		if a.cfg.Audit.ClickHouseAddr != "" {
			ch, err := audit.NewClickHouseSink(ctx, audit.ClickHouseConfig{
				Addr:     a.cfg.Audit.ClickHouseAddr,
				Database: a.cfg.Audit.ClickHouseDatabase,
				Username: a.cfg.Audit.ClickHouseUser,
				Password: a.cfg.Audit.ClickHousePassword,
			})
			if err != nil {
				return fmt.Errorf("clickhouse: %w", err)
			}
			sinks = append(sinks, ch)
			a.log.Info("audit sink: clickhouse", slog.String("addr", a.cfg.Audit.ClickHouseAddr))
		}
		if a.rdb != nil {
			a.auditStore = audit.NewRedisStore(a.rdb)
			sinks = append(sinks, a.auditStore)
		}

		auditor, err := audit.New(a.baseCtx, a.log, sinks...)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		a.auditor = auditor
		a.log.Info("audit logging enabled", slog.Int("sinks", len(sinks)))
	}

	return nil
}

// initGateway wires together the orchestrator and the HTTP server.
func (a *App) initGateway(_ context.Context) error {
	var cacheImpl gwCache.Cache
	var cacheReady func() bool

	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = gwCache.NewRedisCacheFromClient(a.rdb)
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	case "memory":
		cacheImpl = a.memCache
		cacheReady = func() bool { return true }
	case "none":
		// nil cache — the orchestrator skips caching entirely.
	}

	opts := gateway.Options{
		Logger:          a.log,
		ProviderTimeout: a.cfg.ProviderTimeout,
		CacheTTL:        a.cfg.Cache.TTL,
		Metrics:         a.prom,
		Cache:           cacheImpl,
		Audit:           a.auditor,
		CacheReady:      cacheReady,
	}

	// Rate limiting and budget tracking — only when Redis is available.
	rl := a.cfg.RateLimit
	if a.rdb != nil && (rl.RPMLimit > 0 || rl.RPDLimit > 0 || rl.TPMLimit > 0) {
		opts.Limiter = ratelimit.NewFixedWindowLimiter(a.rdb, ratelimit.Limits{
			RequestsPerMinute: rl.RPMLimit,
			RequestsPerDay:    rl.RPDLimit,
			TokensPerMinute:   rl.TPMLimit,
		})
		a.log.Info("rate limiting enabled",
			slog.Int("rpm", rl.RPMLimit),
			slog.Int("rpd", rl.RPDLimit),
			slog.Int("tpm", rl.TPMLimit),
		)
	}

	bl := a.cfg.Budget
	if a.rdb != nil && (bl.DailyLimit > 0 || bl.MonthlyLimit > 0) {
		prom := a.prom
		opts.Budget = budget.NewTracker(a.rdb, budget.Limits{
			Daily:          bl.DailyLimit,
			Monthly:        bl.MonthlyLimit,
			AlertThreshold: bl.AlertThreshold,
		}, a.log, budget.WithAlertFunc(func(period string, spent, limit float64) {
			prom.RecordBudgetAlert(period)
			prom.SetBudgetSpend(period, spent)
		}))
		a.log.Info("budget tracking enabled",
			slog.Float64("daily", bl.DailyLimit),
			slog.Float64("monthly", bl.MonthlyLimit),
		)
	}

	// Cache exclusions.
	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := gwCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		opts.Exclusions = el
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	a.gw = gateway.New(a.baseCtx, a.cat, a.provs, opts)

	a.srv = server.New(a.gw, server.Options{
		Logger:      a.log,
		Metrics:     a.prom,
		CORSOrigins: a.cfg.CORSOrigins,
		Version:     a.version,
		AuditStore:  a.auditStore,
		// Streaming completions can outlive the provider timeout.
		WriteTimeout: a.cfg.ProviderTimeout * 2,
	})

	return nil
}

// Package gateway is the core request orchestrator.
//
// The Service receives a normalized completion or embedding request, resolves
// the model in the catalog, runs admission (rate limits, then budget), checks
// the cache, calls the resolved provider, and settles cost accounting and the
// audit trail afterwards. It is transport-independent: the fasthttp layer in
// internal/server is one caller, tests construct it directly.
//
// Key design constraints:
//   - Gateway overhead < 2 ms P50. No blocking I/O on the hot path beyond
//     the admission checks themselves.
//   - Audit logger, cache, limiter, and budget tracker are optional and
//     nil-safe.
//   - All I/O uses context.Context so timeouts propagate correctly.
//   - Streaming responses are pass-through; they are never cached, and their
//     completion tokens are estimated when the stream drains.
//   - The service never retries upstream: a provider failure surfaces
//     immediately with a Retryable flag and the caller decides.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/ai-gateway/internal/audit"
	"github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/catalog"
	"github.com/nulpointcorp/ai-gateway/internal/cost"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/pkg/gwerr"
)

// Admitter runs rate-limit admission for one request. Satisfied by
// *ratelimit.FixedWindowLimiter.
type Admitter interface {
	Admit(ctx context.Context, model string) error
	RecordTokens(ctx context.Context, model string, tokens int)
}

// BudgetGuard enforces spend caps. Satisfied by *budget.Tracker.
type BudgetGuard interface {
	Check(ctx context.Context) error
	Accrue(ctx context.Context, model string, costUSD float64, tokens int)
}

// Options holds optional tuning parameters for a Service. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger for request events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger

	// ProviderTimeout is the per-provider request timeout.
	// Default: providers.ProviderTimeout (30s).
	ProviderTimeout time.Duration

	// CacheTTL controls the default TTL for cached responses. Default: 1h.
	CacheTTL time.Duration

	// Metrics enables Prometheus metrics collection. When nil, metrics are
	// disabled.
	Metrics *metrics.Registry

	// Limiter, Budget, Cache, Audit, and Exclusions are all optional.
	Limiter    Admitter
	Budget     BudgetGuard
	Cache      cache.Cache
	Audit      *audit.Logger
	Exclusions *cache.ExclusionList

	// CacheReady is the readiness probe for the cache backend, surfaced by
	// CheckHealth and /readiness.
	CacheReady func() bool
}

// Service is the orchestrator. All dependencies are injected via the
// constructor so they can be replaced with test doubles.
type Service struct {
	catalog   *catalog.Registry
	providers map[string]providers.Provider
	limiter   Admitter
	budget    BudgetGuard
	cache     cache.Cache
	excl      *cache.ExclusionList
	audit     *audit.Logger
	metrics   *metrics.Registry
	health    *HealthChecker
	log       *slog.Logger

	providerTimeout time.Duration
	cacheTTL        time.Duration

	// last observed audit drop count, for delta reporting to metrics.
	auditDropped atomic.Int64
}

// New creates a fully configured Service and starts the background health
// prober when at least one provider is registered.
func New(
	baseCtx context.Context,
	reg *catalog.Registry,
	provs map[string]providers.Provider,
	opts Options,
) *Service {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}
	if reg == nil {
		panic("gateway: catalog must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	providerTimeout := opts.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = providers.ProviderTimeout
	}

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	s := &Service{
		catalog:         reg,
		providers:       provs,
		limiter:         opts.Limiter,
		budget:          opts.Budget,
		cache:           opts.Cache,
		excl:            opts.Exclusions,
		audit:           opts.Audit,
		metrics:         opts.Metrics,
		log:             log,
		providerTimeout: providerTimeout,
		cacheTTL:        cacheTTL,
	}

	if len(provs) > 0 {
		s.health = NewHealthChecker(baseCtx, provs, opts.CacheReady, opts.Metrics)
	}

	return s
}

// Close stops the background health prober.
func (s *Service) Close() {
	if s.health != nil {
		s.health.Close()
	}
}

// GenerateCompletion runs the full request pipeline:
// validate → catalog → rate limit → budget → cache → provider → settle.
// Every error it returns is a *gwerr.Error.
func (s *Service) GenerateCompletion(ctx context.Context, opts RequestOptions) (*CompletionResponse, error) {
	start := time.Now()

	if opts.RequestID == "" {
		opts.RequestID = uuid.NewString()
	}
	if err := validateCompletion(&opts); err != nil {
		return nil, err
	}

	mc, ok := s.catalog.Lookup(opts.Model)
	if !ok || mc.Embedding {
		return nil, gwerr.ModelNotConfigured(opts.Model)
	}
	applyDefaults(&opts, mc)

	if err := s.admit(ctx, opts.Model); err != nil {
		s.observeDenied(opts, err, start)
		return nil, err
	}

	// Cache lookup before the upstream call. A hit ends the pipeline: no
	// provider invocation, no accrual.
	cacheEligible := !opts.Stream && !opts.SkipCache && s.cache != nil &&
		(s.excl == nil || !s.excl.Matches(opts.Model))
	cacheKey := ""
	if cacheEligible {
		cacheKey = buildCacheKey(mc.Provider, &opts)
		if hit, ok := s.cacheGet(ctx, cacheKey); ok {
			hit.Cached = true
			hit.Cost = cost.Zero
			hit.LatencyMs = time.Since(start).Milliseconds()
			s.observeCache(true)
			s.log.DebugContext(ctx, "cache_hit",
				slog.String("request_id", opts.RequestID),
				slog.String("model", opts.Model),
			)
			s.record(ctx, auditRecord{
				operation: "completion",
				provider:  mc.Provider,
				model:     opts.Model,
				requestID: opts.RequestID,
				caller:    opts.User,
				input:     serializeMessages(opts.Messages),
				output:    hit.Content,
				usage:     hit.Usage,
				status:    200,
				cached:    true,
			}, start)
			return hit, nil
		}
		s.observeCache(false)
	} else if s.metrics != nil {
		s.metrics.CacheGetBypass()
	}

	prov, ok := s.providers[mc.Provider]
	if !ok {
		return nil, gwerr.New(gwerr.CodeServiceUnavailable, mc.Provider,
			fmt.Sprintf("provider %q is not configured", mc.Provider), false)
	}

	s.log.InfoContext(ctx, "request",
		slog.String("request_id", opts.RequestID),
		slog.String("model", opts.Model),
		slog.String("provider", mc.Provider),
		slog.Bool("stream", opts.Stream),
	)

	provCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	resp, err := prov.Complete(provCtx, toProviderRequest(&opts))
	if err != nil {
		cancel()
		gw := gwerr.Classify(err, mc.Provider)
		s.log.ErrorContext(ctx, "provider_error",
			slog.String("request_id", opts.RequestID),
			slog.String("provider", mc.Provider),
			slog.String("code", string(gw.Code)),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		if s.metrics != nil {
			s.metrics.RecordError(mc.Provider, string(gw.Code))
		}
		// Routing failures reach the caller without cache, budget, or audit
		// writes; only metrics observe them.
		s.observeRequest(mc.Provider, opts.Model, gwerr.HTTPStatus(gw.Code), start)
		return nil, gw
	}

	if opts.Stream && resp.Stream != nil {
		return s.finishStream(ctx, cancel, &opts, mc, resp, start), nil
	}
	cancel()

	usage := UsageRecord{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
	}
	breakdown := cost.Compute(mc, usage.PromptTokens, usage.CompletionTokens)

	out := &CompletionResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Provider:     mc.Provider,
		Content:      resp.Content,
		FinishReason: resp.FinishReason,
		Usage:        usage,
		Cost:         breakdown,
		Timestamp:    time.Now().UTC(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}

	s.settle(ctx, opts.Model, usage, breakdown)

	if cacheEligible {
		s.cacheSet(ctx, cacheKey, out, opts.Model, mc.Provider)
	}

	s.record(ctx, auditRecord{
		operation: "completion",
		provider:  mc.Provider,
		model:     opts.Model,
		requestID: opts.RequestID,
		caller:    opts.User,
		input:     serializeMessages(opts.Messages),
		output:    resp.Content,
		usage:     usage,
		costUSD:   breakdown.Total,
		status:    200,
	}, start)

	s.log.DebugContext(ctx, "response_ok",
		slog.String("request_id", opts.RequestID),
		slog.String("provider", mc.Provider),
		slog.String("model", resp.Model),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens),
		slog.Float64("cost_usd", breakdown.Total),
		slog.Duration("elapsed", time.Since(start)),
	)

	return out, nil
}

// finishStream forwards chunks to the caller while accumulating content, then
// settles accounting with estimated completion tokens once the stream drains.
func (s *Service) finishStream(
	ctx context.Context,
	cancel context.CancelFunc,
	opts *RequestOptions,
	mc catalog.ModelConfig,
	resp *providers.Response,
	start time.Time,
) *CompletionResponse {
	wrapped := make(chan providers.StreamChunk, 64)

	promptTokens := s.estimateMessages(opts.Messages)

	go func() {
		defer cancel()
		defer close(wrapped)

		var content strings.Builder
		for chunk := range resp.Stream {
			content.WriteString(chunk.Content)
			wrapped <- chunk
		}

		// ~4 characters per token, same heuristic as CountTokens fallback.
		completionTokens := content.Len() / 4
		if completionTokens == 0 && content.Len() > 0 {
			completionTokens = 1
		}

		usage := UsageRecord{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		}
		breakdown := cost.Compute(mc, usage.PromptTokens, usage.CompletionTokens)

		s.settle(context.WithoutCancel(ctx), opts.Model, usage, breakdown)
		s.record(context.WithoutCancel(ctx), auditRecord{
			operation: "completion",
			provider:  mc.Provider,
			model:     opts.Model,
			requestID: opts.RequestID,
			caller:    opts.User,
			input:     serializeMessages(opts.Messages),
			output:    content.String(),
			usage:     usage,
			costUSD:   breakdown.Total,
			status:    200,
		}, start)
	}()

	return &CompletionResponse{
		ID:        resp.ID,
		Model:     opts.Model,
		Provider:  mc.Provider,
		Timestamp: time.Now().UTC(),
		Stream:    wrapped,
	}
}

// admit runs rate limiting then the budget check, in that order: a rate
// denial is cheaper to produce and the caller can retry it.
func (s *Service) admit(ctx context.Context, model string) error {
	if s.limiter != nil {
		if err := s.limiter.Admit(ctx, model); err != nil {
			if s.metrics != nil {
				s.metrics.RecordRateLimit("blocked")
			}
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordRateLimit("allowed")
		}
	}
	if s.budget != nil {
		if err := s.budget.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// settle records actual usage into the budget ledger, the token rate
// counters, and the metrics registry.
func (s *Service) settle(ctx context.Context, model string, usage UsageRecord, breakdown cost.Breakdown) {
	if s.budget != nil {
		s.budget.Accrue(ctx, model, breakdown.Total, usage.TotalTokens)
	}
	if s.limiter != nil {
		s.limiter.RecordTokens(ctx, model, usage.TotalTokens)
	}
	if s.metrics != nil {
		s.metrics.AddCost(model, breakdown.Total)
	}
}

func (s *Service) cacheGet(ctx context.Context, key string) (*CompletionResponse, bool) {
	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var resp CompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (s *Service) cacheSet(ctx context.Context, key string, resp *CompletionResponse, model, provider string) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL, "model:"+model, "provider:"+provider); err != nil {
		if s.metrics != nil {
			s.metrics.CacheSetError()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.CacheSetOK()
	}
}

func (s *Service) observeCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheGetHit()
	} else {
		s.metrics.CacheGetMiss()
	}
}

// auditRecord carries everything a completed request contributes to the
// audit trail and the request metrics.
type auditRecord struct {
	operation string
	provider  string
	model     string
	requestID string
	caller    string
	input     string
	output    string
	usage     UsageRecord
	costUSD   float64
	status    int
	errorCode string
	cached    bool
}

// record enqueues an audit entry and updates the request metrics. Never
// blocks. Only completed work reaches here: denials and routing failures go
// through observeRequest instead.
func (s *Service) record(ctx context.Context, rec auditRecord, start time.Time) {
	latency := time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordRequest(rec.provider, rec.model, rec.status, latency)
		s.metrics.AddTokens(rec.provider, rec.model, rec.usage.PromptTokens, rec.usage.CompletionTokens, rec.cached)
	}

	if s.audit == nil {
		return
	}
	s.audit.Record(audit.Entry{
		RequestID:        rec.requestID,
		CallerID:         rec.caller,
		Operation:        rec.operation,
		Provider:         rec.provider,
		Model:            rec.model,
		Input:            rec.input,
		Output:           rec.output,
		PromptTokens:     uint32(rec.usage.PromptTokens),
		CompletionTokens: uint32(rec.usage.CompletionTokens),
		CostUSD:          rec.costUSD,
		LatencyMs:        uint32(latency.Milliseconds()),
		Cached:           rec.cached,
		Status:           uint16(rec.status),
		ErrorCode:        rec.errorCode,
	})

	if s.metrics != nil {
		d := s.audit.Dropped()
		if prev := s.auditDropped.Swap(d); d > prev {
			s.metrics.AddAuditDropped(d - prev)
		}
	}
}

// observeRequest updates the request metrics without writing to the audit
// trail. Rejected requests must leave no state beyond the limiter's counter,
// so denials and routing failures use this instead of record.
func (s *Service) observeRequest(provider, model string, status int, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordRequest(provider, model, status, time.Since(start))
	}
}

// observeDenied reports an admission denial to the metrics registry.
func (s *Service) observeDenied(opts RequestOptions, err error, start time.Time) {
	code := gwerr.CodeUnknown
	if gw, ok := err.(*gwerr.Error); ok {
		code = gw.Code
	}
	mc, _ := s.catalog.Lookup(opts.Model)
	s.observeRequest(mc.Provider, opts.Model, gwerr.HTTPStatus(code), start)
}

// serializeMessages renders the prompt for the audit trail.
func serializeMessages(messages []Message) string {
	data, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	return string(data)
}

func validateCompletion(opts *RequestOptions) error {
	if opts.Model == "" {
		return gwerr.New(gwerr.CodeUnknown, "", "field 'model' is required", false)
	}
	if len(opts.Messages) == 0 {
		return gwerr.New(gwerr.CodeUnknown, "", "field 'messages' must not be empty", false)
	}
	return nil
}

// applyDefaults fills tuning fields from the catalog and clamps MaxTokens to
// the model's output ceiling.
func applyDefaults(opts *RequestOptions, mc catalog.ModelConfig) {
	if opts.Temperature == 0 && mc.DefaultTemperature > 0 {
		opts.Temperature = mc.DefaultTemperature
	}
	if opts.MaxTokens == 0 && mc.DefaultMaxTokens > 0 {
		opts.MaxTokens = mc.DefaultMaxTokens
	}
	if mc.MaxOutputTokens > 0 && opts.MaxTokens > mc.MaxOutputTokens {
		opts.MaxTokens = mc.MaxOutputTokens
	}
}

func toProviderRequest(opts *RequestOptions) *providers.Request {
	msgs := make([]providers.Message, len(opts.Messages))
	for i, m := range opts.Messages {
		msgs[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return &providers.Request{
		Model:            opts.Model,
		Messages:         msgs,
		Stream:           opts.Stream,
		Temperature:      opts.Temperature,
		MaxTokens:        opts.MaxTokens,
		TopP:             opts.TopP,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
		Stop:             opts.Stop,
		User:             opts.User,
		RequestID:        opts.RequestID,
	}
}

// buildCacheKey returns a deterministic SHA-256 cache key for the request.
// The provider name is included to prevent cross-provider key collisions when
// two providers share a model name. Stream, User, and RequestID are excluded:
// they do not change the upstream answer.
func buildCacheKey(provider string, opts *RequestOptions) string {
	data, _ := json.Marshal(struct {
		P    string    `json:"p"`
		M    string    `json:"m"`
		T    string    `json:"t"`
		MT   int       `json:"mt"`
		TP   string    `json:"tp"`
		FP   string    `json:"fp"`
		PP   string    `json:"pp"`
		Stop []string  `json:"stop,omitempty"`
		Msgs []Message `json:"msgs"`
	}{
		provider,
		opts.Model,
		fmt.Sprintf("%.2f", opts.Temperature),
		opts.MaxTokens,
		fmt.Sprintf("%.2f", opts.TopP),
		fmt.Sprintf("%.2f", opts.FrequencyPenalty),
		fmt.Sprintf("%.2f", opts.PresencePenalty),
		opts.Stop,
		opts.Messages,
	})
	h := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(h[:])
}

// Package ratelimit implements fixed-window request admission using Redis
// counters with atomic Lua scripts.
//
// Window key = scope + floor(now / windowLength). Counters are created lazily
// on first increment and expire with the window, so they never need explicit
// cleanup. Fixed windows admit up to 2× burst at window boundaries; that is
// an accepted property of this limiter, not a bug.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/ai-gateway/pkg/gwerr"
)

// fixedWindowScript atomically checks the current window counter against the
// limit and increments it only when admission succeeds, so a denied request
// leaves no trace beyond the read.
// KEYS[1] = window counter key
// ARGV[1] = limit (max requests per window)
// ARGV[2] = window length in milliseconds
// Returns: 0 if denied, otherwise the post-increment count.
var fixedWindowScript = redis.NewScript(`
		local limit     = tonumber(ARGV[1])
		local window_ms = tonumber(ARGV[2])

		local count = tonumber(redis.call('GET', KEYS[1]) or '0')
		if count >= limit then
			return 0
		end

		count = redis.call('INCR', KEYS[1])
		if count == 1 then
			redis.call('PEXPIRE', KEYS[1], window_ms)
		end
		return count
`)

// GlobalScope is the scope label for the gateway-wide counters.
const GlobalScope = "global"

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Limits holds the configured admission thresholds. Zero disables a check.
type Limits struct {
	RequestsPerMinute int
	RequestsPerDay    int
	TokensPerMinute   int
}

// FixedWindowLimiter admits requests against per-model and global
// fixed-window counters stored in Redis, so concurrent gateway replicas
// observe a consistent count.
type FixedWindowLimiter struct {
	rdb    *redis.Client
	limits Limits
	now    func() time.Time
}

// NewFixedWindowLimiter creates a limiter with the given thresholds.
func NewFixedWindowLimiter(rdb *redis.Client, limits Limits) *FixedWindowLimiter {
	return &FixedWindowLimiter{rdb: rdb, limits: limits, now: time.Now}
}

// Admit runs the admission checks for one request against model:
// per-model/minute, per-model/day, global/minute, global/day, and the
// tokens-per-minute budget. The first failing check denies the request.
//
// Per-minute denials are retryable (the window resets within 60s); per-day
// denials are not — retrying within the same day would violate the cap again.
// Redis unavailability admits the request (graceful degradation).
func (l *FixedWindowLimiter) Admit(ctx context.Context, model string) error {
	checks := []struct {
		scope     string
		window    time.Duration
		limit     int
		retryable bool
	}{
		{model, minuteWindow, l.limits.RequestsPerMinute, true},
		{model, dayWindow, l.limits.RequestsPerDay, false},
		{GlobalScope, minuteWindow, l.limits.RequestsPerMinute, true},
		{GlobalScope, dayWindow, l.limits.RequestsPerDay, false},
	}

	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		allowed, err := l.check(ctx, c.scope, c.window, c.limit)
		if err != nil {
			return nil // Redis unavailable — allow
		}
		if !allowed {
			return gwerr.RateLimited(c.scope, windowLabel(c.window), c.retryable)
		}
	}

	if l.limits.TokensPerMinute > 0 {
		over, err := l.tokensOverLimit(ctx, model)
		if err == nil && over {
			return gwerr.RateLimited(model, "tokens_per_minute", true)
		}
	}

	return nil
}

// RecordTokens settles actual token usage into the per-model and global
// tokens-per-minute counters after a completed upstream call.
func (l *FixedWindowLimiter) RecordTokens(ctx context.Context, model string, tokens int) {
	if l.limits.TokensPerMinute <= 0 || tokens <= 0 {
		return
	}
	for _, scope := range []string{model, GlobalScope} {
		key := l.tokenKey(scope)
		pipe := l.rdb.Pipeline()
		pipe.IncrBy(ctx, key, int64(tokens))
		pipe.PExpire(ctx, key, minuteWindow)
		_, _ = pipe.Exec(ctx) // best effort
	}
}

// check runs one fixed-window admission against Redis.
func (l *FixedWindowLimiter) check(ctx context.Context, scope string, window time.Duration, limit int) (bool, error) {
	key := l.windowKey(scope, window)

	result, err := fixedWindowScript.Run(ctx, l.rdb,
		[]string{key},
		limit, window.Milliseconds(),
	).Int()
	if err != nil {
		return true, err
	}

	return result != 0, nil
}

// tokensOverLimit reports whether the current minute's settled token count
// has already reached the TPM limit. This check-then-accrue pattern admits
// slight overshoot by design.
func (l *FixedWindowLimiter) tokensOverLimit(ctx context.Context, model string) (bool, error) {
	for _, scope := range []string{model, GlobalScope} {
		n, err := l.rdb.Get(ctx, l.tokenKey(scope)).Int()
		if err != nil && err != redis.Nil {
			return false, err
		}
		if n >= l.limits.TokensPerMinute {
			return true, nil
		}
	}
	return false, nil
}

// ScopeStatus describes one live admission counter for status reporting.
type ScopeStatus struct {
	Scope     string    `json:"scope"`
	Window    string    `json:"window"`
	Limit     int       `json:"limit"`
	Current   int       `json:"current"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Status returns the current counter values for the global scope and each of
// the given model scopes.
func (l *FixedWindowLimiter) Status(ctx context.Context, models []string) ([]ScopeStatus, error) {
	scopes := append([]string{GlobalScope}, models...)

	var out []ScopeStatus
	for _, scope := range scopes {
		for _, w := range []struct {
			window time.Duration
			limit  int
		}{
			{minuteWindow, l.limits.RequestsPerMinute},
			{dayWindow, l.limits.RequestsPerDay},
		} {
			if w.limit <= 0 {
				continue
			}
			current, err := l.rdb.Get(ctx, l.windowKey(scope, w.window)).Int()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("ratelimit: status %s: %w", scope, err)
			}
			remaining := w.limit - current
			if remaining < 0 {
				remaining = 0
			}
			out = append(out, ScopeStatus{
				Scope:     scope,
				Window:    windowLabel(w.window),
				Limit:     w.limit,
				Current:   current,
				Remaining: remaining,
				ResetAt:   l.windowEnd(w.window),
			})
		}
	}
	return out, nil
}

func (l *FixedWindowLimiter) windowKey(scope string, window time.Duration) string {
	windowStart := l.now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, windowLabel(window), windowStart)
}

func (l *FixedWindowLimiter) tokenKey(scope string) string {
	windowStart := l.now().Unix() / int64(minuteWindow.Seconds())
	return fmt.Sprintf("ratelimit:%s:tpm:%d", scope, windowStart)
}

func (l *FixedWindowLimiter) windowEnd(window time.Duration) time.Time {
	secs := int64(window.Seconds())
	start := l.now().Unix() / secs * secs
	return time.Unix(start+secs, 0).UTC()
}

func windowLabel(window time.Duration) string {
	if window == dayWindow {
		return "day"
	}
	return "minute"
}

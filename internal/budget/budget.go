// Package budget tracks cumulative spend against daily and monthly caps.
//
// Spend lives in Redis hashes keyed by period (budget:daily:<YYYY-MM-DD>,
// budget:monthly:<YYYY-MM>) so every gateway replica accrues into the same
// ledger. Admission is check-then-accrue: the cap is read before the upstream
// call and actual cost is added after, so concurrent requests near the cap
// can overshoot slightly. The overshoot is bounded by the cost of in-flight
// requests and is accepted; a reservation scheme would fail spend on errors.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/ai-gateway/pkg/gwerr"
)

const (
	fieldCost     = "cost"
	fieldRequests = "requests"
	fieldTokens   = "tokens"

	dailyTTL   = 48 * time.Hour
	monthlyTTL = 40 * 24 * time.Hour
)

// Limits holds the configured spend caps in USD. Zero disables a cap.
// AlertThreshold is a fraction of the cap (e.g. 0.8) at which a warning is
// emitted once per period.
type Limits struct {
	Daily          float64
	Monthly        float64
	AlertThreshold float64
}

// AlertFunc observes a threshold crossing. Wired to metrics by the caller.
type AlertFunc func(period string, spent, limit float64)

// Tracker accrues request cost into Redis and enforces the period caps.
type Tracker struct {
	rdb     *redis.Client
	limits  Limits
	log     *slog.Logger
	onAlert AlertFunc
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithAlertFunc registers a callback fired when spend crosses the alert
// threshold for a period.
func WithAlertFunc(fn AlertFunc) Option {
	return func(t *Tracker) { t.onAlert = fn }
}

// WithClock overrides the time source. Used in tests to pin the period keys.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a budget tracker.
func NewTracker(rdb *redis.Client, limits Limits, log *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{rdb: rdb, limits: limits, log: log, now: time.Now}
	if t.log == nil {
		t.log = slog.Default()
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Check denies the request when either period's spend has already reached its
// cap. Budget denials are never retryable: waiting does not reduce spend
// until the period rolls over. Redis unavailability admits the request.
func (t *Tracker) Check(ctx context.Context) error {
	for _, p := range []struct {
		period string
		key    string
		limit  float64
	}{
		{"daily", t.dailyKey(), t.limits.Daily},
		{"monthly", t.monthlyKey(), t.limits.Monthly},
	} {
		if p.limit <= 0 {
			continue
		}
		spent, err := t.spent(ctx, p.key)
		if err != nil {
			t.log.Warn("budget check degraded, allowing request", "error", err)
			return nil
		}
		if spent >= p.limit {
			return gwerr.BudgetExceeded(p.period, spent, p.limit)
		}
	}
	return nil
}

// Accrue records the actual cost of a completed request into both period
// ledgers, keyed globally and per model. Failures are logged, not returned:
// a lost accrual must not fail a request the upstream already served.
func (t *Tracker) Accrue(ctx context.Context, model string, cost float64, tokens int) {
	for _, p := range []struct {
		period string
		key    string
		limit  float64
		ttl    time.Duration
	}{
		{"daily", t.dailyKey(), t.limits.Daily, dailyTTL},
		{"monthly", t.monthlyKey(), t.limits.Monthly, monthlyTTL},
	} {
		pipe := t.rdb.Pipeline()
		costCmd := pipe.HIncrByFloat(ctx, p.key, fieldCost, cost)
		pipe.HIncrBy(ctx, p.key, fieldRequests, 1)
		pipe.HIncrBy(ctx, p.key, fieldTokens, int64(tokens))
		pipe.HIncrByFloat(ctx, p.key, modelField(model, fieldCost), cost)
		pipe.HIncrBy(ctx, p.key, modelField(model, fieldRequests), 1)
		pipe.HIncrBy(ctx, p.key, modelField(model, fieldTokens), int64(tokens))
		pipe.Expire(ctx, p.key, p.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			t.log.Error("budget accrual failed", "period", p.period, "model", model, "error", err)
			continue
		}
		t.maybeAlert(p.period, costCmd.Val(), cost, p.limit)
	}
}

// maybeAlert fires when this accrual moved spend across the threshold line.
// Comparing before/after keeps the alert to one emission per period.
func (t *Tracker) maybeAlert(period string, after, delta, limit float64) {
	if limit <= 0 || t.limits.AlertThreshold <= 0 {
		return
	}
	line := t.limits.AlertThreshold * limit
	before := after - delta
	if before < line && after >= line {
		t.log.Warn("budget alert threshold crossed",
			"period", period,
			"spent", after,
			"limit", limit,
			"threshold", t.limits.AlertThreshold,
		)
		if t.onAlert != nil {
			t.onAlert(period, after, limit)
		}
	}
}

// ModelUsage is the per-model slice of a period ledger.
type ModelUsage struct {
	Cost     float64 `json:"cost"`
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
}

// PeriodUsage summarizes one period's ledger.
type PeriodUsage struct {
	Period    string                `json:"period"`
	Spent     float64               `json:"spent"`
	Limit     float64               `json:"limit"`
	Remaining float64               `json:"remaining"`
	Requests  int64                 `json:"requests"`
	Tokens    int64                 `json:"tokens"`
	ByModel   map[string]ModelUsage `json:"by_model,omitempty"`
}

// Usage returns the current daily and monthly ledgers.
func (t *Tracker) Usage(ctx context.Context) ([]PeriodUsage, error) {
	out := make([]PeriodUsage, 0, 2)
	for _, p := range []struct {
		period string
		key    string
		limit  float64
	}{
		{"daily", t.dailyKey(), t.limits.Daily},
		{"monthly", t.monthlyKey(), t.limits.Monthly},
	} {
		fields, err := t.rdb.HGetAll(ctx, p.key).Result()
		if err != nil {
			return nil, fmt.Errorf("budget: usage %s: %w", p.period, err)
		}
		u := parseLedger(fields)
		u.Period = p.period
		u.Limit = p.limit
		if p.limit > 0 {
			u.Remaining = p.limit - u.Spent
			if u.Remaining < 0 {
				u.Remaining = 0
			}
		}
		out = append(out, u)
	}
	return out, nil
}

func parseLedger(fields map[string]string) PeriodUsage {
	u := PeriodUsage{ByModel: make(map[string]ModelUsage)}
	for k, v := range fields {
		switch k {
		case fieldCost:
			u.Spent, _ = strconv.ParseFloat(v, 64)
		case fieldRequests:
			u.Requests, _ = strconv.ParseInt(v, 10, 64)
		case fieldTokens:
			u.Tokens, _ = strconv.ParseInt(v, 10, 64)
		default:
			model, metric, ok := splitModelField(k)
			if !ok {
				continue
			}
			mu := u.ByModel[model]
			switch metric {
			case fieldCost:
				mu.Cost, _ = strconv.ParseFloat(v, 64)
			case fieldRequests:
				mu.Requests, _ = strconv.ParseInt(v, 10, 64)
			case fieldTokens:
				mu.Tokens, _ = strconv.ParseInt(v, 10, 64)
			}
			u.ByModel[model] = mu
		}
	}
	if len(u.ByModel) == 0 {
		u.ByModel = nil
	}
	return u
}

func (t *Tracker) spent(ctx context.Context, key string) (float64, error) {
	v, err := t.rdb.HGet(ctx, key, fieldCost).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(v, 64)
}

func (t *Tracker) dailyKey() string {
	return "budget:daily:" + t.now().UTC().Format("2006-01-02")
}

func (t *Tracker) monthlyKey() string {
	return "budget:monthly:" + t.now().UTC().Format("2006-01")
}

// modelField namespaces a per-model metric inside the period hash.
func modelField(model, metric string) string {
	return "m:" + model + ":" + metric
}

func splitModelField(field string) (model, metric string, ok bool) {
	if !strings.HasPrefix(field, "m:") {
		return "", "", false
	}
	rest := field[2:]
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

package gateway

import (
	"context"

	"github.com/nulpointcorp/ai-gateway/internal/budget"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/pkg/gwerr"
)

// BudgetReporter is the read side of the budget tracker. Satisfied by
// *budget.Tracker.
type BudgetReporter interface {
	Usage(ctx context.Context) ([]budget.PeriodUsage, error)
}

// StatusReporter is the read side of the rate limiter. Satisfied by
// *ratelimit.FixedWindowLimiter.
type StatusReporter interface {
	Status(ctx context.Context, models []string) ([]ratelimit.ScopeStatus, error)
}

// BudgetUsage returns the current spend ledgers. It requires the budget
// tracker to also implement BudgetReporter, which the Redis-backed tracker
// does.
func (s *Service) BudgetUsage(ctx context.Context) ([]budget.PeriodUsage, error) {
	rep, ok := s.budget.(BudgetReporter)
	if !ok {
		return nil, gwerr.New(gwerr.CodeUnknown, "", "budget tracking is not configured", false)
	}
	usage, err := rep.Usage(ctx)
	if err != nil {
		return nil, gwerr.Classify(err, "")
	}
	return usage, nil
}

// RateLimitStatus returns the live admission counters for the global scope
// and every model in the catalog.
func (s *Service) RateLimitStatus(ctx context.Context) ([]ratelimit.ScopeStatus, error) {
	rep, ok := s.limiter.(StatusReporter)
	if !ok {
		return nil, gwerr.New(gwerr.CodeUnknown, "", "rate limiting is not configured", false)
	}
	statuses, err := rep.Status(ctx, s.catalog.Models())
	if err != nil {
		return nil, gwerr.Classify(err, "")
	}
	return statuses, nil
}

// CheckHealth returns the latest background probe results.
func (s *Service) CheckHealth() HealthSnapshot {
	if s.health == nil {
		return HealthSnapshot{Status: "unknown"}
	}
	return s.health.Snapshot()
}

// Ready reports whether the gateway can serve traffic. Used by /readiness.
func (s *Service) Ready() bool {
	if s.health == nil {
		return true
	}
	return s.health.ReadinessOK()
}

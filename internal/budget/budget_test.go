package budget_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/ai-gateway/internal/budget"
	"github.com/nulpointcorp/ai-gateway/pkg/gwerr"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestTracker_AllowsUnderLimit(t *testing.T) {
	rdb, _ := newTestRedis(t)
	tr := budget.NewTracker(rdb, budget.Limits{Daily: 10}, nil)
	ctx := context.Background()

	tr.Accrue(ctx, "gpt-4", 9.99, 1000)

	if err := tr.Check(ctx); err != nil {
		t.Fatalf("check under limit: %v", err)
	}
}

func TestTracker_DeniesAtLimit(t *testing.T) {
	rdb, _ := newTestRedis(t)
	tr := budget.NewTracker(rdb, budget.Limits{Daily: 10}, nil)
	ctx := context.Background()

	tr.Accrue(ctx, "gpt-4", 10.00, 1000)

	err := tr.Check(ctx)
	var gw *gwerr.Error
	if !errors.As(err, &gw) {
		t.Fatalf("expected *gwerr.Error, got %v", err)
	}
	if gw.Code != gwerr.CodeBudgetExceeded {
		t.Errorf("code = %s, want %s", gw.Code, gwerr.CodeBudgetExceeded)
	}
	if gw.Retryable {
		t.Error("budget denial must not be retryable")
	}
}

func TestTracker_MonthlyCapIndependent(t *testing.T) {
	rdb, _ := newTestRedis(t)
	tr := budget.NewTracker(rdb, budget.Limits{Daily: 100, Monthly: 5}, nil)
	ctx := context.Background()

	tr.Accrue(ctx, "gpt-4", 6, 500)

	err := tr.Check(ctx)
	var gw *gwerr.Error
	if !errors.As(err, &gw) {
		t.Fatalf("expected monthly denial, got %v", err)
	}
}

func TestTracker_AlertFiresOnceOnCrossing(t *testing.T) {
	rdb, _ := newTestRedis(t)

	var alerts []float64
	tr := budget.NewTracker(rdb,
		budget.Limits{Daily: 10, AlertThreshold: 0.8},
		nil,
		budget.WithAlertFunc(func(period string, spent, limit float64) {
			if period == "daily" {
				alerts = append(alerts, spent)
			}
		}),
	)
	ctx := context.Background()

	tr.Accrue(ctx, "gpt-4", 7.50, 100) // below line
	tr.Accrue(ctx, "gpt-4", 1.00, 100) // crosses 8.00
	tr.Accrue(ctx, "gpt-4", 0.50, 100) // already past

	if len(alerts) != 1 {
		t.Fatalf("alert fired %d times, want 1", len(alerts))
	}
	if alerts[0] != 8.50 {
		t.Errorf("alert spent = %.2f, want 8.50", alerts[0])
	}
}

func TestTracker_AccrualIsAdditive(t *testing.T) {
	rdb, _ := newTestRedis(t)
	tr := budget.NewTracker(rdb, budget.Limits{Daily: 100}, nil)
	ctx := context.Background()

	tr.Accrue(ctx, "gpt-4", 0.006, 150)
	tr.Accrue(ctx, "gpt-4", 0.006, 150)
	tr.Accrue(ctx, "claude-sonnet-4-5", 0.010, 200)

	usage, err := tr.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	daily := usage[0]
	if daily.Period != "daily" {
		t.Fatalf("first period = %s, want daily", daily.Period)
	}
	if got, want := daily.Spent, 0.022; !approx(got, want) {
		t.Errorf("spent = %v, want %v", got, want)
	}
	if daily.Requests != 3 {
		t.Errorf("requests = %d, want 3", daily.Requests)
	}
	if daily.Tokens != 500 {
		t.Errorf("tokens = %d, want 500", daily.Tokens)
	}
	gpt := daily.ByModel["gpt-4"]
	if !approx(gpt.Cost, 0.012) || gpt.Requests != 2 || gpt.Tokens != 300 {
		t.Errorf("gpt-4 usage = %+v", gpt)
	}
}

func TestTracker_UsageReportsRemaining(t *testing.T) {
	rdb, _ := newTestRedis(t)
	tr := budget.NewTracker(rdb, budget.Limits{Daily: 10, Monthly: 100}, nil)
	ctx := context.Background()

	tr.Accrue(ctx, "gpt-4", 4, 100)

	usage, err := tr.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if got := usage[0].Remaining; !approx(got, 6) {
		t.Errorf("daily remaining = %v, want 6", got)
	}
	if got := usage[1].Remaining; !approx(got, 96) {
		t.Errorf("monthly remaining = %v, want 96", got)
	}
}

func TestTracker_DegradedGracefully(t *testing.T) {
	rdb, mr := newTestRedis(t)
	tr := budget.NewTracker(rdb, budget.Limits{Daily: 1}, nil)
	ctx := context.Background()

	mr.Close()

	if err := tr.Check(ctx); err != nil {
		t.Fatalf("check should fail open when Redis is down: %v", err)
	}
}

func approx(got, want float64) bool {
	d := got - want
	return d < 1e-9 && d > -1e-9
}

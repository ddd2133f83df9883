package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// probeWindow is how many probe results the rolling error rate spans.
const probeWindow = 20

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// providerState tracks the latest probe outcome plus a rolling failure
// window for one provider.
type providerState struct {
	mu        sync.RWMutex
	status    string // "ok" | "degraded" | "unknown"
	latencyMs int64
	failures  [probeWindow]bool
	probes    int
}

func (s *providerState) observe(ok bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.status = "ok"
	} else {
		s.status = "degraded"
	}
	s.latencyMs = latency.Milliseconds()
	s.failures[s.probes%probeWindow] = !ok
	s.probes++
}

func (s *providerState) snapshot() ProviderHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := s.status
	if status == "" {
		status = "unknown"
	}

	window := s.probes
	if window > probeWindow {
		window = probeWindow
	}
	var failed int
	for i := 0; i < window; i++ {
		if s.failures[i] {
			failed++
		}
	}
	rate := 0.0
	if window > 0 {
		rate = float64(failed) / float64(window)
	}

	return ProviderHealth{
		Status:    status,
		LatencyMs: s.latencyMs,
		ErrorRate: rate,
	}
}

// HealthChecker runs background probes and exposes the latest results.
type HealthChecker struct {
	providers  map[string]providers.Provider
	cacheReady func() bool
	baseCtx    context.Context
	metrics    *metrics.Registry

	providerStates map[string]*providerState
	cacheStatus    componentStatus

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background probes.
func NewHealthChecker(
	ctx context.Context,
	provs map[string]providers.Provider,
	cacheReady func() bool,
	met *metrics.Registry,
) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		providers:      provs,
		cacheReady:     cacheReady,
		providerStates: make(map[string]*providerState),
		startTime:      time.Now(),
		done:           make(chan struct{}),
		baseCtx:        ctx,
		metrics:        met,
	}

	for name := range provs {
		hc.providerStates[name] = &providerState{}
	}

	// Run first probe synchronously so health is not "unknown" immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// ProviderHealth is one provider's view in the health snapshot. ErrorRate is
// the failure fraction over the last probeWindow probes.
type ProviderHealth struct {
	Status    string  `json:"status"`
	LatencyMs int64   `json:"latency_ms"`
	ErrorRate float64 `json:"error_rate"`
}

// HealthSnapshot returns the current health state for all components.
type HealthSnapshot struct {
	Status        string                    `json:"status"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Providers     map[string]ProviderHealth `json:"providers"`
	Cache         string                    `json:"cache"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	provs := make(map[string]ProviderHealth, len(hc.providerStates))
	for name, s := range hc.providerStates {
		ph := s.snapshot()
		provs[name] = ph
		if ph.Status != "ok" {
			overall = "degraded"
		}
	}

	cache := hc.cacheStatus.get()
	if cache == "down" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Providers:     provs,
		Cache:         cache,
	}
}

// ReadinessOK returns true when the cache backend is reachable (or not
// configured). Provider degradation does not fail readiness: the gateway can
// still serve cached responses and healthy providers.
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.cacheStatus.get() != "down"
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	// Provider probes — run in parallel.
	var wg sync.WaitGroup
	for name, prov := range hc.providers {
		name, prov := name, prov
		s := hc.providerStates[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := prov.HealthCheck(ctx)
			s.observe(err == nil, time.Since(start))
			if hc.metrics != nil {
				hc.metrics.SetProviderHealth(name, err == nil)
			}
		}()
	}

	// Cache probe — nil probe means "not configured" → ok.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.cacheReady == nil || hc.cacheReady() {
			hc.cacheStatus.set("ok")
		} else {
			hc.cacheStatus.set("down")
		}
	}()

	wg.Wait()
}

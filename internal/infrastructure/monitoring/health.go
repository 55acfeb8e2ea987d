package monitoring

import (
	"context"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Check probes one dependency. A nil return means healthy.
type Check func(ctx context.Context) error

type namedCheck struct {
	name    string
	probe   Check
	timeout time.Duration
}

// HealthChecker aggregates dependency probes into one status report.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []namedCheck
}

// HealthStatus is the wire shape of one aggregated probe run.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// AddCheck registers a probe under name. A non-positive timeout falls back
// to the default.
func (h *HealthChecker) AddCheck(name string, timeout time.Duration, probe Check) {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, probe: probe, timeout: timeout})
}

// CheckAll runs every probe concurrently, each under its own timeout, and
// reports "unhealthy" as soon as any probe fails.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	type outcome struct {
		name string
		err  error
	}
	results := make(chan outcome, len(checks))
	for _, check := range checks {
		go func(c namedCheck) {
			probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			results <- outcome{name: c.name, err: c.probe(probeCtx)}
		}(check)
	}
	for range checks {
		res := <-results
		if res.err != nil {
			status.Status = "unhealthy"
			status.Checks[res.name] = res.err.Error()
			continue
		}
		status.Checks[res.name] = "healthy"
	}
	return status
}

// IsReady reports whether every probe currently passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}

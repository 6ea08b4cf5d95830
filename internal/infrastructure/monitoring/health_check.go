package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	defaultCheckTimeout = 5 * time.Second
)

// CheckFunc reports whether a dependency is usable. A false result with a
// nil error is reported as "check failed".
type CheckFunc func(ctx context.Context) (bool, error)

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

type healthCheck struct {
	name     string
	fn       CheckFunc
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	result  string
	passed  bool
	lastRun time.Time
}

// HealthChecker runs named dependency checks for the readiness probe.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []*healthCheck
	now    func() time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{now: time.Now}
}

// AddCheck registers fn under name. A positive interval reuses the last
// result for that long so frequent probes do not hammer the dependency.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc, interval, timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, &healthCheck{
		name:     name,
		fn:       fn,
		interval: interval,
		timeout:  timeout,
	})
}

// CheckAll runs every check concurrently. The overall status is healthy
// only if all of them pass. Checks sharing a name report the last one added.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]*healthCheck(nil), h.checks...)
	h.mu.RUnlock()

	type outcome struct {
		passed bool
		result string
	}
	outcomes := make([]outcome, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		i, check := i, check
		wg.Add(1)
		go func() {
			defer wg.Done()
			passed, result := check.run(ctx, h.now())
			outcomes[i] = outcome{passed: passed, result: result}
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: h.now(),
		Checks:    make(map[string]string, len(checks)),
	}
	for i, check := range checks {
		status.Checks[check.name] = outcomes[i].result
		if !outcomes[i].passed {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

func (c *healthCheck) run(ctx context.Context, now time.Time) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interval > 0 && !c.lastRun.IsZero() && now.Sub(c.lastRun) < c.interval {
		return c.passed, c.result
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ok, err := c.fn(checkCtx)
	switch {
	case err != nil:
		c.passed, c.result = false, err.Error()
	case !ok:
		c.passed, c.result = false, "check failed"
	default:
		c.passed, c.result = true, StatusHealthy
	}
	c.lastRun = now
	return c.passed, c.result
}

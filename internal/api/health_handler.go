package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/contact-orchestrator/internal/channels"
	"github.com/ignite/contact-orchestrator/internal/dispatch"
	"github.com/ignite/contact-orchestrator/internal/pkg/httputil"
)

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthChecker reports liveness and readiness. The store is critical;
// collaborators and Redis only degrade the service since channel failures
// are recorded per contact.
type HealthChecker struct {
	checks    []namedCheck
	registry  *channels.Registry
	stats     func() dispatch.PoolStats
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker. registry and stats may be nil.
func NewHealthChecker(registry *channels.Registry, stats func() dispatch.PoolStats) *HealthChecker {
	return &HealthChecker{
		registry:  registry,
		stats:     stats,
		startTime: time.Now(),
	}
}

// SetDispatch attaches the channel registry and pool stats once they exist.
func (hc *HealthChecker) SetDispatch(registry *channels.Registry, stats func() dispatch.PoolStats) {
	hc.registry = registry
	hc.stats = stats
}

// AddCheck registers a dependency probe. A failing critical check makes the
// service unready.
func (hc *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	hc.checks = append(hc.checks, namedCheck{name: name, critical: critical, fn: fn})
}

// HandleLiveness returns 200 while the process is up.
//
//	GET /health
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(hc.startTime).Round(time.Second).String(),
	}
	if hc.stats != nil {
		resp["dispatch"] = hc.stats()
	}
	if hc.registry != nil {
		resp["channels"] = hc.registry.Channels()
	}
	httputil.OK(w, resp)
}

// HandleReadiness probes every dependency and answers 503 when a critical
// one is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks, criticalDown := hc.runAllChecks(ctx)

	overall := "healthy"
	for _, c := range checks {
		if c.Status != "up" {
			overall = "degraded"
			break
		}
	}
	status := http.StatusOK
	if criticalDown {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	httputil.JSON(w, status, map[string]interface{}{
		"ready":  !criticalDown,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) (map[string]ComponentCheck, bool) {
	var (
		mu           sync.Mutex
		wg           sync.WaitGroup
		checks       = make(map[string]ComponentCheck)
		criticalDown bool
	)

	for _, c := range hc.checks {
		wg.Add(1)
		go func(c namedCheck) {
			defer wg.Done()
			res := probe(ctx, c.fn)
			mu.Lock()
			checks[c.name] = res
			if c.critical && res.Status == "down" {
				criticalDown = true
			}
			mu.Unlock()
		}(c)
	}

	if hc.registry != nil {
		start := time.Now()
		results := hc.registry.Ping(ctx)
		latency := time.Since(start)
		mu.Lock()
		for ch, err := range results {
			name := "channel:" + string(ch)
			if err != nil {
				checks[name] = ComponentCheck{Status: "down", Latency: latency.String(), Message: err.Error()}
				continue
			}
			checks[name] = ComponentCheck{Status: "up", Latency: latency.String()}
		}
		mu.Unlock()
	}

	wg.Wait()
	return checks, criticalDown
}

func probe(ctx context.Context, fn CheckFunc) ComponentCheck {
	start := time.Now()
	err := fn(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}
	if latency > time.Second {
		return ComponentCheck{
			Status:  "degraded",
			Latency: latency.String(),
			Message: fmt.Sprintf("slow response (%s)", latency),
		}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}

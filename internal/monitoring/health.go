package monitoring

import (
	"context"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type HealthChecker interface {
	RegisterCheck(name string, check CheckFunc)
	CheckHealth(ctx context.Context) *HealthStatus
}

type HealthStatus struct {
	Status     string                      `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status   string `json:"status"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

type healthChecker struct {
	checks    map[string]CheckFunc
	startTime time.Time
	version   string
	mutex     sync.RWMutex
}

func NewHealthChecker(version string) HealthChecker {
	return &healthChecker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
		version:   version,
	}
}

func (h *healthChecker) RegisterCheck(name string, check CheckFunc) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checks[name] = check
}

func (h *healthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mutex.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mutex.RUnlock()

	components := make(map[string]*ComponentHealth, len(checks))
	unhealthy := 0

	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		start := time.Now()
		err := check(checkCtx)
		cancel()

		component := &ComponentHealth{
			Status:   "healthy",
			Duration: time.Since(start).String(),
		}
		if err != nil {
			component.Status = "unhealthy"
			component.Error = err.Error()
			unhealthy++
		}
		components[name] = component
	}

	status := "healthy"
	switch {
	case unhealthy == len(components) && len(components) > 0:
		status = "unhealthy"
	case unhealthy > 0:
		status = "degraded"
	}

	return &HealthStatus{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).String(),
		Version:    h.version,
		Components: components,
	}
}

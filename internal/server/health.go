// Package server reports the health of the REM server and its backends.
package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc reports whether one backend is reachable.
type CheckFunc func(ctx context.Context) error

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Healthy returns true if every check passed.
func (r *HealthResponse) Healthy() bool {
	return r.Status == StatusHealthy
}

// HealthChecker runs named backend checks concurrently.
// With no checks registered, as in memory mode, it always reports healthy.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewHealthChecker creates a checker that gives each check up to timeout.
func NewHealthChecker(timeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *HealthChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
		clock:   clock,
		logger:  logger,
	}
}

// Register adds a named check, replacing any check with the same name.
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check and reports the combined status.
func (h *HealthChecker) Check(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]error, len(names))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check CheckFunc) {
			defer wg.Done()
			results[i] = check(ctx)
		}(i, check)
	}
	wg.Wait()

	response := &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
	}
	if len(names) > 0 {
		response.Checks = make(map[string]string, len(names))
	}
	for i, name := range names {
		if results[i] != nil {
			h.logger.Warn("health check failed", "check", name, "error", results[i])
			response.Status = StatusUnhealthy
			response.Checks[name] = results[i].Error()
			continue
		}
		response.Checks[name] = "ok"
	}

	return response
}

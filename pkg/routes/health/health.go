package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Check probes one dependency
type Check func(ctx context.Context) error

// Checker handles health check endpoints
type Checker struct {
	database  Check
	optional  map[string]Check
	version   string
	startTime time.Time
	timeout   time.Duration
	ready     atomic.Bool
}

// NewChecker creates a new health checker. database is required for a healthy status.
func NewChecker(database Check, version string) *Checker {
	return &Checker{
		database:  database,
		optional:  map[string]Check{},
		version:   version,
		startTime: time.Now(),
		timeout:   2 * time.Second,
	}
}

// Add registers a further dependency such as redis or the graph database
func (c *Checker) Add(name string, check Check) {
	c.optional[name] = check
}

// SetReady sets the readiness state
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// RegisterRoutes registers health check endpoints
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", c.Health)
	e.GET("/health/live", c.Live)
	e.GET("/health/ready", c.Ready)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

// CheckResult represents an individual check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health returns the overall health status
func (c *Checker) Health(ctx echo.Context) error {
	status := &HealthStatus{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult),
		ReportedAt: time.Now(),
	}

	if c.database == nil {
		status.Status = "unhealthy"
		status.Checks["database"] = &CheckResult{
			Status:  "unhealthy",
			Message: "database not configured",
		}
	} else {
		status.Checks["database"] = c.run(ctx.Request().Context(), c.database)
	}

	names := make([]string, 0, len(c.optional))
	for name := range c.optional {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status.Checks[name] = c.run(ctx.Request().Context(), c.optional[name])
	}

	for _, result := range status.Checks {
		if result.Status == "unhealthy" {
			status.Status = "unhealthy"
		}
	}

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return ctx.JSON(httpStatus, status)
}

func (c *Checker) run(ctx context.Context, check Check) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := check(ctx); err != nil {
		return &CheckResult{
			Status:  "unhealthy",
			Message: err.Error(),
		}
	}
	return &CheckResult{
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
}

// Live returns the liveness status (is the service running)
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready returns the readiness status (is the service ready to accept traffic)
func (c *Checker) Ready(ctx echo.Context) error {
	if c.ready.Load() {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

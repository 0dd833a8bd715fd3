// Package health reports whether the console and its backing services are usable.
//
// Checks run concurrently under a shared timeout. A failing critical check
// makes the service unhealthy (503 on /ready and /health); a failing
// non-critical check only degrades it.
//
//	manager := health.NewManager(version, health.WithTimeout(2*time.Second))
//	manager.Register(health.NewDatabaseChecker("database", sqlDB.PingContext))
//	manager.Register(health.NewRedisChecker("redis", rdb))
//	manager.Mount(e)
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents the result of a single health check.
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Critical  bool          `json:"critical"`
	Latency   time.Duration `json:"-"`
	LatencyMs int64         `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Err combines the failures of every non-healthy check, or nil.
func (r *Report) Err() error {
	var err error
	for _, c := range r.Checks {
		if c.Status != StatusHealthy {
			err = multierr.Append(err, fmt.Errorf("%s: %s", c.Name, c.Message))
		}
	}
	return err
}

// Checker is the interface for health check implementations.
type Checker interface {
	Name() string
	Check(ctx context.Context) *Check
}

type registration struct {
	checker  Checker
	critical bool
}

// Manager coordinates health checks.
type Manager struct {
	mu      sync.RWMutex
	checks  []registration
	version string
	timeout time.Duration
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// NewManager creates a new health manager.
func NewManager(version string, opts ...ManagerOption) *Manager {
	m := &Manager{
		version: version,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTimeout sets the check timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// Register adds a critical checker.
func (m *Manager) Register(checker Checker) {
	m.add(checker, true)
}

// RegisterOptional adds a checker whose failure only degrades the service.
func (m *Manager) RegisterOptional(checker Checker) {
	m.add(checker, false)
}

func (m *Manager) add(checker Checker, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, registration{checker: checker, critical: critical})
}

// Check runs all health checks and returns a report. Checks are ordered by name.
func (m *Manager) Check(ctx context.Context) *Report {
	m.mu.RLock()
	regs := make([]registration, len(m.checks))
	copy(regs, m.checks)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	report := &Report{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    make([]Check, len(regs)),
	}

	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			start := time.Now()
			check := reg.checker.Check(ctx)
			if check == nil {
				check = &Check{Name: reg.checker.Name(), Status: StatusUnhealthy, Message: "no result"}
			}
			if !reg.critical && check.Status == StatusUnhealthy {
				check.Status = StatusDegraded
			}
			check.Critical = reg.critical
			check.Latency = time.Since(start)
			check.LatencyMs = check.Latency.Milliseconds()
			check.Timestamp = time.Now().UTC()
			report.Checks[i] = *check
		}(i, reg)
	}
	wg.Wait()

	for _, check := range report.Checks {
		switch check.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status != StatusUnhealthy {
				report.Status = StatusDegraded
			}
		}
	}
	sort.Slice(report.Checks, func(i, j int) bool { return report.Checks[i].Name < report.Checks[j].Name })

	return report
}

// ---- HTTP Handlers ----

// Mount registers /healthz, /ready and /health on e.
func (m *Manager) Mount(e *echo.Echo) {
	e.GET("/healthz", m.live)
	e.GET("/ready", m.ready)
	e.GET("/health", m.full)
}

func (m *Manager) live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (m *Manager) ready(c echo.Context) error {
	if m.Check(c.Request().Context()).Status == StatusUnhealthy {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (m *Manager) full(c echo.Context) error {
	report := m.Check(c.Request().Context())
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// ---- Built-in Checkers ----

// PingChecker reports healthy when its ping function succeeds.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) *Check {
	check := &Check{Name: c.name, Status: StatusHealthy, Message: "connected"}
	if err := c.ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			check.Message = "timeout"
		}
	}
	return check
}

// NewDatabaseChecker creates a database health checker, typically from sql.DB.PingContext.
func NewDatabaseChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// NewRedisChecker pings client.
func NewRedisChecker(name string, client redis.UniversalClient) *PingChecker {
	return &PingChecker{name: name, ping: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

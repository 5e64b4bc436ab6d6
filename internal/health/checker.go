// Package health probes the daemon's dependencies for the /health
// endpoint. The database is critical; the rate-limit cache degrades the
// service but does not take it down.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Status is the health state of a component or of the whole daemon.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component is one probed dependency.
type Component struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report is the overall result of one health check pass.
type Report struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components,omitempty"`
}

// Pinger is what the checker needs from the rate-limit cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the dependencies to probe.
type Config struct {
	DB    *sql.DB
	Cache Pinger

	DBTimeout    time.Duration
	MaxDBLatency time.Duration
}

// Checker performs health checks on the daemon's dependencies.
type Checker struct {
	db    *sql.DB
	cache Pinger

	dbTimeout    time.Duration
	maxDBLatency time.Duration

	mu   sync.RWMutex
	last Report
}

// New creates a checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.MaxDBLatency == 0 {
		cfg.MaxDBLatency = 100 * time.Millisecond
	}
	return &Checker{
		db:           cfg.DB,
		cache:        cfg.Cache,
		dbTimeout:    cfg.DBTimeout,
		maxDBLatency: cfg.MaxDBLatency,
	}
}

// Check probes all configured dependencies and returns the overall report.
func (c *Checker) Check(ctx context.Context) Report {
	var wg sync.WaitGroup
	results := make(chan Component, 2)

	if c.db != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx)
		}()
	}
	if c.cache != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkCache(ctx)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	components := make([]Component, 0, 2)
	for comp := range results {
		components = append(components, comp)
	}

	report := overall(components)
	c.mu.Lock()
	c.last = report
	c.mu.Unlock()
	return report
}

// Last returns the most recent report without probing again.
func (c *Checker) Last() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last.Timestamp.IsZero() {
		return Report{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return c.last
}

func (c *Checker) checkDatabase(ctx context.Context) Component {
	comp := Component{Name: "database", Type: "database", Timestamp: time.Now()}

	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	start := time.Now()
	err := c.db.PingContext(dbCtx)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "database unreachable"
		return comp
	}
	if comp.Latency > c.maxDBLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("high latency: %v", comp.Latency)
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "connected"
	return comp
}

func (c *Checker) checkCache(ctx context.Context) Component {
	comp := Component{Name: "rate_limit_cache", Type: "cache", Timestamp: time.Now()}

	cacheCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	start := time.Now()
	err := c.cache.Ping(cacheCtx)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "cache unreachable, rate limiting degraded"
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "connected"
	return comp
}

// overall folds component states into a daemon state. A database failure
// is fatal; everything else only degrades.
func overall(components []Component) Report {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return Report{Status: status, Timestamp: time.Now(), Components: components}
}

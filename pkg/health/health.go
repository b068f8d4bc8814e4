// Package health monitors the server's adapters and the bus itself and
// aggregates their status for the HTTP status endpoint.
package health

import (
	"context"
	"time"
)

// Status of one monitored component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result is one component's health report.
type Result struct {
	Component string         `json:"component"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
}

// Checker is implemented by components that can report their health.
type Checker interface {
	Check(ctx context.Context) *Result
	Name() string
}

// CheckerFunc adapts a function into a named Checker.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) *Result
}

func (f CheckerFunc) Check(ctx context.Context) *Result { return f.Fn(ctx) }
func (f CheckerFunc) Name() string                      { return f.ComponentName }

// Aggregated is the combined report of every registered component.
type Aggregated struct {
	OverallStatus Status             `json:"status"`
	Components    map[string]*Result `json:"components"`
	Timestamp     time.Time          `json:"timestamp"`
}

// IsHealthy reports whether every component checked out.
func (a *Aggregated) IsHealthy() bool { return a.OverallStatus == StatusHealthy }

// Overall reduces component results to one status: any unhealthy component
// makes the whole report unhealthy, any degraded or unknown one makes it
// degraded.
func Overall(results map[string]*Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}
	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusUnknown:
			overall = StatusDegraded
		}
	}
	return overall
}

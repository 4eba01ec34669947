// Package health combines dependency reachability and per-monitor liveness
// into one aggregate status.
package health

import (
	"context"
	"time"

	"github.com/streamwatch/crawler/internal/watch"
)

// Checker is one component's health probe. Records are recomputed on each
// query and never persisted.
type Checker interface {
	Name() string
	Check(ctx context.Context) watch.HealthRecord
}

// Entry is one component's slice of a health report.
type Entry struct {
	Status  watch.HealthStatus `json:"status"`
	Message string             `json:"message,omitempty"`
}

// Report is the aggregate answer to a health query. Status is the worst of
// all component statuses.
type Report struct {
	Status  watch.HealthStatus `json:"status"`
	Entries map[string]Entry   `json:"entries"`
}

// Aggregator fans a health query out to all registered checkers.
type Aggregator struct {
	checkers []Checker
	clock    watch.Clock
	timeout  time.Duration
}

// NewAggregator builds an Aggregator. timeout bounds each individual check.
func NewAggregator(clock watch.Clock, timeout time.Duration, checkers ...Checker) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{checkers: checkers, clock: clock, timeout: timeout}
}

// Check runs every checker and aggregates to the worst status.
func (a *Aggregator) Check(ctx context.Context) Report {
	report := Report{
		Status:  watch.Healthy,
		Entries: make(map[string]Entry, len(a.checkers)),
	}
	for _, c := range a.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
		rec := c.Check(checkCtx)
		cancel()
		report.Status = report.Status.Worst(rec.Status)
		report.Entries[c.Name()] = Entry{Status: rec.Status, Message: rec.Message}
	}
	return report
}

// PingChecker adapts a dependency's Ping into a Checker. A failed or timed
// out ping reports Unhealthy.
type PingChecker struct {
	name  string
	clock watch.Clock
	ping  func(ctx context.Context) error
}

// NewPingChecker wraps ping under the given component name.
func NewPingChecker(name string, clock watch.Clock, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, clock: clock, ping: ping}
}

// Name returns the component name.
func (c *PingChecker) Name() string { return c.name }

// Check pings the dependency.
func (c *PingChecker) Check(ctx context.Context) watch.HealthRecord {
	rec := watch.HealthRecord{
		Component: c.name,
		Status:    watch.Healthy,
		Message:   "reachable",
		CheckedAt: c.clock.Now(),
	}
	if err := c.ping(ctx); err != nil {
		rec.Status = watch.Unhealthy
		rec.Message = err.Error()
	}
	return rec
}

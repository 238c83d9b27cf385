// Package health aggregates liveness and readiness checks of the store
// client, lock backends and process loops.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ErrUnknownCheck is returned by CheckOne for an unregistered name.
var ErrUnknownCheck = errors.New("health check not found")

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Optional  bool          `json:"optional,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker is the interface that health check implementations must satisfy
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

type registration struct {
	checker  Checker
	optional bool
}

// Registry holds the checks of one process. Required checks gate readiness;
// a failing optional check only degrades it. The store and the loop checks
// are required, databases used by a single maintenance task are optional.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]registration
}

// NewRegistry creates a new health check registry
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]registration)}
}

// Register adds a required check. A check with the same name is replaced.
func (r *Registry) Register(checker Checker) {
	r.add(checker, false)
}

// RegisterOptional adds a check whose failure degrades but does not fail the
// aggregate.
func (r *Registry) RegisterOptional(checker Checker) {
	r.add(checker, true)
}

// RegisterFunc registers a required function-based check.
func (r *Registry) RegisterFunc(name string, checkFunc func(ctx context.Context) CheckResult) {
	r.add(&namedChecker{name: name, checkFunc: checkFunc}, false)
}

func (r *Registry) add(checker Checker, optional bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[checker.Name()] = registration{checker: checker, optional: optional}
}

// Check runs all registered checks concurrently. Results are sorted by name.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	r.mu.RLock()
	regs := make([]registration, 0, len(r.checks))
	for _, reg := range r.checks {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(regs))
	var wg sync.WaitGroup
	for idx, reg := range regs {
		wg.Add(1)
		go func(idx int, reg registration) {
			defer wg.Done()
			result := reg.checker.Check(ctx)
			result.Optional = reg.optional
			recordCheck(result)
			results[idx] = result
		}(idx, reg)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return AggregatedResult{
		Status:    aggregate(results),
		Checks:    results,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

func aggregate(results []CheckResult) Status {
	overall := StatusHealthy
	for _, result := range results {
		if result.Status == StatusHealthy {
			continue
		}
		if !result.Optional && result.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		overall = StatusDegraded
	}
	return overall
}

// CheckOne runs a specific health check by name
func (r *Registry) CheckOne(ctx context.Context, name string) (CheckResult, error) {
	r.mu.RLock()
	reg, exists := r.checks[name]
	r.mu.RUnlock()

	if !exists {
		return CheckResult{}, fmt.Errorf("%w: %s", ErrUnknownCheck, name)
	}
	result := reg.checker.Check(ctx)
	result.Optional = reg.optional
	return result, nil
}

// List returns the sorted names of all registered health checks
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregatedResult represents the aggregated result of all health checks
type AggregatedResult struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// IsHealthy reports whether every required check passed. A degraded
// aggregate is still healthy.
func (r AggregatedResult) IsHealthy() bool {
	return r.Status != StatusUnhealthy
}

type namedChecker struct {
	name      string
	checkFunc func(ctx context.Context) CheckResult
}

func (c *namedChecker) Check(ctx context.Context) CheckResult {
	return c.checkFunc(ctx)
}

func (c *namedChecker) Name() string {
	return c.name
}

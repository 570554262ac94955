// Package health runs named dependency checks for the /health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single check when the caller's context has no
// earlier deadline.
const DefaultCheckTimeout = 2 * time.Second

// Status is the outcome of one check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) Status

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Ping returns a Checker that is healthy when p answers a ping.
func Ping(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Registry holds named checkers in registration order.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultCheckTimeout}
}

// Register adds a named checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently and returns the aggregate result
// with statuses in registration order. A checker that outlives its timeout is
// reported unhealthy.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = r.run(ctx, nc)
		}()
	}
	wg.Wait()

	healthy = true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func (r *Registry) run(ctx context.Context, nc namedChecker) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan Status, 1)
	go func() { done <- nc.check(ctx) }()

	select {
	case s := <-done:
		if s.Name == "" {
			s.Name = nc.name
		}
		return s
	case <-ctx.Done():
		return Status{Name: nc.name, Healthy: false, Detail: "check timed out"}
	}
}

package detection

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many evaluation tasks run at once across every scan and
// async check in the process.
type Pool struct {
	size     int
	sem      *semaphore.Weighted
	inflight *tracker
}

// NewPool creates a pool of size slots. Non-positive sizes use GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		size:     size,
		sem:      semaphore.NewWeighted(int64(size)),
		inflight: newTracker(),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Go blocks until a slot is free, then runs fn on its own goroutine.
// If ctx ends first, fn is not run and ctx's error is returned.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inflight.start()
	poolBusy.Inc()
	go func() {
		defer func() {
			poolBusy.Dec()
			p.sem.Release(1)
			p.inflight.done()
		}()
		fn()
	}()
	return nil
}

// Wait blocks until every task started through Go has returned.
func (p *Pool) Wait() {
	p.inflight.wait()
}

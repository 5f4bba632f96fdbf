// Package workerpool provides a bounded pool shared by every concurrent
// stage of a run. The bound holds across all callers of the same Pool.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultSize is used when a non-positive size is requested.
const DefaultSize = 6

// Pool limits how many jobs run at once.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// New creates a pool allowing size concurrent jobs.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return int(p.size)
}

// Each calls fn for every index in [0, n), running at most Size calls at a
// time across all users of the pool. It waits for every started call and
// returns the first error, or the context error if the context ended before
// all calls could start.
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)

	var acquireErr error
	for i := range n {
		if err := gctx.Err(); err != nil {
			acquireErr = err
			break
		}
		if err := p.sem.Acquire(gctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return fn(gctx, i)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if acquireErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return acquireErr
	}
	return nil
}

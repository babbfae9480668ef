// Package workers provides the bounded executors used by the scraper.
//
// Network fetches and HTML parsing have different resource profiles, so
// they run on separate Pool instances whose limits are tuned independently.
// Both satisfy Executor.
package workers

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work, addressed by its index in the submitted range.
type Task func(ctx context.Context, i int) error

// Executor runs n indexed tasks and waits for all of them. Name and Limit
// describe the executor in stage logs.
type Executor interface {
	Run(ctx context.Context, n int, task Task) error
	Name() string
	Limit() int
}

// Pool is an errgroup-backed Executor with an optional concurrency limit.
type Pool struct {
	name  string
	limit int
}

// NewIOPool returns a pool for network-bound work. A limit of zero or
// less leaves concurrency unbounded; callers bound it by batch size.
func NewIOPool(limit int) *Pool {
	if limit < 0 {
		limit = 0
	}
	return &Pool{name: "io", limit: limit}
}

// NewCPUPool returns a pool for CPU-bound work. A limit of zero or less
// uses GOMAXPROCS.
func NewCPUPool(limit int) *Pool {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	return &Pool{name: "cpu", limit: limit}
}

func (p *Pool) Name() string {
	return p.name
}

// Limit reports the configured concurrency limit, zero meaning unbounded.
func (p *Pool) Limit() int {
	return p.limit
}

// Run executes task for every index in [0, n). The first error cancels the
// context handed to the remaining tasks; Run still waits for every started
// task before returning that error.
func (p *Pool) Run(ctx context.Context, n int, task Task) error {
	if n <= 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return task(gctx, i)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Package workpool bounds the concurrency of CPU-heavy Sphinx
// unwrap/PoR-derivation work (§5) behind a fixed-size semaphore, the same
// shape htlcswitch/hop.OnionProcessor.DecodeHopIterators uses to process a
// batch of onion packets without letting an unbounded burst of incoming
// packets spawn an unbounded number of goroutines doing scalar-multiply
// work at once.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool bounds concurrent execution of submitted work to a fixed capacity.
type Pool struct {
	sem     chan struct{}
	metrics *Metrics
}

// New constructs a Pool that runs at most capacity jobs concurrently, with
// no metrics reporting.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{sem: make(chan struct{}, capacity)}
}

// WithMetrics attaches m to the pool; subsequent Submit/Batch calls report
// through it. It returns p for chaining after New.
func (p *Pool) WithMetrics(m *Metrics) *Pool {
	p.metrics = m
	return p
}

// Submit runs fn once a slot is free, blocking until one is or ctx is
// cancelled.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.metrics.acquired()
	defer func() {
		<-p.sem
		p.metrics.released()
	}()

	return fn(ctx)
}

// Batch runs every job in jobs, at most Pool's capacity at a time,
// mirroring OnionProcessor.DecodeHopIterators's batched-request shape: the
// whole batch either all succeeds or the first error cancels the rest via
// the shared errgroup context.
func (p *Pool) Batch(ctx context.Context, jobs []func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return p.Submit(gctx, job)
		})
	}

	return g.Wait()
}

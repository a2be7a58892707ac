package scheduler

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/flowllm-ai/flowllm/flowerr"
)

// WorkerPool is a bounded FIFO admission gate for blocking calls (spec
// §4.6 "Worker pool"). When saturated, Acquire blocks the caller — this is
// the backpressure mechanism for every Group.SubmitBlocking task, both a
// Parallel node's async_mode=false children and sync functions submitted
// from within async Ops.
type WorkerPool struct {
	sem      chan struct{}
	capacity int
	limiter  *rate.Limiter
}

func newWorkerPool(capacity int) *WorkerPool {
	return &WorkerPool{
		sem:      make(chan struct{}, capacity),
		capacity: capacity,
	}
}

func (p *WorkerPool) inUse() int { return len(p.sem) }

// Acquire blocks until a worker slot is free or ctx is done. Cancellation
// unblocks an Acquire call in progress with a Cancelled error (spec §4.6
// boundary behavior "Worker pool at capacity").
func (p *WorkerPool) Acquire(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return flowerr.Wrap(flowerr.KindCancelled, err, "worker pool: admission cancelled")
		}
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return flowerr.Wrap(flowerr.KindCancelled, ctx.Err(), "worker pool: acquire cancelled")
	}
}

// Release frees the worker slot acquired by a prior successful Acquire.
func (p *WorkerPool) Release() {
	select {
	case <-p.sem:
	default:
	}
}

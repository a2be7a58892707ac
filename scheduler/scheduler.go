// Package scheduler implements the cooperative task submitter/joiner and
// the bounded worker pool described in spec §4.6. async_mode=true Ops
// submit cooperative tasks as goroutines (Go's runtime scheduler already
// cooperatively multiplexes goroutines at channel operations, function
// calls and syscalls, so no separate single-threaded driver is needed —
// see spec Design Notes on "Async/await with a thread pool for blocking").
// Tasks submitted with Group.SubmitBlocking (a Parallel node's
// async_mode=false children, and any sync function an async Op needs to
// call) run on the bounded WorkerPool instead, which is the explicit
// hand-off point between the two tiers. An async_mode=false Op invoked
// directly through the op Runtime runs Execute on the caller's goroutine
// and does not take a WorkerPool slot.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowllm-ai/flowllm/telemetry"
)

// Scheduler owns the single bounded worker pool shared by every
// Group.SubmitBlocking task: a Parallel node's async_mode=false children
// and every sync function an async Op hands off. Sharing one pool across both paths is a
// deliberate design decision (spec §9 open question) made so backpressure
// is coherent process-wide rather than split across two independently
// sized pools.
type Scheduler struct {
	pool    *WorkerPool
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithMetrics attaches a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithAdmissionRateLimit bounds the rate at which new blocking submissions
// are admitted into the worker pool, ahead of the pool's own semaphore.
// This smooths bursts of synchronous submissions before they queue against
// the hard capacity limit (grounded in digitallysavvy-go-ai's use of
// golang.org/x/time for provider-call throttling).
func WithAdmissionRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Scheduler) { s.pool.limiter = rate.NewLimiter(limit, burst) }
}

// New constructs a Scheduler whose worker pool allows at most maxWorkers
// concurrent blocking calls (spec §6.4 thread_pool_max_workers, default 128
// when maxWorkers <= 0).
func New(maxWorkers int, opts ...Option) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = 128
	}
	s := &Scheduler{
		pool:    newWorkerPool(maxWorkers),
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewGroup returns a fresh task group scoped to one Op invocation. Join on
// the returned group waits only for tasks this group submitted, never a
// parent's or sibling's tasks (spec §4.6 "tasks submitted by this Op").
func (s *Scheduler) NewGroup() *Group {
	return &Group{sched: s}
}

// PoolStats reports current worker pool occupancy for diagnostics/metrics.
func (s *Scheduler) PoolStats() (inUse, capacity int) {
	return s.pool.inUse(), s.pool.capacity
}

// Fn is the signature every submitted task (cooperative or blocking) must
// implement. Go's static typing makes the spec's "submitting a
// non-coroutine is a logged no-op" branch unreachable: the compiler rejects
// anything that isn't an Fn before Submit is ever called.
type Fn func(ctx context.Context) (any, error)

// Result is one task's outcome, used by Join(returnExceptions=true) to
// report per-position success/failure without losing submission order
// (spec §4.6).
type Result struct {
	Value any
	Err   error
}

// recordTimer is a small helper so callers don't need a nil check on
// s.metrics in hot paths.
func (s *Scheduler) recordTimer(name string, start time.Time, tags ...string) {
	s.metrics.RecordTimer(name, time.Since(start), tags...)
}

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/flowllm-ai/flowllm/flowerr"
)

// taskHandle is the internal bookkeeping for one submitted task.
type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	result any
	err    error
}

// TaskHandle is returned by SubmitAsync/SubmitBlocking for callers that
// need to await or cancel a single task outside of Join.
type TaskHandle struct{ h *taskHandle }

// Wait blocks until the task completes or ctx is done, returning the
// task's result.
func (t *TaskHandle) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.h.done:
		return t.h.result, t.h.err
	case <-ctx.Done():
		return nil, flowerr.Wrap(flowerr.KindCancelled, ctx.Err(), "task wait cancelled")
	}
}

// Cancel requests cancellation of the task's context.
func (t *TaskHandle) Cancel() { t.h.cancel() }

// Group is a per-Op-invocation task group. Join waits only for tasks this
// Group submitted (spec §4.6: "not its parent, not its siblings").
type Group struct {
	sched *Scheduler
	mu    sync.Mutex
	tasks []*taskHandle
}

// SubmitAsync registers fn as a cooperative task in this group, running it
// immediately on its own goroutine. Since Go is statically typed, fn is
// always a valid Fn; the spec's "submitting a non-coroutine is a logged
// no-op" branch cannot occur (spec §4.6).
func (g *Group) SubmitAsync(ctx context.Context, fn Fn) *TaskHandle {
	return g.submit(ctx, fn, false)
}

// SubmitBlocking registers fn to run on the shared bounded worker pool,
// gating admission with the pool's semaphore (and optional rate limiter).
// Use this from within an async_mode=true Op to call out to a blocking
// function without stalling the cooperative tier (spec §5 "Cross-tier
// hand-off").
func (g *Group) SubmitBlocking(ctx context.Context, fn Fn) *TaskHandle {
	return g.submit(ctx, fn, true)
}

func (g *Group) submit(ctx context.Context, fn Fn, blocking bool) *TaskHandle {
	taskCtx, cancel := context.WithCancel(ctx)
	h := &taskHandle{cancel: cancel, done: make(chan struct{})}
	g.mu.Lock()
	g.tasks = append(g.tasks, h)
	g.mu.Unlock()

	go func() {
		defer close(h.done)
		if blocking {
			if err := g.sched.pool.Acquire(taskCtx); err != nil {
				h.err = err
				return
			}
			defer g.sched.pool.Release()
		}
		v, err := fn(taskCtx)
		h.result, h.err = v, err
	}()

	return &TaskHandle{h: h}
}

// Join waits for every task this group has submitted so far (spec §4.6).
//
//   - timeout > 0: an additional local deadline on top of ctx; on expiry,
//     every still-running task in this group is cancelled, Join waits for
//     them to settle, then returns a Timeout error.
//   - timeout == 0: acts as an immediate poll — Join returns Timeout unless
//     every task was already done.
//   - timeout < 0: no additional local deadline; Join waits on ctx alone.
//   - returnExceptions=false: the first task error cancels every other
//     task in the group, Join waits for settlement, then returns that
//     error.
//   - returnExceptions=true: Join waits for every task regardless of
//     errors and returns one Result per task in submission order, with
//     errors embedded at their position.
func (g *Group) Join(ctx context.Context, timeout time.Duration, returnExceptions bool) ([]Result, error) {
	g.mu.Lock()
	tasks := append([]*taskHandle(nil), g.tasks...)
	g.mu.Unlock()
	if len(tasks) == 0 {
		return nil, nil
	}

	joinCtx := ctx
	if timeout >= 0 {
		var cancelTimeout context.CancelFunc
		joinCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	doneAll := make(chan struct{})
	go func() {
		for _, t := range tasks {
			<-t.done
		}
		close(doneAll)
	}()

	if returnExceptions {
		select {
		case <-doneAll:
			return collectResults(tasks), nil
		case <-joinCtx.Done():
			settle(tasks)
			return nil, timeoutErr(timeout)
		}
	}

	firstErr := make(chan error, len(tasks))
	for _, t := range tasks {
		t := t
		go func() {
			<-t.done
			if t.err != nil {
				firstErr <- t.err
			}
		}()
	}

	select {
	case <-doneAll:
		for _, t := range tasks {
			if t.err != nil {
				return nil, t.err
			}
		}
		return collectResults(tasks), nil
	case err := <-firstErr:
		settle(tasks)
		return nil, err
	case <-joinCtx.Done():
		settle(tasks)
		return nil, timeoutErr(timeout)
	}
}

func timeoutErr(timeout time.Duration) error {
	return flowerr.New(flowerr.KindTimeout, "join timed out after %s", timeout)
}

// settle cancels every task's context and waits for each to report done,
// satisfying the "cancel all, wait for settlement" contract shared by the
// timeout and fail-fast paths (spec §4.6, testable property 6).
func settle(tasks []*taskHandle) {
	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

func collectResults(tasks []*taskHandle) []Result {
	out := make([]Result, len(tasks))
	for i, t := range tasks {
		out[i] = Result{Value: t.result, Err: t.err}
	}
	return out
}

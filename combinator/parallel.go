package combinator

import (
	"context"

	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/scheduler"
)

// Parallel executes its children concurrently, sharing the invocation's
// Context (spec §4.4). Children run as cooperative tasks when the node's
// async_mode is true, or on the blocking worker pool otherwise. The
// aggregated result is a list in declared child order regardless of
// completion order.
type Parallel struct {
	op.Base
	children []op.Op
}

// NewParallel builds a Parallel over children, validating the same
// async_mode tie-break invariant as Sequential.
func NewParallel(children ...op.Op) (*Parallel, error) {
	if len(children) == 0 {
		return nil, flowerr.New(flowerr.KindDeterministic, "parallel: zero children")
	}
	async := children[0].AsyncMode()
	for _, c := range children {
		if c.AsyncMode() != async {
			return nil, flowerr.New(flowerr.KindDeterministic, "parallel: child async_mode mismatch")
		}
	}
	return &Parallel{Base: op.NewBase("parallel", async, 1), children: children}, nil
}

// Or composes left | right, flattening nested Parallels the same way Then
// flattens nested Sequentials.
func Or(left, right op.Op) (op.Op, error) {
	children := append(flattenParallel(left), flattenParallel(right)...)
	return NewParallel(children...)
}

func flattenParallel(o op.Op) []op.Op {
	if p, ok := o.(*Parallel); ok {
		return append([]op.Op(nil), p.children...)
	}
	return []op.Op{o}
}

func (p *Parallel) Execute(ctx *flowctx.Context) (any, error)      { return p.run(ctx) }
func (p *Parallel) AsyncExecute(ctx *flowctx.Context) (any, error) { return p.run(ctx) }

// run submits every child Copy()-ed (spec §9: shared sub-Ops must be
// Copy()-ed before parallel execution to avoid shared Base state across
// concurrent runs), waits for all of them regardless of failure, then
// applies the failure policy: raise_on_failure=true propagates the first
// error by declared position; raise_on_failure=false keeps completed
// results and substitutes each failed child's default output (spec §4.4
// "Failure policy").
//
// On the first child error, this cancels the task-level context of every
// other still-running child rather than the shared flowctx.Context's
// cancellation token: firing the invocation-wide token would also abort
// every Op *after* this Parallel node (e.g. later Sequential steps), which
// would contradict the raise_on_failure=false "degrade gracefully and keep
// going" contract. Cancelling siblings is still best-effort cooperative
// cancellation — a child that never checks its own task context runs to
// completion regardless — but every child is always waited for before
// Parallel returns, satisfying "no child task is still running" either way.
func (p *Parallel) run(ctx *flowctx.Context) (any, error) {
	rt := p.Runtime()
	group := p.Group()
	n := len(p.children)
	results := make([]any, n)
	errs := make([]error, n)
	handles := make([]*scheduler.TaskHandle, n)

	for i, child := range p.children {
		child := child
		fn := func(context.Context) (any, error) {
			return rt.Call(ctx, child.Copy(), nil)
		}
		if p.AsyncMode() {
			handles[i] = group.SubmitAsync(ctx.GoContext(), fn)
		} else {
			handles[i] = group.SubmitBlocking(ctx.GoContext(), fn)
		}
	}

	failed := false
	for i, h := range handles {
		out, err := h.Wait(context.Background())
		results[i], errs[i] = out, err
		if err != nil && !failed {
			failed = true
			for j, sibling := range handles {
				if j != i {
					sibling.Cancel()
				}
			}
		}
	}

	if !failed {
		return results, nil
	}
	if p.RaiseOnFailure() {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
	}
	for i, err := range errs {
		if err != nil {
			results[i] = op.DefaultOutput(p.children[i])
		}
	}
	return results, nil
}

// Copy deep-copies every child.
func (p *Parallel) Copy() op.Op {
	return &Parallel{Base: p.Base.CloneInto(), children: cloneChildren(p.children)}
}

// Package combinator implements the three Flow composition operators from
// spec §4.4: Sequential (">>"), Parallel ("|") and Container ("<<").
// Sequential and Parallel are themselves Ops that recursively drive their
// children through op.Runtime; Container is not a runtime type at all — it
// just attaches named children onto an existing Op's Ops() map for that
// Op's own Execute to dispatch (spec §4.4 "used by tool-router Ops").
package combinator

import (
	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
)

// Sequential executes its children in declared order, sharing the
// invocation's Context, failing fast on the first child error, and
// returning the last child's output (spec §4.4).
type Sequential struct {
	op.Base
	children []op.Op
}

// NewSequential builds a Sequential over children, validating the
// tie-break invariant that every child agrees on async_mode with the
// combinator (spec §4.4 "Tie-break invariants").
func NewSequential(children ...op.Op) (*Sequential, error) {
	if len(children) == 0 {
		return nil, flowerr.New(flowerr.KindDeterministic, "sequential: zero children")
	}
	async := children[0].AsyncMode()
	for _, c := range children {
		if c.AsyncMode() != async {
			return nil, flowerr.New(flowerr.KindDeterministic, "sequential: child async_mode mismatch")
		}
	}
	return &Sequential{Base: op.NewBase("sequential", async, 1), children: children}, nil
}

// Then composes left >> right, flattening nested Sequentials on either side
// so a left-associative chain `A >> B >> C` parsed as ((A>>B)>>C) collapses
// into one N-ary Sequential rather than nesting Sequential-of-Sequential
// (spec §4.5's parser builds the tree via repeated binary application).
func Then(left, right op.Op) (op.Op, error) {
	children := append(flatten(left), flatten(right)...)
	return NewSequential(children...)
}

func flatten(o op.Op) []op.Op {
	if s, ok := o.(*Sequential); ok {
		return append([]op.Op(nil), s.children...)
	}
	return []op.Op{o}
}

func (s *Sequential) Execute(ctx *flowctx.Context) (any, error)      { return s.run(ctx) }
func (s *Sequential) AsyncExecute(ctx *flowctx.Context) (any, error) { return s.run(ctx) }

func (s *Sequential) run(ctx *flowctx.Context) (any, error) {
	rt := s.Runtime()
	var out any
	for _, child := range s.children {
		var err error
		out, err = rt.Call(ctx, child, nil)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Copy deep-copies every child (spec §9 "shared sub-Ops ... must be
// Copy()-ed before parallel execution" — Sequential copies defensively too
// since it may itself be a shared sub-Op under a Parallel sibling).
func (s *Sequential) Copy() op.Op {
	return &Sequential{Base: s.Base.CloneInto(), children: cloneChildren(s.children)}
}

func cloneChildren(children []op.Op) []op.Op {
	out := make([]op.Op, len(children))
	for i, c := range children {
		out[i] = c.Copy()
	}
	return out
}

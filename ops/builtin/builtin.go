// Package builtin implements the small set of Ops exercised by the
// end-to-end scenarios in spec §8: EchoOp, AddOneOp, LenOp, CountStreamOp,
// SlowOp and SearchOp. Register wires each into a Registry with one
// explicit call per Op — the statically-typed stand-in for the source's
// dynamic registration decorators (spec §9 Design Notes). The Registry is
// owned by the service entrypoint, not a package-level global, so
// Register takes it as a parameter rather than running from init().
package builtin

import (
	"strconv"
	"time"

	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/stream"
)

// Register adds every Op in this package to reg under its conventional
// constructor name (the name a flow expression's ctor call uses, e.g.
// "EchoOp()").
func Register(reg *registry.Registry) {
	reg.MustRegister(registry.CategoryOp, "EchoOp", func() (any, error) { return newEchoOp(), nil })
	reg.MustRegister(registry.CategoryOp, "AddOneOp", func() (any, error) { return newAddOneOp(), nil })
	reg.MustRegister(registry.CategoryOp, "LenOp", func() (any, error) { return newLenOp(), nil })
	reg.MustRegister(registry.CategoryOp, "CountStreamOp", func() (any, error) { return newCountStreamOp(), nil })
	reg.MustRegister(registry.CategoryOp, "SlowOp", func() (any, error) { return newSlowOp(), nil })
	reg.MustRegister(registry.CategoryOp, "SearchOp", func() (any, error) { return newSearchOp(), nil })
}

// EchoOp writes "echo: " + ctx["text"] into ctx.Response.Answer (spec §8
// scenario 1).
type EchoOp struct{ op.Base }

func newEchoOp() *EchoOp {
	o := &EchoOp{Base: op.NewBase("echo", false, 1)}
	o.Tool = &op.ToolCall{
		Description: "Echoes the input text back prefixed with \"echo: \".",
		InputSchema: map[string]op.ParamAttrs{"text": {Type: "string", Required: true}},
		SaveAnswer:  true,
	}
	return o
}

func (o *EchoOp) Execute(ctx *flowctx.Context) (any, error) {
	text, _ := flowctx.Get[string](ctx, "text")
	return "echo: " + text, nil
}

func (o *EchoOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

// AddOneOp reads "n" and writes n+1 (spec §8 scenario 2). It is a plain
// (non-tool) Op: its single input/output is the shared counter itself,
// not a declared schema field.
type AddOneOp struct{ op.Base }

func newAddOneOp() *AddOneOp {
	return &AddOneOp{Base: op.NewBase("add_one", false, 1)}
}

func (o *AddOneOp) Execute(ctx *flowctx.Context) (any, error) {
	n, _ := flowctx.Get[int](ctx, "n")
	n++
	ctx.Set("n", n)
	return n, nil
}

func (o *AddOneOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

// LenOp reads "text_{tool_index}" and writes "len_{tool_index}" (spec §8
// scenario 3). Composed under a Parallel with distinct tool_index values,
// each instance observes a disjoint Context key pair.
type LenOp struct{ op.Base }

func newLenOp() *LenOp {
	o := &LenOp{Base: op.NewBase("len", false, 1)}
	o.Tool = &op.ToolCall{
		Description:  "Writes the length of the input text.",
		InputSchema:  map[string]op.ParamAttrs{"text": {Type: "string", Required: true}},
		OutputSchema: map[string]op.ParamAttrs{"len": {Type: "integer"}},
	}
	return o
}

func (o *LenOp) Execute(ctx *flowctx.Context) (any, error) {
	key := "text"
	if tool, ok := o.ToolSchema(); ok && tool.ToolIndex != nil {
		key = "text_" + strconv.Itoa(*tool.ToolIndex)
	}
	v, _ := flowctx.Get[string](ctx, key)
	return map[string]any{"len": len(v)}, nil
}

func (o *LenOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

// CountStreamOp emits three ANSWER chunks, "1", "2", "3", in order (spec §8
// scenario 4). It is a cooperative (async_mode) Op so the Runtime calls
// AsyncExecute.
type CountStreamOp struct{ op.Base }

func newCountStreamOp() *CountStreamOp {
	return &CountStreamOp{Base: op.NewBase("count_stream", true, 1)}
}

func (o *CountStreamOp) AsyncExecute(ctx *flowctx.Context) (any, error) {
	for i := 1; i <= 3; i++ {
		if err := ctx.Err(); err != nil {
			return nil, flowerr.Wrap(flowerr.KindCancelled, err, "count_stream interrupted")
		}
		if err := ctx.Emit(stream.Chunk{Kind: stream.KindAnswer, Content: strconv.Itoa(i)}); err != nil {
			return nil, err
		}
	}
	return "3", nil
}

func (o *CountStreamOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

// slowOpDelay is how long SlowOp's execute body awaits before returning
// (spec §8 scenario 5).
const slowOpDelay = 2 * time.Second

// SlowOp awaits slowOpDelay before returning, so that a short request-level
// deadline exercises the Timeout path (spec §8 scenario 5, testable
// property 6). It selects on the Context's Go context rather than calling
// time.Sleep, so a fired deadline or cancellation returns immediately
// instead of leaving the goroutine running past the cancellation tick.
type SlowOp struct{ op.Base }

func newSlowOp() *SlowOp {
	return &SlowOp{Base: op.NewBase("slow", false, 1)}
}

func (o *SlowOp) Execute(ctx *flowctx.Context) (any, error) {
	timer := time.NewTimer(slowOpDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return "done", nil
	case <-ctx.GoContext().Done():
		return nil, flowerr.Wrap(flowerr.KindTimeout, ctx.Err(), "slow: deadline exceeded")
	}
}

func (o *SlowOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

// SearchOp reads the required "query" input and writes a canned search
// result as its answer (spec §8 scenario 6, the MCP tool-listing flow).
type SearchOp struct{ op.Base }

func newSearchOp() *SearchOp {
	o := &SearchOp{Base: op.NewBase("search", false, 1)}
	o.Tool = &op.ToolCall{
		Description: "Searches for the given query and returns a summary.",
		InputSchema: map[string]op.ParamAttrs{"query": {Type: "string", Required: true}},
		SaveAnswer:  true,
	}
	return o
}

func (o *SearchOp) Execute(ctx *flowctx.Context) (any, error) {
	query, _ := flowctx.Get[string](ctx, "query")
	return "results for: " + query, nil
}

func (o *SearchOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

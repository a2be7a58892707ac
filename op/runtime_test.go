package op_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/combinator"
	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/scheduler"
)

func newRuntime() *op.Runtime {
	return op.New(registry.New(), scheduler.New(4), op.NewMemoryCache())
}

// flakyOp fails the first N-1 times with a transient error, then succeeds.
type flakyOp struct {
	op.Base
	failUntil int
	attempts  int
}

func newFlakyOp(failUntil, maxRetries int) *flakyOp {
	o := &flakyOp{Base: op.NewBase("flaky", false, maxRetries), failUntil: failUntil}
	o.Tool = &op.ToolCall{}
	return o
}

func (o *flakyOp) Execute(ctx *flowctx.Context) (any, error) {
	o.attempts++
	if o.attempts < o.failUntil {
		return nil, flowerr.New(flowerr.KindTransient, "not yet")
	}
	return "ok", nil
}

func (o *flakyOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

func TestRuntime_RetriesTransientErrorsUntilSuccess(t *testing.T) {
	r := newRuntime()
	o := newFlakyOp(3, 5)
	ctx := flowctx.New(context.Background(), map[string]any{})

	out, err := r.Call(ctx, o, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, o.attempts)
}

func TestRuntime_StopsRetryingOnDeterministicError(t *testing.T) {
	r := newRuntime()
	deterministic := flowerr.New(flowerr.KindDeterministic, "bad input")
	callCount := 0
	detOp := &fnOp{Base: op.NewBase("det", false, 5), fn: func(*flowctx.Context) (any, error) {
		callCount++
		return nil, deterministic
	}}

	_, err := r.Call(flowctx.New(context.Background(), map[string]any{}), detOp, nil)
	require.Error(t, err)
	assert.Equal(t, 1, callCount, "a deterministic error must not be retried")
}

func TestRuntime_ExhaustionWithRaiseOnFailureFalseReturnsDefault(t *testing.T) {
	r := newRuntime()
	boom := errors.New("boom")
	o := &fnOp{Base: op.NewBase("failer", false, 2), fn: func(*flowctx.Context) (any, error) { return nil, boom }}
	o.RaiseOnFail = false
	o.Tool = &op.ToolCall{}

	out, err := r.Call(flowctx.New(context.Background(), map[string]any{}), o, nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestRuntime_MissingRequiredInputFailsBeforeExecute(t *testing.T) {
	r := newRuntime()
	executed := false
	o := &fnOp{Base: op.NewBase("needsInput", false, 1), fn: func(*flowctx.Context) (any, error) {
		executed = true
		return "x", nil
	}}
	o.Tool = &op.ToolCall{InputSchema: map[string]op.ParamAttrs{"text": {Required: true}}}

	_, err := r.Call(flowctx.New(context.Background(), map[string]any{}), o, nil)
	require.Error(t, err)
	kind, ok := flowerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, flowerr.KindInputValidation, kind)
	assert.False(t, executed)
}

func TestRuntime_CacheHitSkipsExecute(t *testing.T) {
	r := newRuntime()
	calls := 0
	mk := func() *fnOp {
		o := &fnOp{Base: op.NewBase("cached", false, 1), fn: func(*flowctx.Context) (any, error) {
			calls++
			return "computed", nil
		}}
		policy := op.CachePolicy{Enabled: true, Expire: time.Minute}
		o.Cache = &policy
		o.Tool = &op.ToolCall{InputSchema: map[string]op.ParamAttrs{"text": {}}}
		return o
	}

	ctx1 := flowctx.New(context.Background(), map[string]any{})
	out1, err := r.Call(ctx1, mk(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "computed", out1)

	ctx2 := flowctx.New(context.Background(), map[string]any{})
	out2, err := r.Call(ctx2, mk(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "computed", out2)
	assert.Equal(t, 1, calls, "second call with identical inputs must hit the cache")
}

func TestRuntime_NestedCachedOpFingerprintsByContextNotKwargs(t *testing.T) {
	r := newRuntime()
	calls := 0
	mk := func(text string) (*fnOp, *fnOp) {
		setter := &fnOp{Base: op.NewBase("setter", false, 1), fn: func(ctx *flowctx.Context) (any, error) {
			ctx.Set("text", text)
			return nil, nil
		}}
		lookup := &fnOp{Base: op.NewBase("lookup", false, 1), fn: func(ctx *flowctx.Context) (any, error) {
			calls++
			v, _ := flowctx.Get[string](ctx, "text")
			return v, nil
		}}
		policy := op.CachePolicy{Enabled: true, Expire: time.Minute}
		lookup.Cache = &policy
		lookup.Tool = &op.ToolCall{InputSchema: map[string]op.ParamAttrs{"text": {}}}
		return setter, lookup
	}

	setter1, lookup1 := mk("alpha")
	seq1, err := combinator.NewSequential(setter1, lookup1)
	require.NoError(t, err)
	out1, err := r.Call(flowctx.New(context.Background(), map[string]any{}), seq1, nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", out1)

	// A second invocation of the same cached Op position with a different
	// upstream-written ctx value must not hit the first call's cache entry
	// (regression for fingerprinting off kwargs, which Sequential always
	// passes as nil to its children).
	setter2, lookup2 := mk("beta")
	seq2, err := combinator.NewSequential(setter2, lookup2)
	require.NoError(t, err)
	out2, err := r.Call(flowctx.New(context.Background(), map[string]any{}), seq2, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", out2)
	assert.Equal(t, 2, calls, "distinct ctx inputs at the same cached Op position must not share a fingerprint")
}

func TestRuntime_DefaultFallbackOutputIsNotCached(t *testing.T) {
	r := newRuntime()
	calls := 0
	mk := func() *fnOp {
		o := &fnOp{Base: op.NewBase("unreliable", false, 2), fn: func(*flowctx.Context) (any, error) {
			calls++
			return nil, flowerr.New(flowerr.KindTransient, "still down")
		}}
		o.RaiseOnFail = false
		policy := op.CachePolicy{Enabled: true, Expire: time.Minute}
		o.Cache = &policy
		o.Tool = &op.ToolCall{}
		return o
	}

	out1, err := r.Call(flowctx.New(context.Background(), map[string]any{}), mk(), nil)
	require.NoError(t, err)
	assert.Equal(t, "", out1)
	firstCalls := calls

	// A default-fallback output must never be written to the cache, so a
	// later call at the same fingerprint re-executes rather than replaying
	// the stale fallback forever.
	out2, err := r.Call(flowctx.New(context.Background(), map[string]any{}), mk(), nil)
	require.NoError(t, err)
	assert.Equal(t, "", out2)
	assert.Greater(t, calls, firstCalls, "default-fallback output must not have been cached")
}

func TestRuntime_ToolIndexSuffixesInputAndOutputKeys(t *testing.T) {
	r := newRuntime()
	idx := 1
	o := &fnOp{Base: op.NewBase("len", false, 1), fn: func(ctx *flowctx.Context) (any, error) {
		v, _ := flowctx.Get[string](ctx, "text_1")
		return len(v), nil
	}}
	o.Tool = &op.ToolCall{
		InputSchema:  map[string]op.ParamAttrs{"text": {Required: true}},
		ToolIndex:    &idx,
	}

	ctx := flowctx.New(context.Background(), map[string]any{})
	_, err := r.Call(ctx, o, map[string]any{"text_1": "hello"})
	require.NoError(t, err)

	v, ok := flowctx.Get[int](ctx, "len_result_1")
	require.True(t, ok)
	assert.Equal(t, 5, v)
}

// fnOp is a minimal exported-enough test double: a Base with Execute
// delegated to a closure, for scenarios that don't need a named type.
type fnOp struct {
	op.Base
	fn func(*flowctx.Context) (any, error)
}

func (o *fnOp) Execute(ctx *flowctx.Context) (any, error) { return o.fn(ctx) }
func (o *fnOp) Copy() op.Op                               { c := *o; c.Base = o.Base.CloneInto(); return &c }

package builtin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/combinator"
	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/ops/builtin"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/scheduler"
	"github.com/flowllm-ai/flowllm/stream"
)

func newTestRuntime(t *testing.T) (*op.Runtime, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	builtin.Register(reg)
	rt := op.New(reg, scheduler.New(4), op.NewMemoryCache())
	return rt, reg
}

// Scenario 1: EchoOp over HTTP (spec §8).
func TestEchoOp_WritesAnswer(t *testing.T) {
	rt, reg := newTestRuntime(t)
	o, err := reg.Resolve(registry.CategoryOp, "EchoOp")
	require.NoError(t, err)

	ctx := flowctx.New(context.Background(), map[string]any{})
	_, err = rt.Call(ctx, o.(op.Op), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", ctx.Response.Answer)
}

// Scenario 2: sequential composition (spec §8).
func TestAddOneOp_SequentialChainReachesThree(t *testing.T) {
	rt, reg := newTestRuntime(t)
	one, _ := reg.Resolve(registry.CategoryOp, "AddOneOp")
	two, _ := reg.Resolve(registry.CategoryOp, "AddOneOp")
	three, _ := reg.Resolve(registry.CategoryOp, "AddOneOp")
	seq, err := combinator.NewSequential(one.(op.Op), two.(op.Op), three.(op.Op))
	require.NoError(t, err)

	ctx := flowctx.New(context.Background(), map[string]any{})
	_, err = rt.Call(ctx, seq, map[string]any{"n": 0})
	require.NoError(t, err)
	n, ok := flowctx.Get[int](ctx, "n")
	require.True(t, ok)
	assert.Equal(t, 3, n)
}

// Scenario 3: parallel aggregation with tool_index (spec §8).
func TestLenOp_ParallelAggregationByToolIndex(t *testing.T) {
	rt, reg := newTestRuntime(t)
	one, _ := reg.Resolve(registry.CategoryOp, "LenOp")
	two, _ := reg.Resolve(registry.CategoryOp, "LenOp")
	l1 := one.(op.Op)
	l2 := two.(op.Op)
	require.NoError(t, l1.SetAttr("tool_index", 1))
	require.NoError(t, l2.SetAttr("tool_index", 2))
	par, err := combinator.NewParallel(l1, l2)
	require.NoError(t, err)

	ctx := flowctx.New(context.Background(), map[string]any{})
	_, err = rt.Call(ctx, par, map[string]any{"text_1": "ab", "text_2": "xyz"})
	require.NoError(t, err)
	len1, _ := flowctx.Get[int](ctx, "len_1")
	len2, _ := flowctx.Get[int](ctx, "len_2")
	assert.Equal(t, 2, len1)
	assert.Equal(t, 3, len2)
}

// Scenario 4: streaming flow emits three ordered ANSWER chunks then a
// single terminal Done (spec §8).
func TestCountStreamOp_EmitsOrderedChunksThenDone(t *testing.T) {
	rt, reg := newTestRuntime(t)
	o, err := reg.Resolve(registry.CategoryOp, "CountStreamOp")
	require.NoError(t, err)

	ctx := flowctx.New(context.Background(), map[string]any{}, flowctx.WithStreaming(8))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, callErr := rt.Call(ctx, o.(op.Op), map[string]any{})
		assert.NoError(t, callErr)
		ctx.Emit(stream.Done)
		ctx.Outbox().Close()
	}()

	var got []string
	sawDone := false
	for chunk := range ctx.Outbox().Chunks() {
		if chunk.Kind == stream.KindDone {
			sawDone = true
			break
		}
		got = append(got, chunk.Content.(string))
	}
	<-done
	assert.Equal(t, []string{"1", "2", "3"}, got)
	assert.True(t, sawDone)
}

// Scenario 5: a short request-level deadline turns SlowOp's await into a
// Timeout error (spec §8).
func TestSlowOp_DeadlineExceededReturnsTimeout(t *testing.T) {
	rt, reg := newTestRuntime(t)
	o, err := reg.Resolve(registry.CategoryOp, "SlowOp")
	require.NoError(t, err)

	ctx := flowctx.New(context.Background(), map[string]any{}, flowctx.WithDeadline(time.Now().Add(100*time.Millisecond)))
	start := time.Now()
	_, err = rt.Call(ctx, o.(op.Op), map[string]any{})
	elapsed := time.Since(start)
	require.Error(t, err)
	kind, ok := flowerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, flowerr.KindTimeout, kind)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

// Scenario 6: SearchOp declares the schema an MCP tool listing exposes
// verbatim, and its answer is returned as the tool result text (spec §8).
func TestSearchOp_ProducesAnswerFromQuery(t *testing.T) {
	rt, reg := newTestRuntime(t)
	o, err := reg.Resolve(registry.CategoryOp, "SearchOp")
	require.NoError(t, err)

	ctx := flowctx.New(context.Background(), map[string]any{})
	_, err = rt.Call(ctx, o.(op.Op), map[string]any{"query": "x"})
	require.NoError(t, err)
	assert.Equal(t, "results for: x", ctx.Response.Answer)
}

package dispatcher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/dispatcher"
	"github.com/flowllm-ai/flowllm/flow"
	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/scheduler"
)

type echoOp struct{ op.Base }

func newEchoOp() *echoOp {
	o := &echoOp{Base: op.NewBase("echo", false, 1)}
	o.Tool = &op.ToolCall{
		InputSchema: map[string]op.ParamAttrs{"text": {Required: true}},
		SaveAnswer:  true,
	}
	return o
}

func (o *echoOp) Execute(ctx *flowctx.Context) (any, error) {
	v, _ := flowctx.Get[string](ctx, "text")
	return v, nil
}
func (o *echoOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

func newDispatcher(t *testing.T, schema map[string]any) *dispatcher.Dispatcher {
	t.Helper()
	rt := op.New(registry.New(), scheduler.New(4), op.NewMemoryCache())
	f, err := flow.New("echo", newEchoOp(), "echoes text", false, schema)
	require.NoError(t, err)
	return dispatcher.New([]*flow.Flow{f}, rt)
}

func TestDispatcher_InvokeReturnsAnswer(t *testing.T) {
	d := newDispatcher(t, nil)
	ctx, err := d.Invoke(context.Background(), "echo", map[string]any{"text": "hi"}, dispatcher.ModeHTTP)
	require.NoError(t, err)
	assert.Equal(t, "hi", ctx.Response.Answer)
}

func TestDispatcher_UnknownFlowFails(t *testing.T) {
	d := newDispatcher(t, nil)
	_, err := d.Invoke(context.Background(), "nope", nil, dispatcher.ModeHTTP)
	require.Error(t, err)
}

func TestDispatcher_MCPModeRequiresSchema(t *testing.T) {
	d := newDispatcher(t, nil)
	_, err := d.Invoke(context.Background(), "echo", map[string]any{"text": "hi"}, dispatcher.ModeMCP)
	require.Error(t, err)
}

func TestDispatcher_MCPModeRejectsUnknownFields(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	}
	d := newDispatcher(t, schema)
	_, err := d.Invoke(context.Background(), "echo", map[string]any{"text": "hi", "extra": 1}, dispatcher.ModeMCP)
	require.Error(t, err)
}

func TestDispatcher_HTTPModePassesThroughUnknownFields(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	}
	d := newDispatcher(t, schema)
	ctx, err := d.Invoke(context.Background(), "echo", map[string]any{"text": "hi", "extra": 1}, dispatcher.ModeHTTP)
	require.NoError(t, err)
	assert.Equal(t, "hi", ctx.Response.Answer)
}

func TestDispatcher_InvokeStreamingEmitsDone(t *testing.T) {
	d := newDispatcher(t, nil)
	ctx, done, err := d.InvokeStreaming(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)

	var sawDone bool
	for chunk := range ctx.Outbox().Chunks() {
		if chunk.Kind == "done" {
			sawDone = true
			break
		}
	}
	<-done
	assert.True(t, sawDone)
}

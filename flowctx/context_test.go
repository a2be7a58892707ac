package flowctx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/stream"
)

func TestContext_SetGet(t *testing.T) {
	c := flowctx.New(context.Background(), map[string]any{"n": 0})
	c.Set("n", 1)
	v, ok := flowctx.Get[int](c, "n")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = flowctx.Get[string](c, "n")
	assert.False(t, ok, "wrong type assertion should fail, not panic")
}

func TestContext_ResponseSnapshot(t *testing.T) {
	c := flowctx.New(context.Background(), nil)
	c.Response.SetAnswer("hi")
	c.Response.AppendMessage("m1")
	c.Response.SetField("extra", 42)

	snap := c.Response.Snapshot()
	assert.Equal(t, "hi", snap["answer"])
	assert.Equal(t, []any{"m1"}, snap["messages"])
	assert.Equal(t, 42, snap["extra"])
}

func TestContext_CancelPropagatesCause(t *testing.T) {
	c := flowctx.New(context.Background(), nil)
	assert.NoError(t, c.Err())

	cause := context.DeadlineExceeded
	c.Cancel(cause)

	<-c.GoContext().Done()
	assert.ErrorIs(t, c.Err(), cause)
}

func TestContext_DeadlineExpires(t *testing.T) {
	c := flowctx.New(context.Background(), nil, flowctx.WithDeadline(time.Now().Add(10*time.Millisecond)))
	select {
	case <-c.GoContext().Done():
		t.Fatal("should not be done yet")
	default:
	}
	time.Sleep(30 * time.Millisecond)
	assert.Error(t, c.Err())
}

func TestContext_EmitNoopWithoutStreaming(t *testing.T) {
	c := flowctx.New(context.Background(), nil)
	assert.False(t, c.Streaming())
	assert.NoError(t, c.Emit(stream.Chunk{Kind: stream.KindAnswer, Content: "x"}))
}

func TestContext_EmitWithStreaming(t *testing.T) {
	c := flowctx.New(context.Background(), nil, flowctx.WithStreaming(1))
	require.True(t, c.Streaming())
	require.NoError(t, c.Emit(stream.Chunk{Kind: stream.KindAnswer, Content: "x"}))
	chunk := <-c.Outbox().Chunks()
	assert.Equal(t, "x", chunk.Content)
}

package op_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/op"
)

// echoOp returns whatever is stored under its "text" context key. It
// implements Execute only, matching AsyncMode()==false.
type echoOp struct {
	op.Base
	calls int
}

func newEchoOp() *echoOp {
	return &echoOp{Base: op.NewBase("echo", false, 1)}
}

func (o *echoOp) Execute(ctx *flowctx.Context) (any, error) {
	o.calls++
	v, _ := flowctx.Get[string](ctx, "text")
	return v, nil
}

func (o *echoOp) Copy() op.Op {
	clone := &echoOp{Base: o.Base.CloneInto()}
	return clone
}

func TestBase_CopyResetsBoundState(t *testing.T) {
	o := newEchoOp()
	o.Tool = &op.ToolCall{InputSchema: map[string]op.ParamAttrs{"text": {Required: true}}}

	c := flowctx.New(context.Background(), map[string]any{})
	o.Execute(c) // binds nothing directly, just exercises the method

	clone := o.Copy().(*echoOp)
	assert.Nil(t, clone.Context(), "a fresh copy must not carry over a bound Context")
	assert.Same(t, o.Tool, clone.Tool, "immutable ToolCall schema is shared by reference across copies")
}

func TestBase_PromptFormatUnknownPromptFails(t *testing.T) {
	b := op.NewBase("greeter", false, 1)
	// No FilePath set: prompts map is empty and PromptFormat should report
	// the prompt as unknown rather than panicking.
	_, err := b.PromptFormat("greeting", map[string]any{"name": "Ada"})
	require.Error(t, err)
}

func TestDefaultOutputKey(t *testing.T) {
	assert.Equal(t, "len_result", op.DefaultOutputKey("len"))
}

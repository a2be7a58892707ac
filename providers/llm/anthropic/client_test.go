package anthropic_test

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/capability"
	flowanthropic "github.com/flowllm-ai/flowllm/providers/llm/anthropic"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&noopDecoder{}, nil)
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func TestClient_CompleteConcatenatesTextBlocks(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello "},
			{Type: "text", Text: "world"},
		},
	}}
	client, err := flowanthropic.New(stub, flowanthropic.Options{DefaultModel: "claude-3-5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), capability.CompletionRequest{
		Messages: []capability.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
	assert.Equal(t, sdk.Model("claude-3-5-sonnet"), stub.lastParams.Model)
}

func TestClient_CompleteRejectsEmptyMessages(t *testing.T) {
	client, err := flowanthropic.New(&stubMessagesClient{}, flowanthropic.Options{DefaultModel: "claude-3-5-sonnet"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), capability.CompletionRequest{})
	assert.Error(t, err)
}

func TestClient_StreamClosesChannelOnEmptyStream(t *testing.T) {
	stub := &stubMessagesClient{}
	client, err := flowanthropic.New(stub, flowanthropic.Options{DefaultModel: "claude-3-5-sonnet"})
	require.NoError(t, err)

	ch := make(chan capability.CompletionChunk, 4)
	err = client.Stream(context.Background(), capability.CompletionRequest{
		Messages: []capability.Message{{Role: "user", Content: "hi"}},
	}, ch)
	require.NoError(t, err)

	var chunks []capability.CompletionChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Done)
}

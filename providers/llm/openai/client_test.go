package openai_test

import (
	"context"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/capability"
	flowopenai "github.com/flowllm-ai/flowllm/providers/llm/openai"
)

type mockChatClient struct {
	lastParams oai.ChatCompletionNewParams
	resp       *oai.ChatCompletion
	err        error
}

func (m *mockChatClient) New(_ context.Context, body oai.ChatCompletionNewParams, _ ...option.RequestOption) (*oai.ChatCompletion, error) {
	m.lastParams = body
	return m.resp, m.err
}

func TestClient_CompleteReturnsFirstChoice(t *testing.T) {
	mock := &mockChatClient{resp: &oai.ChatCompletion{
		Choices: []oai.ChatCompletionChoice{
			{Message: oai.ChatCompletionMessage{Content: "hi there"}},
		},
	}}
	client, err := flowopenai.New(mock, flowopenai.Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), capability.CompletionRequest{
		Messages: []capability.Message{{Role: "user", Content: "ping"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	assert.Equal(t, oai.ChatModel("gpt-4o"), mock.lastParams.Model)
}

func TestClient_CompleteRejectsEmptyMessages(t *testing.T) {
	client, err := flowopenai.New(&mockChatClient{}, flowopenai.Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), capability.CompletionRequest{})
	assert.Error(t, err)
}

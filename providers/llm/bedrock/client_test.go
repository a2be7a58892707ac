package bedrock_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/capability"
	"github.com/flowllm-ai/flowllm/providers/llm/bedrock"
)

type mockRuntime struct {
	output *bedrockruntime.ConverseOutput
	err    error
}

func (m *mockRuntime) Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return m.output, m.err
}

func TestClient_CompleteConcatenatesTextBlocks(t *testing.T) {
	mock := &mockRuntime{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "hello "},
				&brtypes.ContentBlockMemberText{Value: "world"},
			},
		}},
	}}
	client, err := bedrock.New(mock, bedrock.Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), capability.CompletionRequest{
		Messages: []capability.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestClient_CompleteRejectsEmptyMessages(t *testing.T) {
	client, err := bedrock.New(&mockRuntime{}, bedrock.Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), capability.CompletionRequest{})
	assert.Error(t, err)
}

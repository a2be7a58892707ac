// Package bedrock implements capability.LLM over the AWS Bedrock
// Converse API. Peripheral adapter (spec §1 Non-goals): the core never
// imports this package directly.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/flowllm-ai/flowllm/capability"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client this
// adapter uses, satisfied by *bedrockruntime.Client so callers can pass
// either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
}

// Client implements capability.LLM over AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
}

// New builds a Bedrock-backed LLM from the given runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, model: opts.DefaultModel, maxTok: opts.MaxTokens}, nil
}

func (c *Client) buildInput(req capability.CompletionRequest) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := c.model
	if m, ok := req.Params["model"].(string); ok && m != "" {
		modelID = m
	}

	var system []brtypes.SystemContentBlock
	var conversation []brtypes.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		conversation = append(conversation, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	if len(conversation) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: conversation,
	}
	if len(system) > 0 {
		input.System = system
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 || req.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if maxTokens > 0 {
			v := int32(maxTokens)
			cfg.MaxTokens = &v
		}
		if req.Temperature > 0 {
			t := float32(req.Temperature)
			cfg.Temperature = &t
		}
		input.InferenceConfig = cfg
	}
	return input, nil
}

// Complete issues a Converse call and concatenates every text block in
// the response message.
func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (string, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return "", err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock: converse: %w", err)
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: converse response had no message")
	}
	var out string
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			out += text.Value
		}
	}
	return out, nil
}

// Stream satisfies capability.LLM by delivering the full completion as a
// single delta; RuntimeClient only covers the non-streaming Converse
// call here. Widen it to ConverseStream for incremental provider output.
func (c *Client) Stream(ctx context.Context, req capability.CompletionRequest, ch chan<- capability.CompletionChunk) error {
	defer close(ch)
	text, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	select {
	case ch <- capability.CompletionChunk{Delta: text}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case ch <- capability.CompletionChunk{Done: true}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Package openai implements capability.LLM over the OpenAI Chat
// Completions API via github.com/openai/openai-go. Peripheral adapter
// (spec §1 Non-goals): the core never imports this package directly.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flowllm-ai/flowllm/capability"
)

// ChatCompletionsClient captures the subset of the openai-go client this
// adapter uses, so callers can pass either a real client or a mock in
// tests.
type ChatCompletionsClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel string
}

// Client implements capability.LLM via OpenAI Chat Completions.
type Client struct {
	chat  ChatCompletionsClient
	model string
}

// New builds an OpenAI-backed LLM from the given Chat Completions client.
func New(chat ChatCompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat completions client is required")
	}
	model := strings.TrimSpace(opts.DefaultModel)
	if model == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: model}, nil
}

// NewFromAPIKey constructs a Client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

func (c *Client) buildParams(req capability.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: messages are required")
	}
	model := c.model
	if m, ok := req.Params["model"].(string); ok && m != "" {
		model = m
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, oai.UserMessage(m.Content))
		}
	}
	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = oai.Float(req.Temperature)
	}
	return params, nil
}

// Complete issues a non-streaming chat completion and returns the first
// choice's message content.
func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (string, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return "", err
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response had no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream satisfies capability.LLM by delivering the full completion as a
// single delta; ChatCompletionsClient only exposes the non-streaming New
// call. An Op wanting incremental provider output would widen this
// adapter's client interface to cover Chat.Completions.NewStreaming.
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

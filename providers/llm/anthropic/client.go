// Package anthropic implements capability.LLM over the Anthropic Claude
// Messages API. It is a peripheral adapter (spec §1 Non-goals): the core
// never imports this package directly, only through whatever the service
// entrypoint registers under registry.CategoryLLM.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/flowllm-ai/flowllm/capability"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter uses, so callers can pass either a real client or a mock in
// tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the Anthropic adapter.
type Options struct {
	// DefaultModel is the Claude model identifier used when a
	// CompletionRequest does not set Params["model"].
	DefaultModel string
	// MaxTokens caps the completion when a request does not set
	// CompletionRequest.MaxTokens.
	MaxTokens int
}

// Client implements capability.LLM on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTok       int
}

// New builds an Anthropic-backed LLM from the given Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTok: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// client, reading ANTHROPIC_API_KEY-derived defaults the SDK itself
// resolves from its option package.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, Options{DefaultModel: defaultModel})
}

func (c *Client) resolveModel(req capability.CompletionRequest) sdk.Model {
	if m, ok := req.Params["model"].(string); ok && m != "" {
		return sdk.Model(m)
	}
	return sdk.Model(c.defaultModel)
}

func (c *Client) resolveMaxTokens(req capability.CompletionRequest) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	if c.maxTok > 0 {
		return int64(c.maxTok)
	}
	return 1024
}

func (c *Client) buildParams(req capability.CompletionRequest) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	var system []sdk.TextBlockParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	params := sdk.MessageNewParams{
		Model:     c.resolveModel(req),
		MaxTokens: c.resolveMaxTokens(req),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params, nil
}

// Complete issues a non-streaming Messages.New request and concatenates
// every text block in the response.
func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (string, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return "", err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new: %w", err)
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// Stream issues Messages.NewStreaming and forwards each text delta as a
// CompletionChunk, closing ch on completion or ctx cancellation.
func (c *Client) Stream(ctx context.Context, req capability.CompletionRequest, ch chan<- capability.CompletionChunk) error {
	defer close(ch)
	params, err := c.buildParams(req)
	if err != nil {
		return err
	}
	stream := c.msg.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		event := stream.Current()
		deltaEvent, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		textDelta, ok := deltaEvent.Delta.AsAny().(sdk.TextDelta)
		if !ok || textDelta.Text == "" {
			continue
		}
		select {
		case ch <- capability.CompletionChunk{Delta: textDelta.Text}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic: stream: %w", err)
	}
	ch <- capability.CompletionChunk{Done: true}
	return nil
}

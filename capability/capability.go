// Package capability declares the opaque provider capabilities FlowLLM's
// core treats as external collaborators (spec §1 Non-goals): LLM,
// EmbeddingModel, and VectorStore. The core never depends on a concrete
// implementation of these interfaces; it only resolves named instances
// through the Registry and invokes them through these contracts. Concrete
// adapters live under providers/ and are peripheral to the core.
package capability

import "context"

// Message is a single turn in a chat-style LLM exchange.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is the opaque input to an LLM.Complete call.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Params      map[string]any
}

// CompletionChunk is one incremental piece of a streamed LLM completion.
type CompletionChunk struct {
	Delta string
	Done  bool
}

// LLM is the opaque chat-completion capability an Op resolves lazily
// through the Registry (spec §4.2 "Resource lazy binding").
type LLM interface {
	// Complete returns the full completion for req.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream returns the completion as incremental chunks over ch, closing
	// ch when done or ctx is cancelled.
	Stream(ctx context.Context, req CompletionRequest, ch chan<- CompletionChunk) error
}

// EmbeddingModel is the opaque embedding capability.
type EmbeddingModel interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStoreQuery is the opaque input to a VectorStore.Query call.
type VectorStoreQuery struct {
	Vector   []float32
	TopK     int
	Filter   map[string]any
}

// VectorStoreMatch is a single scored result from a VectorStore.Query call.
type VectorStoreMatch struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// VectorStore is the opaque similarity-search capability.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	Query(ctx context.Context, q VectorStoreQuery) ([]VectorStoreMatch, error)
}

// TokenCounter is the opaque token-accounting capability an LLM provider
// may optionally expose (spec §6.4 llm.{name}.token_count).
type TokenCounter interface {
	CountTokens(model string, text string) (int, error)
}

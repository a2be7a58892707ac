// Package stream implements the ordered, bounded chunk pipeline (the
// "StreamPipe") through which Ops emit partial results and the HTTP/MCP
// service layers surface them as client-facing streams (spec §4.7).
package stream

import (
	"context"
	"sync"

	"github.com/flowllm-ai/flowllm/flowerr"
)

// Kind classifies a StreamChunk.
type Kind string

const (
	KindAnswer Kind = "answer"
	KindThink  Kind = "think"
	KindTool   Kind = "tool"
	KindError  Kind = "error"
	KindDone   Kind = "done"
)

// Chunk is one unit of a stream. Content is either a string or any
// JSON-serializable object, matching spec §3's StreamChunk.
type Chunk struct {
	Kind    Kind `json:"type"`
	Content any  `json:"content"`
}

// Done is the synthetic terminal chunk the service layer appends after a
// flow completes (successfully or not). It is never emitted by Op code.
var Done = Chunk{Kind: KindDone, Content: nil}

// ErrorChunk builds the ERROR chunk the service emits before DONE when a
// flow invocation fails (spec §4.7 Failure).
func ErrorChunk(err error) Chunk {
	return Chunk{Kind: KindError, Content: err.Error()}
}

// Outbox is the single-producer-multi-forwarder bounded channel Ops write
// StreamChunks into via Context.Emit, and the service layer drains in
// order. Outbox is safe for concurrent Emit calls from sibling Ops under a
// Parallel combinator; ordering is guaranteed only per-emitter (spec §4.7).
type Outbox struct {
	ch       chan Chunk
	closeMu  sync.Mutex
	closed   bool
	closedCh chan struct{}
}

// NewOutbox creates a bounded Outbox with the given channel capacity. A
// capacity of zero yields a synchronous (unbuffered) handoff, which is the
// strictest form of the backpressure the spec requires: Emit blocks until
// the service-side drain loop is ready to receive.
func NewOutbox(capacity int) *Outbox {
	if capacity < 0 {
		capacity = 0
	}
	return &Outbox{
		ch:       make(chan Chunk, capacity),
		closedCh: make(chan struct{}),
	}
}

// Emit writes a chunk to the outbox, blocking while the outbox is full
// (backpressure) and returning a Cancelled error if ctx is done or the
// outbox has already been closed by the service layer on client
// disconnect, before the write completes.
func (o *Outbox) Emit(ctx context.Context, chunk Chunk) error {
	select {
	case <-o.closedCh:
		return flowerr.New(flowerr.KindCancelled, "stream outbox closed")
	default:
	}
	select {
	case o.ch <- chunk:
		return nil
	case <-o.closedCh:
		return flowerr.New(flowerr.KindCancelled, "stream outbox closed")
	case <-ctx.Done():
		return flowerr.Wrap(flowerr.KindCancelled, ctx.Err(), "emit cancelled")
	}
}

// Chunks returns the receive-only channel the service layer drains in
// order. The underlying channel is never closed (Close only signals
// producers); the service layer stops draining once the flow invocation
// that owns this Outbox has returned, or once Closed fires.
func (o *Outbox) Chunks() <-chan Chunk { return o.ch }

// Closed returns a channel that is closed when the outbox is closed, so the
// service layer's drain loop and Emit's callers can both observe client
// disconnects without polling.
func (o *Outbox) Closed() <-chan struct{} { return o.closedCh }

// Close signals producers that no more chunks will be drained (client
// disconnect). Safe to call multiple times and from any goroutine.
func (o *Outbox) Close() {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.closedCh)
}

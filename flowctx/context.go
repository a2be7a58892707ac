// Package flowctx implements the per-invocation Context (spec §3 Context):
// a keyed data bag, a request snapshot, a response record, an optional
// streaming outbox, a cancellation token, a deadline, and a handle to the
// frozen service config. Exactly one Context instance is shared by every Op
// in a single flow invocation, including parallel children (spec §4.4).
package flowctx

import (
	"context"
	"sync"
	"time"

	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/stream"
	"github.com/flowllm-ai/flowllm/telemetry"
)

// Response is the Context's extensible result record (spec §3).
type Response struct {
	mu       sync.RWMutex
	Answer   string
	Messages []any
	fields   map[string]any
}

// SetAnswer sets the final textual answer. OpRuntime calls this when an Op
// declares save_answer=true (spec §4.2 step 6).
func (r *Response) SetAnswer(answer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Answer = answer
}

// AppendMessage appends a message to the transcript.
func (r *Response) AppendMessage(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
}

// SetField stores an extensible response field (spec §3 "extensible field
// bag"), surfaced verbatim in the HTTP JSON body (spec §6.1).
func (r *Response) SetField(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	r.fields[key] = value
}

// Field reads back an extensible response field.
func (r *Response) Field(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.fields[key]
	return v, ok
}

// Snapshot returns a JSON-marshalable view of the response: {"answer":
// ..., "messages": [...], plus every extensible field at the top level}
// (spec §6.1).
func (r *Response) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.fields)+2)
	for k, v := range r.fields {
		out[k] = v
	}
	out["answer"] = r.Answer
	messages := r.Messages
	if messages == nil {
		messages = []any{}
	}
	out["messages"] = messages
	return out
}

// Context is the per-invocation state bag shared by every Op in one flow
// invocation. Safe for concurrent use on disjoint keys; concurrent writers
// to the same key under a Parallel combinator is a design error the spec
// explicitly does not protect against (spec §3 invariants, §5 Shared-resource
// policy).
type Context struct {
	mu      sync.RWMutex
	data    map[string]any
	request map[string]any

	Response *Response

	outbox    *stream.Outbox
	streaming bool

	goCtx     context.Context
	cancel    context.CancelCauseFunc
	deadline  time.Time
	hasDline  bool

	Logger telemetry.Logger
}

// Option configures a new Context.
type Option func(*Context)

// WithStreaming attaches a bounded Outbox of the given capacity, making
// ctx.Emit usable (spec §4.7).
func WithStreaming(capacity int) Option {
	return func(c *Context) {
		c.outbox = stream.NewOutbox(capacity)
		c.streaming = true
	}
}

// WithDeadline sets the invocation deadline derived from service config or
// the request (spec §5).
func WithDeadline(d time.Time) Option {
	return func(c *Context) {
		c.deadline = d
		c.hasDline = true
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Context) { c.Logger = l }
}

// New builds a fresh Context owned by exactly one request (spec §3
// invariant). parent is the Go context controlling the invocation's
// lifetime (typically the inbound HTTP/MCP request context); New derives
// its own cancellable context from it so the Dispatcher can cancel the
// invocation independently of transport-level cancellation.
func New(parent context.Context, request map[string]any, opts ...Option) *Context {
	if parent == nil {
		parent = context.Background()
	}
	c := &Context{
		data:     make(map[string]any),
		request:  request,
		Response: &Response{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hasDline {
		c.goCtx, c.cancel = context.WithCancelCause(parent)
		var timeoutCancel context.CancelFunc
		c.goCtx, timeoutCancel = context.WithDeadline(c.goCtx, c.deadline)
		// Wrap so Cancel(cause) still carries the explicit cause; the
		// deadline's own cancellation already surfaces context.DeadlineExceeded.
		outerCancel := c.cancel
		c.cancel = func(cause error) {
			outerCancel(cause)
			timeoutCancel()
		}
	} else {
		c.goCtx, c.cancel = context.WithCancelCause(parent)
	}
	if c.Logger == nil {
		c.Logger = telemetry.NewNoopLogger()
	}
	return c
}

// Get reads a value previously written under key (by Bind, by an Op's
// after-execute, or by Set).
func Get[T any](c *Context, key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	v, ok := c.data[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// GetAny reads a raw value without type assertion.
func (c *Context) GetAny(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Set writes a value under key. Concurrent writers must use disjoint keys
// (spec §3, §5).
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Has reports whether key has been written.
func (c *Context) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[key]
	return ok
}

// Keys returns a snapshot of every key currently set.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for k := range c.data {
		out = append(out, k)
	}
	return out
}

// Request returns the raw request snapshot the Dispatcher built this
// Context from.
func (c *Context) Request() map[string]any { return c.request }

// GoContext returns the standard context.Context governing cancellation
// and deadline for this invocation. Scheduler tasks and blocking I/O
// select on its Done channel (spec §5).
func (c *Context) GoContext() context.Context { return c.goCtx }

// Deadline reports the invocation deadline, if any.
func (c *Context) Deadline() (time.Time, bool) { return c.deadline, c.hasDline }

// Cancel fires the Context's cancellation token with the given cause (spec
// §4.6 Cancellation propagation). Safe to call multiple times; only the
// first call's cause is observed.
func (c *Context) Cancel(cause error) { c.cancel(cause) }

// Err returns the cancellation cause if the Context has been cancelled,
// else nil.
func (c *Context) Err() error {
	if c.goCtx.Err() == nil {
		return nil
	}
	if cause := context.Cause(c.goCtx); cause != nil {
		return cause
	}
	return c.goCtx.Err()
}

// Streaming reports whether this Context carries a stream outbox.
func (c *Context) Streaming() bool { return c.streaming }

// Outbox returns the stream outbox, or nil if Streaming() is false.
func (c *Context) Outbox() *stream.Outbox { return c.outbox }

// Emit writes a chunk to the outbox (spec §4.7 ctx.emit). It is a no-op
// returning nil if the Context is not streaming, so Ops do not need to
// branch on Streaming() before emitting.
func (c *Context) Emit(chunk stream.Chunk) error {
	if !c.streaming {
		return nil
	}
	return c.outbox.Emit(c.goCtx, chunk)
}

// Package dispatcher implements the Dispatcher (spec §4.8): the flow
// table and the per-invocation Context construction, input-schema
// validation and OpRuntime call that both httpservice and mcpservice
// drive against.
package dispatcher

import (
	"context"
	"time"

	"github.com/flowllm-ai/flowllm/flow"
	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/stream"
	"github.com/flowllm-ai/flowllm/telemetry"
)

// Mode selects the validation strictness of spec §4.8 step 3.
type Mode int

const (
	// ModeHTTP: input_schema is optional; unknown fields pass through.
	ModeHTTP Mode = iota
	// ModeMCP: input_schema is mandatory; unknown fields are rejected.
	ModeMCP
)

// Dispatcher holds the flow table (spec §4.8 "name -> Flow").
type Dispatcher struct {
	flows      map[string]*flow.Flow
	runtime    *op.Runtime
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	defaultTTL time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithMetrics attaches a metrics sink.
func WithMetrics(m telemetry.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithDefaultTimeout sets the deadline applied to an invocation when the
// caller does not supply one (spec §5 "every invocation has a deadline
// derived from service config or the request").
func WithDefaultTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.defaultTTL = d }
}

// New builds a Dispatcher over the given flow table and OpRuntime.
func New(flows []*flow.Flow, rt *op.Runtime, opts ...Option) *Dispatcher {
	d := &Dispatcher{flows: make(map[string]*flow.Flow, len(flows)), runtime: rt}
	for _, f := range flows {
		d.flows[f.Name] = f
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = telemetry.NewNoopLogger()
	}
	if d.metrics == nil {
		d.metrics = telemetry.NewNoopMetrics()
	}
	if d.defaultTTL == 0 {
		d.defaultTTL = 2 * time.Minute
	}
	return d
}

// Lookup resolves a flow by name (spec §4.8 step 1: "not found -> 404").
func (d *Dispatcher) Lookup(name string) (*flow.Flow, bool) {
	f, ok := d.flows[name]
	return f, ok
}

// Flows returns every registered flow, for /docs, /openapi.json and the
// MCP tool catalog.
func (d *Dispatcher) Flows() []*flow.Flow {
	out := make([]*flow.Flow, 0, len(d.flows))
	for _, f := range d.flows {
		out = append(out, f)
	}
	return out
}

// Invoke runs one non-streaming invocation of flowName (spec §4.8 steps
// 2-5, non-stream branch). parent is the transport request's context;
// Invoke derives its own cancellable Context so the Dispatcher's deadline
// and the client's disconnect both terminate the invocation.
func (d *Dispatcher) Invoke(parent context.Context, flowName string, kwargs map[string]any, mode Mode) (*flowctx.Context, error) {
	f, ok := d.Lookup(flowName)
	if !ok {
		return nil, flowerr.New(flowerr.KindUnknownFlow, "dispatcher: unknown flow %q", flowName)
	}
	if mode == ModeMCP && !f.HasSchema() {
		return nil, flowerr.New(flowerr.KindInputValidation, "flow %q: MCP invocation requires a declared input_schema", flowName)
	}
	if err := f.Validate(kwargs, mode == ModeMCP); err != nil {
		return nil, err
	}

	ctx := d.newContext(parent, kwargs, f.Stream && mode == ModeHTTP)
	defer ctx.Cancel(nil)

	_, err := d.runtime.Call(ctx, f.ComposedOp, kwargs)
	if ctx.Streaming() {
		ctx.Outbox().Close()
	}
	if err != nil {
		d.logger.Error(ctx.GoContext(), "flow invocation failed", "flow", flowName, "error", err)
		return ctx, err
	}
	return ctx, nil
}

// InvokeStreaming runs a streaming invocation of flowName and returns the
// Context immediately; the caller drains ctx.Outbox().Chunks() while the
// flow runs on its own goroutine (spec §4.7, §6.1 SSE branch). The
// returned done channel closes once the invocation (and the terminal DONE
// chunk) has been fully emitted.
func (d *Dispatcher) InvokeStreaming(parent context.Context, flowName string, kwargs map[string]any) (*flowctx.Context, <-chan struct{}, error) {
	f, ok := d.Lookup(flowName)
	if !ok {
		return nil, nil, flowerr.New(flowerr.KindUnknownFlow, "dispatcher: unknown flow %q", flowName)
	}
	if err := f.Validate(kwargs, false); err != nil {
		return nil, nil, err
	}

	ctx := d.newContext(parent, kwargs, true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ctx.Cancel(nil)
		_, err := d.runtime.Call(ctx, f.ComposedOp, kwargs)
		if err != nil {
			d.logger.Error(ctx.GoContext(), "streaming flow invocation failed", "flow", flowName, "error", err)
			_ = ctx.Outbox().Emit(context.Background(), stream.ErrorChunk(err))
		}
		_ = ctx.Outbox().Emit(context.Background(), stream.Done)
		ctx.Outbox().Close()
	}()
	return ctx, done, nil
}

func (d *Dispatcher) newContext(parent context.Context, request map[string]any, streaming bool) *flowctx.Context {
	opts := []flowctx.Option{
		flowctx.WithDeadline(time.Now().Add(d.defaultTTL)),
		flowctx.WithLogger(d.logger),
	}
	if streaming {
		opts = append(opts, flowctx.WithStreaming(64))
	}
	return flowctx.New(parent, request, opts...)
}

package op

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/scheduler"
	"github.com/flowllm-ai/flowllm/telemetry"
)

// Runtime drives one Op through the lifecycle in spec §4.2: bind → cache
// probe → before-execute → execute-with-retries → exhaustion/default →
// after-execute → cache store → return. One Runtime is shared by every Op
// invocation in a process; it holds no per-call state of its own.
type Runtime struct {
	env    *Env
	flight flightGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger attaches a structured logger used by the runtime and exposed
// to Ops via their Env.
func WithLogger(l telemetry.Logger) Option { return func(r *Runtime) { r.env.Logger = l } }

// WithMetrics attaches a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(r *Runtime) { r.env.Metrics = m } }

// WithLocale sets the locale used for prompt fallback (spec §4.2).
func WithLocale(locale string) Option { return func(r *Runtime) { r.env.Locale = locale } }

// New constructs a Runtime wired to reg (for resource and Op resolution),
// sched (for task groups) and cache (for Op output caching).
func New(reg *registry.Registry, sched *scheduler.Scheduler, cache Cache, opts ...Option) *Runtime {
	r := &Runtime{
		env: &Env{
			Registry: reg,
			Scheduler: sched,
			Cache:     cache,
			Logger:    telemetry.NewNoopLogger(),
			Metrics:   telemetry.NewNoopMetrics(),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.env.Cache == nil {
		r.env.Cache = NewMemoryCache()
	}
	r.env.Runtime = r
	return r
}

// Call invokes o and waits for its result, calling its AsyncExecute method
// when o.AsyncMode() is true and Execute otherwise, driving the full
// lifecycle (spec §4.2). kwargs are merged into ctx before bind.
func (r *Runtime) Call(ctx *flowctx.Context, o Op, kwargs map[string]any) (any, error) {
	return r.invoke(ctx, o, kwargs)
}

func (r *Runtime) invoke(ctx *flowctx.Context, o Op, kwargs map[string]any) (any, error) {
	// Step 1: bind.
	for k, v := range kwargs {
		ctx.Set(k, v)
	}
	o.bind(ctx, r.env)

	policy, cached := o.CachePolicy()
	if !cached {
		out, _, err := r.execute(ctx, o, kwargs)
		return out, err
	}

	// Step 2: cache probe.
	fp, err := r.fingerprint(ctx, o, kwargs)
	if err != nil {
		return nil, err
	}
	if raw, ok, err := r.env.Cache.Get(ctx.GoContext(), fp); err == nil && ok {
		var out any
		if err := json.Unmarshal(raw, &out); err == nil {
			r.applyOutput(ctx, o, out)
			return out, nil
		}
	}

	result, err := r.flight.Do(fp, func() (any, error) {
		if raw, ok, err := r.env.Cache.Get(ctx.GoContext(), fp); err == nil && ok {
			var out any
			if err := json.Unmarshal(raw, &out); err == nil {
				r.applyOutput(ctx, o, out)
				return out, nil
			}
		}
		out, isDefault, err := r.execute(ctx, o, kwargs)
		if err != nil {
			return nil, err
		}
		// spec §4.2 step 7: never cache a default-fallback output — it
		// reflects an exhausted retry, not a real result, and caching it
		// would keep serving the fallback after the transient condition
		// that produced it clears.
		if !isDefault {
			if raw, err := json.Marshal(out); err == nil {
				_ = r.env.Cache.Set(ctx.GoContext(), fp, raw, policy.Expire)
			}
		}
		return out, nil
	})
	return result, err
}

// execute runs steps 3-6 of the lifecycle: before-execute, execute with
// retries, exhaustion handling, after-execute. It does not touch the
// cache; it reports via its second return value whether out is a
// default-fallback value (spec §8 "Retry with raise_on_failure=false and
// all attempts fail: output equals default_execute() output;
// output_is_default=true") so invoke can refuse to cache it.
func (r *Runtime) execute(ctx *flowctx.Context, o Op, kwargs map[string]any) (any, bool, error) {
	tool, isTool := o.ToolSchema()
	if isTool {
		if err := checkRequiredInputs(ctx, tool); err != nil {
			if o.RaiseOnFailure() {
				return nil, false, err
			}
			out := defaultOutput(o, tool)
			r.applyOutput(ctx, o, out)
			return out, true, nil
		}
	}

	var lastErr error
	var out any
	for attempt := 1; attempt <= o.MaxRetries(); attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		var execErr error
		if o.AsyncMode() {
			out, execErr = o.AsyncExecute(ctx)
		} else {
			out, execErr = o.Execute(ctx)
		}
		if execErr == nil {
			lastErr = nil
			break
		}
		lastErr = execErr
		out = nil
		if !flowerr.Retryable(execErr) {
			break
		}
	}

	isDefault := false
	if lastErr != nil {
		if o.RaiseOnFailure() {
			return nil, false, lastErr
		}
		out = defaultOutput(o, tool)
		isDefault = true
	}

	r.applyOutput(ctx, o, out)
	return out, isDefault, nil
}

func checkRequiredInputs(ctx *flowctx.Context, tool *ToolCall) error {
	for schemaKey, attrs := range tool.InputSchema {
		if !attrs.Required {
			continue
		}
		key := contextKey(schemaKey, tool.InputSchemaMapping, tool.ToolIndex)
		if !ctx.Has(key) {
			return flowerr.New(flowerr.KindInputValidation, "missing required input %q", key)
		}
	}
	return nil
}

// DefaultOutput computes the zero-value output for o, the same value
// OpRuntime substitutes when an Op exhausts its retries with
// raise_on_failure=false (spec §4.2 step 5). Exported for the Parallel
// combinator, which substitutes a failed child's default output into the
// aggregate result list when its own raise_on_failure is false (spec §4.4).
func DefaultOutput(o Op) any {
	tool, _ := o.ToolSchema()
	return defaultOutput(o, tool)
}

func defaultOutput(o Op, tool *ToolCall) any {
	if tool == nil || len(tool.OutputSchema) == 0 {
		return ""
	}
	out := make(map[string]any, len(tool.OutputSchema))
	for k, attrs := range tool.OutputSchema {
		out[k] = attrs.Default
	}
	return out
}

// applyOutput writes a tool Op's output back into the Context (spec §4.2
// step 6): scalar outputs under the single default/mapped key, map outputs
// one key at a time, and — when SaveAnswer is set — into ctx.Response too.
func (r *Runtime) applyOutput(ctx *flowctx.Context, o Op, out any) {
	tool, isTool := o.ToolSchema()
	if !isTool {
		return
	}
	if len(tool.OutputSchema) == 0 {
		key := contextKey(DefaultOutputKey(o.ShortName()), tool.OutputSchemaMapping, tool.ToolIndex)
		ctx.Set(key, out)
		if tool.SaveAnswer {
			ctx.Response.SetAnswer(fmt.Sprint(out))
		}
		return
	}
	m, ok := out.(map[string]any)
	if !ok {
		return
	}
	for schemaKey, v := range m {
		key := contextKey(schemaKey, tool.OutputSchemaMapping, tool.ToolIndex)
		ctx.Set(key, v)
	}
	if tool.SaveAnswer {
		if raw, err := json.Marshal(m); err == nil {
			ctx.Response.SetAnswer(string(raw))
		}
	}
}

// fingerprint computes the cache key for o (spec §4.3): the Op's short
// name plus its cache-affecting inputs, serialized deterministically
// (encoding/json sorts map keys) and hashed. For a tool Op, the
// cache-affecting inputs are read out of ctx by resolving each declared
// input_schema key exactly the way checkRequiredInputs/before-execute
// does — not the call's local kwargs map, which is nil for every
// non-root Op (combinator/sequential.go and combinator/parallel.go both
// call children with kwargs=nil) and would otherwise collapse every
// invocation of a nested cached Op onto the same "no inputs"
// fingerprint regardless of what is actually in ctx. Non-tool Ops have
// no declared input contract to resolve, so they still fingerprint off
// the call's kwargs.
func (r *Runtime) fingerprint(ctx *flowctx.Context, o Op, kwargs map[string]any) (string, error) {
	inputs := kwargs
	if tool, ok := o.ToolSchema(); ok && len(tool.InputSchema) > 0 {
		inputs = make(map[string]any, len(tool.InputSchema))
		for schemaKey := range tool.InputSchema {
			key := contextKey(schemaKey, tool.InputSchemaMapping, tool.ToolIndex)
			if v, ok := ctx.GetAny(key); ok {
				inputs[schemaKey] = v
			}
		}
	}
	payload, err := json.Marshal(struct {
		Op     string         `json:"op"`
		Inputs map[string]any `json:"inputs"`
	}{Op: o.ShortName(), Inputs: inputs})
	if err != nil {
		return "", flowerr.Wrap(flowerr.KindDeterministic, err, "op: fingerprint encode failed")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Package op implements the Op runtime: the lifecycle, retries, caching,
// context propagation and lazy resource binding described in spec §3 and
// §4.2. Op is a compact interface every leaf computation and every
// Combinator (spec §4.4) implements; Runtime is the state machine that
// drives one call through Bind → cache probe → before-execute → execute
// with retries → after-execute → cache store.
package op

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowllm-ai/flowllm/capability"
	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/scheduler"
	"github.com/flowllm-ai/flowllm/telemetry"
)

// ParamAttrs describes one declared input or output parameter of a
// ToolCall schema (spec §3 ToolCall).
type ParamAttrs struct {
	Type        string
	Description string
	Required    bool
	Default     any
}

// ToolCall is the input/output schema a tool Op carries (spec §3). An Op
// without a ToolCall is a plain (non-tool) Op: OpRuntime's before/after
// execute steps are skipped for it, and cache fingerprints are computed
// over all kwargs instead of the declared schema.
type ToolCall struct {
	Description string
	// InputSchema maps a schema key to its parameter attributes.
	InputSchema map[string]ParamAttrs
	// OutputSchema maps a schema key to its parameter attributes. When nil,
	// the Op has a single string output named "{short_name}_result" (spec
	// §3 "defaults to a single string output").
	OutputSchema map[string]ParamAttrs
	// InputSchemaMapping renames schema keys to Context keys on read.
	InputSchemaMapping map[string]string
	// OutputSchemaMapping renames schema keys to Context keys on write.
	OutputSchemaMapping map[string]string
	// ToolIndex disambiguates multiple instances of the same Op type
	// composed under one Parallel node (spec §3, §4.2 step 6, end-to-end
	// scenario 3): when set, both input and output Context keys gain a
	// "_{index}" suffix after mapping. The abstract spec text only
	// mentions output keys; scenario 3's worked example
	// (text_1/text_2 → len_1/len_2) applies the suffix on input keys too,
	// so this implementation follows the concrete example.
	ToolIndex *int
	// SaveAnswer, when true, makes after-execute write the single output
	// (or a stable JSON serialization of a multi-output map) into
	// ctx.Response.Answer (spec §4.2 step 6).
	SaveAnswer bool
}

// contextKey resolves a schema key to the Context key it reads/writes,
// applying the mapping and tool_index suffix.
func contextKey(schemaKey string, mapping map[string]string, toolIndex *int) string {
	key := schemaKey
	if mapping != nil {
		if mapped, ok := mapping[schemaKey]; ok {
			key = mapped
		}
	}
	if toolIndex != nil {
		key = key + "_" + strconv.Itoa(*toolIndex)
	}
	return key
}

// DefaultOutputKey returns the single implicit output key a ToolCall with
// no declared OutputSchema writes (spec §3).
func DefaultOutputKey(shortName string) string { return shortName + "_result" }

// CachePolicy is an Op's optional cache configuration (spec §3, §4.3).
type CachePolicy struct {
	Enabled bool
	Expire  time.Duration
}

// Env is the process-wide wiring every Op instance is bound to for the
// duration of one call: the frozen Registry, the Scheduler, the Cache
// backend, telemetry, and the configured locale for prompt fallback (spec
// §4.2 "Locale fallback"). Runtime constructs one Env and shares it across
// every Bind call; Env itself carries no per-invocation state.
type Env struct {
	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Cache     Cache
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Locale    string
	// Runtime is the Runtime that owns this Env. Combinators use it to
	// recursively drive child Ops through the full lifecycle (spec §4.4);
	// leaf Ops generally don't need it.
	Runtime *Runtime
}

// Op is a unit of computation (spec §3). Concrete Op types embed Base,
// which supplies every method except Execute/AsyncExecute/Copy — those
// three are the irreducibly Op-specific behavior contract (spec §9 Design
// Notes: "a compact interface ... with variants for blocking vs
// cooperative").
type Op interface {
	ShortName() string
	AsyncMode() bool
	MaxRetries() int
	RaiseOnFailure() bool
	CachePolicy() (CachePolicy, bool)
	ToolSchema() (*ToolCall, bool)
	Ops() map[string]Op
	SetOp(name string, child Op)

	// SetAttr applies a parser-time keyword argument (spec §4.5 "Op
	// constructor calls ... invoked with parenthesized arguments", e.g.
	// LenOp(tool_index=1)). Registry constructors take no parameters in Go,
	// so FlowExpressionParser calls the zero-arg ctor, then SetAttr once per
	// keyword argument to configure the fresh instance.
	SetAttr(name string, value any) error

	// Copy returns a deep copy of the Op, with its own sub-Ops copied
	// recursively and no bound Context/resolved resources carried over
	// (spec §4.4 "Immutability rule", spec §9 "Cyclic graphs" note on
	// Copy()-ing shared sub-Ops before parallel execution).
	Copy() Op

	// Execute runs the Op synchronously. Called by Runtime when
	// AsyncMode() is false.
	Execute(ctx *flowctx.Context) (any, error)
	// AsyncExecute runs the Op cooperatively. Called by Runtime when
	// AsyncMode() is true.
	AsyncExecute(ctx *flowctx.Context) (any, error)

	// bind installs the per-call Context and Env on the Op instance (spec
	// §4.2 step 1 "Install the Context reference on the Op instance"),
	// extended to also install the Env so resource/prompt/scheduler
	// accessors work. Unexported so only types embedding Base can satisfy
	// Op — a sealed-interface pattern.
	bind(ctx *flowctx.Context, env *Env)
}

// Base is the embeddable implementation of everything on Op except
// Execute/AsyncExecute/Copy. Concrete Op types embed Base by value and
// override Execute and/or AsyncExecute; Copy must always be overridden
// because Go has no covariant "return the concrete outer type" without
// generics, so Base.CloneInto is the helper concrete Copy methods call.
type Base struct {
	Name           string
	Async          bool
	MaxRetriesN    int
	RaiseOnFail    bool
	Cache          *CachePolicy
	Tool           *ToolCall
	OpsMap         map[string]Op
	FilePath       string
	LLMName        string
	EmbeddingName  string
	VectorStoreName string

	ctx   *flowctx.Context
	env   *Env
	group *scheduler.Group

	llmHandle        capability.LLM
	embeddingHandle  capability.EmbeddingModel
	vectorStoreHandle capability.VectorStore

	prompts       map[string]string
	promptsLoaded bool
}

// NewBase constructs a Base with the given short name, async mode and
// max_retries (spec §3: max_retries >= 1).
func NewBase(name string, async bool, maxRetries int) Base {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return Base{Name: name, Async: async, MaxRetriesN: maxRetries, RaiseOnFail: true}
}

func (b *Base) ShortName() string        { return b.Name }
func (b *Base) AsyncMode() bool          { return b.Async }
func (b *Base) MaxRetries() int          { return b.MaxRetriesN }
func (b *Base) RaiseOnFailure() bool     { return b.RaiseOnFail }

func (b *Base) CachePolicy() (CachePolicy, bool) {
	if b.Cache == nil {
		return CachePolicy{}, false
	}
	return *b.Cache, true
}

func (b *Base) ToolSchema() (*ToolCall, bool) { return b.Tool, b.Tool != nil }

func (b *Base) Ops() map[string]Op { return b.OpsMap }

func (b *Base) SetOp(name string, child Op) {
	if b.OpsMap == nil {
		b.OpsMap = make(map[string]Op)
	}
	b.OpsMap[name] = child
}

// SetAttr recognizes the well-known parser-exposed keyword arguments:
// tool_index, max_retries, raise_on_failure, llm, embedding_model,
// vector_store. A concrete Op type can shadow this method to add its own
// constructor keyword arguments.
func (b *Base) SetAttr(name string, value any) error {
	switch name {
	case "tool_index":
		idx, ok := toInt(value)
		if !ok {
			return flowerr.New(flowerr.KindDeterministic, "tool_index must be an integer, got %v", value)
		}
		if b.Tool == nil {
			b.Tool = &ToolCall{}
		}
		b.Tool.ToolIndex = &idx
	case "max_retries":
		n, ok := toInt(value)
		if !ok || n < 1 {
			return flowerr.New(flowerr.KindDeterministic, "max_retries must be an integer >= 1, got %v", value)
		}
		b.MaxRetriesN = n
	case "raise_on_failure":
		v, ok := value.(bool)
		if !ok {
			return flowerr.New(flowerr.KindDeterministic, "raise_on_failure must be a bool, got %v", value)
		}
		b.RaiseOnFail = v
	case "llm":
		b.LLMName = fmt.Sprint(value)
	case "embedding_model":
		b.EmbeddingName = fmt.Sprint(value)
	case "vector_store":
		b.VectorStoreName = fmt.Sprint(value)
	default:
		return flowerr.New(flowerr.KindDeterministic, "unknown Op attribute %q", name)
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Execute's and AsyncExecute's Base-provided defaults report that the
// concrete Op does not implement the requested mode. Concrete types
// override whichever of the two matches their AsyncMode().
func (b *Base) Execute(*flowctx.Context) (any, error) {
	return nil, flowerr.New(flowerr.KindDeterministic, "op %q does not implement Execute", b.Name)
}

func (b *Base) AsyncExecute(*flowctx.Context) (any, error) {
	return nil, flowerr.New(flowerr.KindDeterministic, "op %q does not implement AsyncExecute", b.Name)
}

func (b *Base) bind(ctx *flowctx.Context, env *Env) {
	b.ctx = ctx
	b.env = env
	if env != nil && env.Scheduler != nil {
		b.group = env.Scheduler.NewGroup()
	}
}

// CloneInto resets Base's per-invocation state (bound context, resolved
// resource handles, loaded prompts) and deep-copies child Ops, returning
// the new Base value for a concrete Copy() method to embed in its clone.
func (b *Base) CloneInto() Base {
	clone := Base{
		Name: b.Name, Async: b.Async, MaxRetriesN: b.MaxRetriesN, RaiseOnFail: b.RaiseOnFail,
		Cache: b.Cache, Tool: b.Tool, FilePath: b.FilePath,
		LLMName: b.LLMName, EmbeddingName: b.EmbeddingName, VectorStoreName: b.VectorStoreName,
	}
	if len(b.OpsMap) > 0 {
		clone.OpsMap = make(map[string]Op, len(b.OpsMap))
		for k, v := range b.OpsMap {
			clone.OpsMap[k] = v.Copy()
		}
	}
	return clone
}

// Context returns the Context bound by the most recent bind call.
func (b *Base) Context() *flowctx.Context { return b.ctx }

// Group returns this invocation's scheduler task group, for submitting
// cooperative tasks or blocking calls from within Execute/AsyncExecute
// (spec §4.6).
func (b *Base) Group() *scheduler.Group { return b.group }

// Runtime returns the Runtime this Op was bound under, for combinators
// that need to recursively drive child Ops through the full lifecycle.
// Returns nil if the Op has not been bound yet.
func (b *Base) Runtime() *Runtime {
	if b.env == nil {
		return nil
	}
	return b.env.Runtime
}

// LLM lazily resolves and caches the named (or default) LLM capability for
// this Op instance's lifetime (spec §4.2 "Resource lazy binding").
func (b *Base) LLM() (capability.LLM, error) {
	if b.llmHandle != nil {
		return b.llmHandle, nil
	}
	v, err := resolveResource(b.env, registry.CategoryLLM, b.LLMName)
	if err != nil {
		return nil, err
	}
	llm, ok := v.(capability.LLM)
	if !ok {
		return nil, flowerr.New(flowerr.KindUnknownResource, "resolved %q does not implement capability.LLM", b.LLMName)
	}
	b.llmHandle = llm
	return llm, nil
}

// EmbeddingModel lazily resolves the named (or default) embedding capability.
func (b *Base) EmbeddingModel() (capability.EmbeddingModel, error) {
	if b.embeddingHandle != nil {
		return b.embeddingHandle, nil
	}
	v, err := resolveResource(b.env, registry.CategoryEmbedding, b.EmbeddingName)
	if err != nil {
		return nil, err
	}
	em, ok := v.(capability.EmbeddingModel)
	if !ok {
		return nil, flowerr.New(flowerr.KindUnknownResource, "resolved %q does not implement capability.EmbeddingModel", b.EmbeddingName)
	}
	b.embeddingHandle = em
	return em, nil
}

// VectorStore lazily resolves the named (or default) vector store capability.
func (b *Base) VectorStore() (capability.VectorStore, error) {
	if b.vectorStoreHandle != nil {
		return b.vectorStoreHandle, nil
	}
	v, err := resolveResource(b.env, registry.CategoryVectorStore, b.VectorStoreName)
	if err != nil {
		return nil, err
	}
	vs, ok := v.(capability.VectorStore)
	if !ok {
		return nil, flowerr.New(flowerr.KindUnknownResource, "resolved %q does not implement capability.VectorStore", b.VectorStoreName)
	}
	b.vectorStoreHandle = vs
	return vs, nil
}

func resolveResource(env *Env, category registry.Category, name string) (any, error) {
	if env == nil || env.Registry == nil {
		return nil, flowerr.New(flowerr.KindUnknownResource, "op: no registry bound")
	}
	if name == "" {
		return env.Registry.ResolveDefault(category)
	}
	return env.Registry.Resolve(category, name)
}

// PromptFormat substitutes "{var}" placeholders in the named prompt
// template with vars, loading (and locale-resolving) the Op's prompt file
// on first use (spec §4.2 "Prompt binding").
func (b *Base) PromptFormat(name string, vars map[string]any) (string, error) {
	if err := b.loadPrompts(); err != nil {
		return "", err
	}
	tmpl, ok := b.resolvePromptName(name)
	if !ok {
		return "", flowerr.New(flowerr.KindUnknownResource, "op %q: no prompt named %q", b.Name, name)
	}
	return formatTemplate(tmpl, vars), nil
}

// resolvePromptName applies the locale fallback rule: "foo_zh" is preferred
// over "foo" when the configured language is "zh" (spec §4.2).
func (b *Base) resolvePromptName(name string) (string, bool) {
	if b.env != nil && b.env.Locale != "" {
		if v, ok := b.prompts[name+"_"+b.env.Locale]; ok {
			return v, true
		}
	}
	v, ok := b.prompts[name]
	return v, ok
}

func (b *Base) loadPrompts() error {
	if b.promptsLoaded {
		return nil
	}
	b.promptsLoaded = true
	if b.FilePath == "" {
		b.prompts = map[string]string{}
		return nil
	}
	prompts, err := loadPromptFile(b.FilePath)
	if err != nil {
		return err
	}
	b.prompts = prompts
	return nil
}

func formatTemplate(tmpl string, vars map[string]any) string {
	if len(vars) == 0 {
		return tmpl
	}
	replacer := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		replacer = append(replacer, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(replacer...).Replace(tmpl)
}

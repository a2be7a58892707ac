// Package config defines the frozen ServiceConfig contract the core reads
// (spec §6.4). Loading and merging configuration from files, environment
// variables or CLI flags is explicitly out of scope (spec §1 Non-goals,
// §6.3 "the core treats this as an external driver that produces a
// finalized Service Config"); this package only names the Go struct shape
// that driver must produce.
package config

import "time"

// Backend selects which service entry point to start (spec §6.4
// "backend").
type Backend string

const (
	BackendHTTP Backend = "http"
	BackendMCP  Backend = "mcp"
	BackendCmd  Backend = "cmd"
)

// FlowConfig describes one entry of the `flow.{name}.*` configuration
// surface (spec §6.4).
type FlowConfig struct {
	// FlowContent is the flow expression source the FlowExpressionParser
	// compiles into the Flow's composed Op (spec §4.5).
	FlowContent string
	Description string
	Stream      bool
	InputSchema map[string]any
}

// LLMConfig describes one entry of `llm.{name}.*`.
type LLMConfig struct {
	Backend    string
	ModelName  string
	Params     map[string]any
	TokenCount bool
}

// EmbeddingModelConfig describes one entry of `embedding_model.{name}.*`.
type EmbeddingModelConfig struct {
	Backend   string
	ModelName string
	Params    map[string]any
}

// VectorStoreConfig describes one entry of `vector_store.{name}.*`.
type VectorStoreConfig struct {
	Backend        string
	EmbeddingModel string
	Params         map[string]any
}

// HTTPConfig describes `http.host`/`http.port`.
type HTTPConfig struct {
	Host string
	Port int
}

// MCPConfig describes `mcp.host`/`mcp.port`/`mcp.transport`.
type MCPConfig struct {
	Host      string
	Port      int
	Transport string
}

// ServiceConfig is the frozen, already-assembled configuration value the
// core is constructed from (spec §6.4). Unknown keys in whatever external
// format produced this value are ignored unless they collide with one of
// these fields; that reconciliation is the external driver's job, not
// this package's.
type ServiceConfig struct {
	Backend              Backend
	ThreadPoolMaxWorkers int
	HTTP                 HTTPConfig
	MCP                  MCPConfig
	Flows                map[string]FlowConfig
	LLMs                 map[string]LLMConfig
	EmbeddingModels      map[string]EmbeddingModelConfig
	VectorStores         map[string]VectorStoreConfig

	// ShutdownGrace bounds how long the service entry point waits for
	// in-flight streams to drain before forcing an exit (supplemented
	// "graceful shutdown" feature).
	ShutdownGrace time.Duration

	// InvocationTimeout is the per-flow-call deadline used when the
	// request itself does not supply one (spec §5).
	InvocationTimeout time.Duration

	// Locale is the configured language tag used for prompt fallback
	// (spec §4.2 "Locale fallback").
	Locale string

	// AdmissionRateLimit caps the steady-state rate, in task submissions
	// per second, at which the scheduler admits blocking Submit calls
	// ahead of its worker-count semaphore (spec §3 "scheduler rate
	// limiting"). Zero disables admission rate limiting.
	AdmissionRateLimit float64

	// AdmissionBurst is the token-bucket burst size paired with
	// AdmissionRateLimit. Ignored when AdmissionRateLimit is zero.
	AdmissionBurst int
}

// DefaultThreadPoolMaxWorkers is the worker-pool size used when a
// ServiceConfig does not set one (spec §5 "default 128").
const DefaultThreadPoolMaxWorkers = 128

// Normalize fills in the documented defaults for any zero-valued field
// that has one, so callers constructing a ServiceConfig only need to set
// the fields they care about.
func Normalize(c ServiceConfig) ServiceConfig {
	if c.ThreadPoolMaxWorkers <= 0 {
		c.ThreadPoolMaxWorkers = DefaultThreadPoolMaxWorkers
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.InvocationTimeout <= 0 {
		c.InvocationTimeout = 2 * time.Minute
	}
	if c.Locale == "" {
		c.Locale = "en"
	}
	if c.AdmissionRateLimit > 0 && c.AdmissionBurst <= 0 {
		c.AdmissionBurst = 1
	}
	return c
}

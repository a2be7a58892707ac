// Package flow implements the Flow entity (spec §3 Flow): a named,
// immutable-after-startup binding of a composed Op tree, optionally
// validated against a declared input schema and optionally exposed as a
// streaming (SSE) endpoint.
package flow

import (
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
)

// Flow is created at service startup from configuration and invoked many
// times concurrently thereafter (spec §3).
type Flow struct {
	// Name is unique per service and is also the MCP tool name / HTTP path
	// segment.
	Name string
	// ComposedOp is the root of the Op tree this Flow invokes.
	ComposedOp op.Op
	// Description is surfaced in /docs, /openapi.json and the MCP tool
	// catalog.
	Description string
	// Stream reports whether the service must expose this flow over SSE
	// (spec §6.1).
	Stream bool

	// InputSchemaRaw is the flow's declared JSON Schema (spec §3 "optional
	// input_schema"), or nil when the flow accepts arbitrary kwargs.
	InputSchemaRaw map[string]any

	schema *jsonschema.Schema
}

// New constructs a Flow, compiling inputSchema (if non-nil) once so that
// every later Validate call reuses the compiled schema (spec §4.8 step 3).
func New(name string, composed op.Op, description string, stream bool, inputSchema map[string]any) (*Flow, error) {
	if name == "" {
		return nil, flowerr.New(flowerr.KindDeterministic, "flow: name must not be empty")
	}
	if composed == nil {
		return nil, flowerr.New(flowerr.KindDeterministic, "flow %q: composed_op must not be nil", name)
	}
	f := &Flow{
		Name:            name,
		ComposedOp:      composed,
		Description:     description,
		Stream:          stream,
		InputSchemaRaw:  inputSchema,
	}
	if inputSchema != nil {
		schema, err := compileSchema(name, inputSchema)
		if err != nil {
			return nil, err
		}
		f.schema = schema
	}
	return f, nil
}

// HasSchema reports whether the Flow declared an input_schema.
func (f *Flow) HasSchema() bool { return f.schema != nil }

// Validate checks kwargs against the Flow's declared input_schema, if any
// (spec §4.8 step 3). When strict is true (MCP mode), unknown top-level
// fields not named in the schema's "properties" are rejected; when false
// (HTTP mode), unknown fields are passed through untouched. A Flow with no
// declared schema always validates successfully in either mode.
func (f *Flow) Validate(kwargs map[string]any, strict bool) error {
	if f.schema == nil {
		return nil
	}
	if strict {
		if err := rejectUnknownFields(f.InputSchemaRaw, kwargs); err != nil {
			return err
		}
	}
	if err := f.schema.Validate(kwargs); err != nil {
		return flowerr.Wrap(flowerr.KindInputValidation, err, "flow %q: input schema validation failed", f.Name)
	}
	return nil
}

func compileSchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	schemaURL := "flowllm://flows/" + name + "/input_schema.json"
	if err := c.AddResource(schemaURL, raw); err != nil {
		return nil, flowerr.Wrap(flowerr.KindDeterministic, err, "flow %q: invalid input_schema", name)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.KindDeterministic, err, "flow %q: could not compile input_schema", name)
	}
	return schema, nil
}

// rejectUnknownFields implements MCP strict mode: every key in kwargs must
// appear under the schema's top-level "properties" map (spec §4.8 "in MCP
// mode the schema is mandatory and validation is strict (unknown fields ->
// error)").
func rejectUnknownFields(raw map[string]any, kwargs map[string]any) error {
	props, _ := raw["properties"].(map[string]any)
	for k := range kwargs {
		if _, ok := props[k]; !ok {
			return flowerr.New(flowerr.KindInputValidation, "unknown field %q not declared in input_schema", k)
		}
	}
	return nil
}

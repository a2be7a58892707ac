package mcpservice

import (
	"context"
	"encoding/json"

	"github.com/flowllm-ai/flowllm/dispatcher"
)

const protocolVersion = "2024-11-05"

// dispatch handles one JSON-RPC request asynchronously and pushes its
// response back onto the owning session's SSE stream (spec §6.2 "message
// framing per the MCP specification").
func (s *Server) dispatch(ctx context.Context, sess *session, req rpcRequest) {
	switch req.Method {
	case "initialize":
		s.reply(sess, resultResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "flowllm", "version": "1.0.0"},
		}))
	case "ping":
		s.reply(sess, resultResponse(req.ID, map[string]any{}))
	case "notifications/initialized":
		// No response expected for a notification.
	case "tools/list":
		s.reply(sess, resultResponse(req.ID, map[string]any{"tools": s.toolCatalog()}))
	case "tools/call":
		s.handleToolsCall(ctx, sess, req)
	default:
		s.reply(sess, errorResponse(req.ID, codeMethodNotFound, "unknown method "+req.Method))
	}
}

func (s *Server) toolCatalog() []toolDescriptor {
	flows := s.disp.Flows()
	tools := make([]toolDescriptor, 0, len(flows))
	for _, f := range flows {
		if f.Stream {
			// Stream flows must not be exposed over MCP (spec §6.2
			// "stream flows must not be exposed here").
			continue
		}
		schema := f.InputSchemaRaw
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, toolDescriptor{
			Name:        f.Name,
			Description: f.Description,
			InputSchema: schema,
		})
	}
	return tools
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, sess *session, req rpcRequest) {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.reply(sess, errorResponse(req.ID, codeInvalidParams, "invalid tools/call params"))
		return
	}

	f, ok := s.disp.Lookup(params.Name)
	if !ok {
		s.reply(sess, errorResponse(req.ID, codeInvalidParams, "unknown tool "+params.Name))
		return
	}
	if f.Stream {
		s.reply(sess, errorResponse(req.ID, codeInvalidParams, "tool "+params.Name+" is a streaming flow and cannot be called over MCP"))
		return
	}

	flowCtx, err := s.disp.Invoke(ctx, params.Name, params.Arguments, dispatcher.ModeMCP)
	if err != nil {
		s.reply(sess, resultResponse(req.ID, toolsCallResult{
			IsError: true,
			Content: []contentItem{{Type: "text", Text: err.Error()}},
		}))
		return
	}

	content := []contentItem{{Type: "text", Text: flowCtx.Response.Answer}}
	snapshot := flowCtx.Response.Snapshot()
	delete(snapshot, "answer")
	if hasNonEmptyFields(snapshot) {
		if structured, err := json.Marshal(snapshot); err == nil {
			content = append(content, contentItem{Type: "text", Text: string(structured)})
		}
	}
	s.reply(sess, resultResponse(req.ID, toolsCallResult{Content: content}))
}

func hasNonEmptyFields(snapshot map[string]any) bool {
	if len(snapshot) == 0 {
		return false
	}
	if len(snapshot) == 1 {
		if messages, ok := snapshot["messages"].([]any); ok && len(messages) == 0 {
			return false
		}
	}
	return true
}

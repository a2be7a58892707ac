package httpservice

import (
	"fmt"
	"net/http"
	"strings"
)

// handleDocs renders a minimal human-readable index of every registered
// flow (spec's supplemented "/docs and /openapi.json" feature).
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	b.WriteString("<html><head><title>FlowLLM</title></head><body>")
	b.WriteString("<h1>Flows</h1><ul>")
	for _, f := range s.disp.Flows() {
		kind := "POST (json)"
		if f.Stream {
			kind = "POST (sse)"
		}
		fmt.Fprintf(&b, "<li><code>/%s</code> — %s — %s</li>", f.Name, kind, f.Description)
	}
	b.WriteString("</ul></body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

// handleOpenAPI renders a minimal OpenAPI 3 document with one path per
// registered flow, its request body derived from the flow's declared
// input_schema when present.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	paths := map[string]any{}
	for _, f := range s.disp.Flows() {
		schema := map[string]any{"type": "object"}
		if f.InputSchemaRaw != nil {
			schema = f.InputSchemaRaw
		}
		responseContentType := "application/json"
		if f.Stream {
			responseContentType = "text/event-stream"
		}
		paths["/"+f.Name] = map[string]any{
			"post": map[string]any{
				"summary": f.Description,
				"requestBody": map[string]any{
					"content": map[string]any{
						"application/json": map[string]any{"schema": schema},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{
						"description": "flow result",
						"content": map[string]any{
							responseContentType: map[string]any{},
						},
					},
				},
			},
		}
	}

	doc := map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]any{"title": "FlowLLM", "version": "1.0.0"},
		"paths":   paths,
	}
	writeJSON(w, http.StatusOK, doc)
}

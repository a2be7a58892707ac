package httpservice

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowllm-ai/flowllm/dispatcher"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/stream"
)

func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "flow_name")
	f, ok := s.disp.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("unknown flow %q", name)})
		return
	}

	var kwargs map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&kwargs); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	if f.Stream {
		s.handleStreamingFlow(w, r, name, kwargs)
		return
	}

	ctx, err := s.disp.Invoke(r.Context(), name, kwargs, dispatcher.ModeHTTP)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ctx.Response.Snapshot())
}

func (s *Server) handleStreamingFlow(w http.ResponseWriter, r *http.Request, name string, kwargs map[string]any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	ctx, _, err := s.disp.InvokeStreaming(r.Context(), name, kwargs)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]any{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			// Client disconnected; stop producers mid-flow (spec §4.7 "on
			// client disconnect the outbox is closed").
			ctx.Outbox().Close()
			return
		case chunk, ok := <-ctx.Outbox().Chunks():
			if !ok {
				return
			}
			if chunk.Kind == stream.KindDone {
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func statusForError(err error) int {
	kind, ok := flowerr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case flowerr.KindUnknownFlow, flowerr.KindUnknownOp, flowerr.KindUnknownResource:
		return http.StatusNotFound
	case flowerr.KindInputValidation:
		return http.StatusBadRequest
	case flowerr.KindTimeout:
		return http.StatusGatewayTimeout
	case flowerr.KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

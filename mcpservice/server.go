// Package mcpservice implements the MCP external interface (spec §6.2):
// an SSE transport at GET /sse exposing one MCP tool per non-streaming flow,
// with mandatory input schemas and non-streamed tool results.
package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowllm-ai/flowllm/dispatcher"
	"github.com/flowllm-ai/flowllm/telemetry"
)

const pingInterval = 25 * time.Second

// Server implements the MCP SSE transport over a Dispatcher's flow table.
type Server struct {
	disp     *dispatcher.Dispatcher
	sessions *sessionRegistry
	router   chi.Router
	http     *http.Server
	logger   telemetry.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Server) { s.logger = l } }

// New builds an MCP SSE Server listening on addr, exposing one tool per
// non-streaming flow registered in disp.
func New(addr string, disp *dispatcher.Dispatcher, opts ...Option) *Server {
	s := &Server{disp: disp, sessions: newSessionRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}

	r := chi.NewRouter()
	r.Get("/sse", s.handleSSE)
	r.Post("/messages", s.handleMessages)
	s.router = r
	s.http = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Router exposes the underlying chi.Router for tests.
func (s *Server) Router() chi.Router { return s.router }

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }

// Shutdown drains in-flight sessions within the given grace period.
func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := newSession()
	s.sessions.add(sess)
	defer s.sessions.remove(sess.id)
	defer sess.close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("/messages?session_id=%s", sess.id)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.done:
			return
		case msg := <-sess.out:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(sess, errorResponse(nil, codeParseError, "invalid JSON-RPC request"))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// The request context ends when this handler returns, so the call runs
	// on a context that is cancelled when the session closes instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	go func() {
		defer cancel()
		select {
		case <-sess.done:
		case <-ctx.Done():
		}
	}()
	go func() {
		defer cancel()
		s.dispatch(ctx, sess, req)
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) reply(sess *session, resp rpcResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case sess.out <- payload:
	case <-sess.done:
	}
}

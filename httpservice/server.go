// Package httpservice implements the HTTP external interface (spec §6.1):
// a health check, a human docs index plus an OpenAPI document, and one
// POST route per registered flow returning either a JSON body or an SSE
// stream depending on the flow's declared Stream flag.
package httpservice

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/flowllm-ai/flowllm/dispatcher"
	"github.com/flowllm-ai/flowllm/telemetry"
)

// Server wraps a chi router and an http.Server bound to a Dispatcher.
type Server struct {
	disp   *dispatcher.Dispatcher
	router chi.Router
	http   *http.Server
	logger telemetry.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Server) { s.logger = l } }

// New builds a Server listening on addr and routing through disp (spec
// §6.1). Routing, request-id/recoverer middleware and permissive CORS
// follow the teacher-adjacent `digitallysavvy-go-ai` chi-server example.
func New(addr string, disp *dispatcher.Dispatcher, opts ...Option) *Server {
	s := &Server{disp: disp}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/docs", s.handleDocs)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Post("/{flow_name}", s.handleFlow)

	s.router = r
	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the underlying chi.Router for tests.
func (s *Server) Router() chi.Router { return s.router }

// ListenAndServe starts the server; it returns http.ErrServerClosed on a
// clean Shutdown (spec §6.1 "exit codes ... 0 on clean shutdown").
func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }

// Shutdown drains in-flight requests and streams within the given grace
// period (spec's supplemented "graceful shutdown" feature).
func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

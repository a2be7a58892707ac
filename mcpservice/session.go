package mcpservice

import (
	"sync"

	"github.com/google/uuid"
)

// session is one connected SSE client: an MCP client that opened GET /sse
// and will POST JSON-RPC requests against /messages?session_id=<id>,
// expecting responses to arrive asynchronously over its SSE stream (spec
// §6.2 "Session, ping, and message framing per the MCP specification").
type session struct {
	id   string
	out  chan []byte
	done chan struct{}
}

func newSession() *session {
	return &session{
		id:   uuid.NewString(),
		out:  make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

func (s *session) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// sessionRegistry tracks live sessions by ID, guarded by a mutex (the
// teacher's own concurrency idiom throughout is a mutex-guarded map, see
// registry.Registry and scheduler.Group).
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

func (r *sessionRegistry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *sessionRegistry) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

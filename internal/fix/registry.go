package fix

import (
	"errors"
	"sync"
)

// -------------------------------------------------------------------------
// Registry — process-wide session lookup and cross-thread send
// -------------------------------------------------------------------------

// Sentinel errors for registry operations.
var (
	// ErrSessionNotFound indicates no session is registered for the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateSession indicates a session is already registered
	// under the id.
	ErrDuplicateSession = errors.New("duplicate session id")
)

// Registry maps session ids to live sessions so application threads can
// address a session they do not own. Sends go through the session's
// bounded outbox, drained by the owning reactor on each poll; the
// registry never touches engine state directly.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session under its id.
func (r *Registry) Register(s *Session) error {
	key := s.ID().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[key]; exists {
		return ErrDuplicateSession
	}
	r.sessions[key] = s
	return nil
}

// Unregister removes the session for id, if present.
func (r *Registry) Unregister(id SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id.String())
}

// Lookup returns the session registered under id.
func (r *Registry) Lookup(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id.String()]
	return s, ok
}

// SendToSession enqueues msg for the session's reactor to send. Safe
// from any goroutine.
func (r *Registry) SendToSession(id SessionID, msg *Message) error {
	s, ok := r.Lookup(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Submit(msg)
}

// Sessions returns a snapshot of all registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

package server

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/voxtrail/audiostream/session"
)

// Registry tracks the open sessions served over HTTP by opaque id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.UploadSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.UploadSession)}
}

// Add stores s under a new random id and returns the id.
func (r *Registry) Add(s *session.UploadSession) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return id
}

// Get returns the session stored under id.
func (r *Registry) Get(id string) (*session.UploadSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove forgets id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AbortAll aborts every tracked session and empties the registry. It
// returns the number of sessions that were still open.
func (r *Registry) AbortAll(ctx context.Context) int {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session.UploadSession)
	r.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if s.IsEnded() {
			continue
		}
		n++
		_ = s.Abort(ctx)
	}
	return n
}

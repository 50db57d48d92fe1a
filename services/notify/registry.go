package notify

import (
	"sync"
)

// Registry holds the live connection handles of the process, keyed by identity id.
// It never holds more than one.
type Registry struct {
	mu      sync.Mutex
	handles map[int64]*handle
}

// DefaultRegistry is the process-wide registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{handles: make(map[int64]*handle)}
}

// acquire registers h unless any handle is already live.
func (r *Registry) acquire(h *handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handles) > 0 {
		return false
	}
	r.handles[h.identity.ID] = h
	return true
}

// release removes h; a newer handle for the same identity is left alone.
func (r *Registry) release(h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[h.identity.ID] == h {
		delete(r.handles, h.identity.ID)
	}
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Has reports whether a live handle is keyed by memberID.
func (r *Registry) Has(memberID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[memberID]
	return ok
}

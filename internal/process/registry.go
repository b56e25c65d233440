package process

import "sync"

// Registry is the set of live handles. The poll strategy walks it on every
// tick; the reactor also uses it for KillAll and Close.
type Registry struct {
	mu  sync.RWMutex
	set map[*Handle]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{set: make(map[*Handle]struct{})}
}

// Add inserts h. Adding twice has no effect.
func (r *Registry) Add(h *Handle) {
	r.mu.Lock()
	r.set[h] = struct{}{}
	r.mu.Unlock()
}

// Remove deletes h and reports whether it was present.
func (r *Registry) Remove(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[h]; !ok {
		return false
	}
	delete(r.set, h)
	return true
}

// Contains reports whether h is registered.
func (r *Registry) Contains(h *Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[h]
	return ok
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.set)
}

// Snapshot returns the registered handles in no particular order.
func (r *Registry) Snapshot() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.set))
	for h := range r.set {
		out = append(out, h)
	}
	return out
}

package supervisor

import (
	"sort"
	"sync"
	"time"
)

// Registration ties a worker process to its channel.
type Registration struct {
	PID       int
	Name      string
	Process   Process
	StartedAt time.Time
}

// Registry is the set of live worker registrations keyed by pid. Several
// registrations may share a name; lookups by name return them in
// registration order.
type Registry struct {
	mu    sync.RWMutex
	byPID map[int]*Registration
	order []int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byPID: make(map[int]*Registration)}
}

// Add inserts reg. It reports false if the pid is already registered.
func (r *Registry) Add(reg *Registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPID[reg.PID]; exists {
		return false
	}
	r.byPID[reg.PID] = reg
	r.order = append(r.order, reg.PID)
	return true
}

// Remove deletes the registration for pid and returns it.
func (r *Registry) Remove(pid int) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byPID[pid]
	if !ok {
		return nil, false
	}
	delete(r.byPID, pid)
	for i, p := range r.order {
		if p == pid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return reg, true
}

// Get returns the registration for pid.
func (r *Registry) Get(pid int) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byPID[pid]
	return reg, ok
}

// FirstOpen returns the earliest registration for name whose channel is
// still open.
func (r *Registry) FirstOpen(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pid := range r.order {
		reg := r.byPID[pid]
		if reg.Name == name && !reg.Process.Conn().Closed() {
			return reg, true
		}
	}
	return nil, false
}

// ByName returns the registrations for name in registration order.
func (r *Registry) ByName(name string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Registration
	for _, pid := range r.order {
		if reg := r.byPID[pid]; reg.Name == name {
			out = append(out, reg)
		}
	}
	return out
}

// All returns every registration in registration order.
func (r *Registry) All() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.order))
	for _, pid := range r.order {
		out = append(out, r.byPID[pid])
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPID)
}

// Counts returns the number of registrations per name.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for _, reg := range r.byPID {
		out[reg.Name]++
	}
	return out
}

// Names returns the distinct registered names, sorted.
func (r *Registry) Names() []string {
	counts := r.Counts()
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

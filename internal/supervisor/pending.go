package supervisor

import (
	"sync"

	"github.com/lfcbot/lfc/internal/envelope"
)

// PendingStore holds envelopes accepted for a worker name but not yet
// written to one of its channels.
type PendingStore struct {
	mu     sync.RWMutex
	byName map[string][]envelope.Envelope
	limit  int
}

// NewPendingStore creates an empty store with no per-name limit.
func NewPendingStore() *PendingStore {
	return &PendingStore{byName: make(map[string][]envelope.Envelope)}
}

// WithLimit caps the envelopes kept per name. Zero means unlimited.
func (p *PendingStore) WithLimit(n int) *PendingStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit = max(n, 0)
	return p
}

// Track records env for name. An envelope with the same message id replaces
// the stored one in place. When a new envelope pushes name over the limit
// the oldest one is evicted and returned.
func (p *PendingStore) Track(name string, env envelope.Envelope) (evicted envelope.Envelope, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.byName[name]
	for i := range list {
		if list[i].MessageID == env.MessageID {
			list[i] = env
			return envelope.Envelope{}, false
		}
	}
	list = append(list, env)
	if p.limit > 0 && len(list) > p.limit {
		evicted, ok = list[0], true
		list = append(list[:0:0], list[1:]...)
	}
	p.byName[name] = list
	return evicted, ok
}

// Remove deletes the envelope with id from name's list. It reports whether
// an entry was removed.
func (p *PendingStore) Remove(name, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.byName[name]
	for i := range list {
		if list[i].MessageID == id {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(p.byName, name)
			} else {
				p.byName[name] = list
			}
			return true
		}
	}
	return false
}

// Get returns the pending envelope with id for name.
func (p *PendingStore) Get(name, id string) (envelope.Envelope, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, env := range p.byName[name] {
		if env.MessageID == id {
			return env, true
		}
	}
	return envelope.Envelope{}, false
}

// List returns a copy of name's pending envelopes in arrival order.
func (p *PendingStore) List(name string) []envelope.Envelope {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := p.byName[name]
	out := make([]envelope.Envelope, len(list))
	copy(out, list)
	return out
}

// Purge drops every pending envelope for name and returns how many there
// were.
func (p *PendingStore) Purge(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.byName[name])
	delete(p.byName, name)
	return n
}

// Counts returns the number of pending envelopes per name.
func (p *PendingStore) Counts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.byName))
	for name, list := range p.byName {
		out[name] = len(list)
	}
	return out
}

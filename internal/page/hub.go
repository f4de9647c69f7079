package page

import (
	"context"
	"sort"
	"sync"

	"snipex/internal/field"
	"snipex/internal/protocol"
	"snipex/internal/snippet"
)

// Hub routes coordinator deliveries to the agent owning the field's
// tab+frame. A delivery for a context that has gone away is reported as a
// FieldGoneError; the coordinator only logs it.
type Hub struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

var _ protocol.Router = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{agents: make(map[string]*Agent)}
}

// Add registers a, replacing any agent with the same key.
func (h *Hub) Add(a *Agent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.agents[a.Key()] = a
}

// Remove unregisters the agent for key.
func (h *Hub) Remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.agents, key)
}

// Get returns the agent for key.
func (h *Hub) Get(key string) (*Agent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[key]
	return a, ok
}

// Keys returns the registered context keys, sorted.
func (h *Hub) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.agents))
	for k := range h.agents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Deliver implements protocol.Router.
func (h *Hub) Deliver(ctx context.Context, ref field.Ref, msg protocol.Message) error {
	a, ok := h.Get(ref.Context())
	if !ok {
		return &field.FieldGoneError{Ref: ref}
	}
	return a.Deliver(ctx, ref, msg)
}

// SetLibrary pushes a reloaded snippet set to every agent.
func (h *Hub) SetLibrary(lib *snippet.Library) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, a := range h.agents {
		a.SetLibrary(lib)
	}
}

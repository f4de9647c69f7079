package field

import (
	"sync"
)

// Registry maps element markers to adapters for one tab+frame, and carries
// the per-field marker that rejects re-triggering while a session is open.
type Registry struct {
	mu     sync.RWMutex
	tab    string
	frame  string
	fields map[string]Field
	marked map[string]bool
}

// NewRegistry returns an empty registry for tab and frame.
func NewRegistry(tab, frame string) *Registry {
	return &Registry{
		tab:    tab,
		frame:  frame,
		fields: make(map[string]Field),
		marked: make(map[string]bool),
	}
}

// Ref returns the cross-context reference for element.
func (r *Registry) Ref(element string) Ref {
	return Ref{Tab: r.tab, Frame: r.frame, Element: element}
}

// Register attaches an adapter to element, replacing any previous one.
func (r *Registry) Register(element string, f Field) Ref {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[element] = f
	return r.Ref(element)
}

// Lookup returns the adapter for element or a FieldGoneError.
func (r *Registry) Lookup(element string) (Field, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fields[element]
	if !ok {
		return nil, &FieldGoneError{Ref: r.Ref(element)}
	}
	return f, nil
}

// Remove forgets element and clears its marker.
func (r *Registry) Remove(element string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fields, element)
	delete(r.marked, element)
}

// Mark sets the in-flight marker. It reports false when already set.
func (r *Registry) Mark(element string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.marked[element] {
		return false
	}
	r.marked[element] = true
	return true
}

// Unmark clears the in-flight marker.
func (r *Registry) Unmark(element string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.marked, element)
}

// Marked reports whether element has a session in flight.
func (r *Registry) Marked(element string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.marked[element]
}

// Len returns the number of registered fields.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fields)
}

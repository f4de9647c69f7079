package trigger

// Set is an insertion-ordered collection of distinct triggers.
// It is not safe for concurrent mutation; readers hold their own copy.
type Set struct {
	order []string
	index map[string]int
}

// NewSet builds a set from triggers, dropping empties and duplicates.
func NewSet(triggers ...string) *Set {
	s := &Set{index: make(map[string]int, len(triggers))}
	for _, t := range triggers {
		s.Add(t)
	}
	return s
}

// Add appends t unless it is empty or already present.
func (s *Set) Add(t string) bool {
	if t == "" {
		return false
	}
	if _, ok := s.index[t]; ok {
		return false
	}
	s.index[t] = len(s.order)
	s.order = append(s.order, t)
	return true
}

// Remove deletes t, keeping the relative order of the rest.
func (s *Set) Remove(t string) bool {
	i, ok := s.index[t]
	if !ok {
		return false
	}
	s.order = append(s.order[:i], s.order[i+1:]...)
	delete(s.index, t)
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j]] = j
	}
	return true
}

// Contains reports whether t is in the set.
func (s *Set) Contains(t string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[t]
	return ok
}

// Len returns the number of triggers.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Triggers returns a copy of the triggers in insertion order.
func (s *Set) Triggers() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

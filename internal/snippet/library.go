package snippet

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"snipex/internal/trigger"
)

// Library is the ordered set of snippets and categories.
// Trigger order follows insertion, which the first-match policy relies on.
type Library struct {
	mu         sync.RWMutex
	snippets   map[string]Snippet
	triggers   *trigger.Set
	categories []string
}

// NewLibrary returns a library holding only the default category.
func NewLibrary() *Library {
	return &Library{
		snippets:   make(map[string]Snippet),
		triggers:   trigger.NewSet(),
		categories: []string{DefaultCategory},
	}
}

// Match finds the trigger that ends at the caret and returns its snippet.
func (l *Library) Match(text string, caret int, caretKnown bool, policy trigger.Policy) (trigger.Match, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return trigger.Find(text, caret, caretKnown, l.triggers, policy)
}

// Lookup returns the snippet for t.
func (l *Library) Lookup(t string) (Snippet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.snippets[t]
	return s, ok
}

// Put inserts or replaces a snippet. Replacing keeps the trigger's position.
// Unknown categories are created.
func (l *Library) Put(s Snippet) error {
	if s.Trigger == "" {
		return fmt.Errorf("snippet trigger must not be empty")
	}
	if s.Category == "" {
		s.Category = DefaultCategory
	}
	if !s.DefaultAudience.Valid() {
		s.DefaultAudience = Internal
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.triggers.Add(s.Trigger)
	l.snippets[s.Trigger] = s
	l.addCategoryLocked(s.Category)
	return nil
}

// Rename moves a snippet to a new trigger, keeping its position.
func (l *Library) Rename(from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.snippets[from]
	if !ok {
		return fmt.Errorf("snippet %q not found", from)
	}
	if to == "" {
		return fmt.Errorf("snippet trigger must not be empty")
	}
	if _, exists := l.snippets[to]; exists && to != from {
		return fmt.Errorf("snippet %q already exists", to)
	}

	order := l.triggers.Triggers()
	for i, t := range order {
		if t == from {
			order[i] = to
		}
	}
	l.triggers = trigger.NewSet(order...)
	delete(l.snippets, from)
	s.Trigger = to
	l.snippets[to] = s
	return nil
}

// Delete removes the snippet for t.
func (l *Library) Delete(t string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.snippets[t]; !ok {
		return false
	}
	delete(l.snippets, t)
	l.triggers.Remove(t)
	return true
}

// All returns every snippet in trigger order.
func (l *Library) All() []Snippet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snippet, 0, len(l.snippets))
	for _, t := range l.triggers.Triggers() {
		out = append(out, l.snippets[t])
	}
	return out
}

// Len returns the number of snippets.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.snippets)
}

// ByCategory returns the snippets filed under category, in trigger order.
func (l *Library) ByCategory(category string) []Snippet {
	var out []Snippet
	for _, s := range l.All() {
		if s.Category == category {
			out = append(out, s)
		}
	}
	return out
}

// Search returns snippets whose trigger or either variant contains term,
// case-insensitively. An empty term matches everything.
func (l *Library) Search(term string) []Snippet {
	term = strings.ToLower(term)
	var out []Snippet
	for _, s := range l.All() {
		if term == "" ||
			strings.Contains(strings.ToLower(s.Trigger), term) ||
			strings.Contains(strings.ToLower(s.Variants.Internal), term) ||
			strings.Contains(strings.ToLower(s.Variants.External), term) {
			out = append(out, s)
		}
	}
	return out
}

// Categories returns the category names in creation order.
func (l *Library) Categories() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.categories))
	copy(out, l.categories)
	return out
}

// AddCategory creates a category. It reports false if it already exists.
func (l *Library) AddCategory(name string) bool {
	if name == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addCategoryLocked(name)
}

func (l *Library) addCategoryLocked(name string) bool {
	for _, c := range l.categories {
		if c == name {
			return false
		}
	}
	l.categories = append(l.categories, name)
	return true
}

// DeleteCategory removes a category and every snippet filed under it.
// It returns the removed triggers.
func (l *Library) DeleteCategory(name string) ([]string, error) {
	if name == DefaultCategory {
		return nil, fmt.Errorf("the %s category cannot be removed", DefaultCategory)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i, c := range l.categories {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("category %q not found", name)
	}
	l.categories = append(l.categories[:idx], l.categories[idx+1:]...)

	var removed []string
	for _, t := range l.triggers.Triggers() {
		if l.snippets[t].Category == name {
			delete(l.snippets, t)
			l.triggers.Remove(t)
			removed = append(removed, t)
		}
	}
	return removed, nil
}

// setCategories replaces the category list, keeping Default first and every
// category a snippet refers to.
func (l *Library) setCategories(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.categories = []string{DefaultCategory}
	for _, n := range names {
		if n != "" {
			l.addCategoryLocked(n)
		}
	}
	used := make([]string, 0)
	for _, s := range l.snippets {
		used = append(used, s.Category)
	}
	sort.Strings(used)
	for _, n := range used {
		l.addCategoryLocked(n)
	}
}

package field

import (
	"context"
	"sync"
)

// Flat is an in-memory plain input or textarea.
type Flat struct {
	mu     sync.Mutex
	ref    Ref
	value  string
	caret  int
	events []string
	gone   bool
}

// NewFlat returns a flat field holding value with the caret at its end.
func NewFlat(ref Ref, value string) *Flat {
	return &Flat{ref: ref, value: value, caret: len(value)}
}

func (f *Flat) Kind() Kind { return KindFlat }

func (f *Flat) Value(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return "", &FieldGoneError{Ref: f.ref}
	}
	return f.value, nil
}

func (f *Flat) SetValue(ctx context.Context, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return &FieldGoneError{Ref: f.ref}
	}
	f.value = v
	if f.caret > len(v) {
		f.caret = len(v)
	}
	return nil
}

func (f *Flat) Caret(ctx context.Context) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return 0, false, &FieldGoneError{Ref: f.ref}
	}
	return f.caret, true, nil
}

func (f *Flat) SetCaret(ctx context.Context, offset int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return &FieldGoneError{Ref: f.ref}
	}
	f.caret = clamp(offset, len(f.value))
	return nil
}

func (f *Flat) NotifyChanged(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return &FieldGoneError{Ref: f.ref}
	}
	f.events = append(f.events, FlatChangeEvents...)
	return nil
}

// Type simulates the user typing s at the caret.
func (f *Flat) Type(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = f.value[:f.caret] + s + f.value[f.caret:]
	f.caret += len(s)
}

// Detach simulates the element leaving the document.
func (f *Flat) Detach() {
	f.mu.Lock()
	f.gone = true
	f.mu.Unlock()
}

// Events returns the notifications dispatched so far.
func (f *Flat) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func clamp(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

package field

import (
	"context"
	"fmt"
)

// EditorAPI is the surface of a third-party editor embedded in the page
// (TinyMCE and similar). Offsets are byte offsets into Text.
type EditorAPI interface {
	Text(ctx context.Context) (string, error)
	SetText(ctx context.Context, text string) error
	Caret(ctx context.Context) (int, bool, error)
	SetCaret(ctx context.Context, offset int) error
	// ReplaceRange swaps [start,end) for an HTML fragment.
	ReplaceRange(ctx context.Context, start, end int, markup string) error
	Fire(ctx context.Context, event string) error
}

// Embedded adapts an EditorAPI to the Field contract.
type Embedded struct {
	api EditorAPI
}

// NewEmbedded wraps api.
func NewEmbedded(api EditorAPI) *Embedded {
	return &Embedded{api: api}
}

func (e *Embedded) Kind() Kind { return KindEmbedded }

func (e *Embedded) Value(ctx context.Context) (string, error) { return e.api.Text(ctx) }

func (e *Embedded) SetValue(ctx context.Context, v string) error { return e.api.SetText(ctx, v) }

func (e *Embedded) Caret(ctx context.Context) (int, bool, error) { return e.api.Caret(ctx) }

func (e *Embedded) SetCaret(ctx context.Context, n int) error { return e.api.SetCaret(ctx, n) }

func (e *Embedded) NotifyChanged(ctx context.Context) error {
	for _, ev := range RichChangeEvents {
		if err := e.api.Fire(ctx, ev); err != nil {
			return fmt.Errorf("fire %s: %w", ev, err)
		}
	}
	return nil
}

func (e *Embedded) InsertStructured(ctx context.Context, start, end int, text string) error {
	if err := e.api.ReplaceRange(ctx, start, end, Markup(text)); err != nil {
		return err
	}
	return e.api.SetCaret(ctx, start+len(text))
}

// MemoryEditor is an EditorAPI over an in-memory Rich document.
type MemoryEditor struct {
	doc *Rich
}

// NewMemoryEditor returns an editor backed by doc.
func NewMemoryEditor(doc *Rich) *MemoryEditor {
	return &MemoryEditor{doc: doc}
}

func (m *MemoryEditor) Text(ctx context.Context) (string, error) { return m.doc.Value(ctx) }

func (m *MemoryEditor) SetText(ctx context.Context, text string) error {
	return m.doc.SetValue(ctx, text)
}

func (m *MemoryEditor) Caret(ctx context.Context) (int, bool, error) { return m.doc.Caret(ctx) }

func (m *MemoryEditor) SetCaret(ctx context.Context, n int) error { return m.doc.SetCaret(ctx, n) }

func (m *MemoryEditor) ReplaceRange(ctx context.Context, start, end int, markup string) error {
	nodes, err := parseFragment(markup)
	if err != nil {
		return err
	}
	return m.doc.replace(start, end, nodes, fragmentWidth(nodes))
}

func (m *MemoryEditor) Fire(ctx context.Context, event string) error {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	m.doc.events = append(m.doc.events, event)
	return nil
}

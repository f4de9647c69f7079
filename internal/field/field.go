// Package field is the text adapter layer: one read/write/caret contract over
// plain inputs, structured rich-text editors and embedded third-party editors.
package field

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the adapter variant chosen once per field.
type Kind string

const (
	KindFlat     Kind = "flat"
	KindRich     Kind = "rich"
	KindEmbedded Kind = "embedded"
)

// Ref identifies a field across contexts: the tab and frame hosting it and
// the element marker assigned when it was first seen.
type Ref struct {
	Tab     string `json:"tab"`
	Frame   string `json:"frame"`
	Element string `json:"element"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s#%s", r.Tab, r.Frame, r.Element)
}

// Context returns the tab+frame key that owns the field.
func (r Ref) Context() string {
	return r.Tab + "/" + r.Frame
}

// Field is the capability every adapter exposes. Offsets are byte offsets
// into the UTF-8 value.
type Field interface {
	Kind() Kind
	Value(ctx context.Context) (string, error)
	SetValue(ctx context.Context, v string) error
	// Caret returns the caret offset. known is false when the editor cannot
	// report one.
	Caret(ctx context.Context) (offset int, known bool, err error)
	SetCaret(ctx context.Context, offset int) error
	// NotifyChanged re-emits the change notifications the host page expects
	// after a programmatic edit.
	NotifyChanged(ctx context.Context) error
}

// Structured fields insert text as structural content instead of a plain
// splice, and collapse the selection after it.
type Structured interface {
	Field
	InsertStructured(ctx context.Context, start, end int, text string) error
}

// Change notifications dispatched after a commit.
var (
	FlatChangeEvents = []string{"input", "change", "blur", "sn.form.value.change", "sn.field.change"}
	RichChangeEvents = []string{"input", "change"}
)

// ChangeEvents returns the notifications for a field kind.
func ChangeEvents(k Kind) []string {
	if k == KindFlat {
		return FlatChangeEvents
	}
	return RichChangeEvents
}

// ErrTriggerMissing is returned by Commit when the trigger no longer sits
// immediately before the caret.
var ErrTriggerMissing = errors.New("trigger no longer before caret")

// FieldGoneError reports that the target field no longer exists.
type FieldGoneError struct {
	Ref Ref
	Err error
}

func (e *FieldGoneError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("field %s is gone: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("field %s is gone", e.Ref)
}

func (e *FieldGoneError) Unwrap() error { return e.Err }

// IsGone reports whether err is a FieldGoneError.
func IsGone(err error) bool {
	var gone *FieldGoneError
	return errors.As(err, &gone)
}

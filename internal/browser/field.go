package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/go-rod/rod"

	"snipex/internal/field"
)

// callJS invokes a bridge helper on the element marked id.
const callJS = `(method, id, ...args) => window.__snipex ? window.__snipex[method](id, ...args) : null`

// kindProbeTimeout bounds the probe behind Kind, which has no caller context.
const kindProbeTimeout = 2 * time.Second

// Field adapts a marked element of a live page to field.Field. The kind is
// probed on first use and cached once known. Offsets cross the boundary as
// UTF-16 units and are converted to byte offsets here.
type Field struct {
	page *rod.Page
	ref  field.Ref

	mu   sync.Mutex
	kind field.Kind
}

var _ field.Structured = (*Field)(nil)

// NewField returns the adapter for the element carrying ref.Element as its
// marker.
func NewField(page *rod.Page, ref field.Ref) *Field {
	return &Field{page: page, ref: ref}
}

// call runs a bridge helper and decodes its result into out. A null result
// means the element is gone.
func (f *Field) call(ctx context.Context, out any, method string, args ...any) error {
	params := append([]any{method, f.ref.Element}, args...)
	res, err := f.page.Context(ctx).Eval(callJS, params...)
	if err != nil {
		return &field.FieldGoneError{Ref: f.ref, Err: err}
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if string(raw) == "null" {
		return &field.FieldGoneError{Ref: f.ref}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	return nil
}

// kindOf returns the cached kind or probes it under ctx. A failed probe is
// not cached, so a cancelled caller does not fix the kind for later ones.
func (f *Field) kindOf(ctx context.Context) (field.Kind, error) {
	f.mu.Lock()
	k := f.kind
	f.mu.Unlock()
	if k != "" {
		return k, nil
	}

	var raw string
	if err := f.call(ctx, &raw, "kind"); err != nil {
		return "", err
	}
	switch k = field.Kind(raw); k {
	case field.KindFlat, field.KindRich, field.KindEmbedded:
	default:
		return "", fmt.Errorf("unknown field kind %q", raw)
	}
	f.mu.Lock()
	f.kind = k
	f.mu.Unlock()
	return k, nil
}

// Kind returns the probed kind, or flat if probing failed.
func (f *Field) Kind() field.Kind {
	ctx, cancel := context.WithTimeout(context.Background(), kindProbeTimeout)
	defer cancel()
	k, err := f.kindOf(ctx)
	if err != nil {
		return field.KindFlat
	}
	return k
}

func (f *Field) Value(ctx context.Context) (string, error) {
	if _, err := f.kindOf(ctx); err != nil {
		return "", err
	}
	var v string
	err := f.call(ctx, &v, "value")
	return v, err
}

func (f *Field) SetValue(ctx context.Context, v string) error {
	return f.call(ctx, nil, "setValue", v)
}

func (f *Field) Caret(ctx context.Context) (int, bool, error) {
	value, err := f.Value(ctx)
	if err != nil {
		return 0, false, err
	}
	var units int
	if err := f.call(ctx, &units, "caret"); err != nil {
		return 0, false, err
	}
	if units < 0 {
		return 0, false, nil
	}
	return unitsToBytes(value, units), true, nil
}

func (f *Field) SetCaret(ctx context.Context, offset int) error {
	value, err := f.Value(ctx)
	if err != nil {
		return err
	}
	return f.call(ctx, nil, "setCaret", bytesToUnits(value, offset))
}

func (f *Field) NotifyChanged(ctx context.Context) error {
	kind, err := f.kindOf(ctx)
	if err != nil {
		return err
	}
	return f.call(ctx, nil, "notify", field.ChangeEvents(kind))
}

// InsertStructured replaces [start, end) with text. Rich and embedded fields
// receive markup with line breaks; flat fields are spliced.
func (f *Field) InsertStructured(ctx context.Context, start, end int, text string) error {
	kind, err := f.kindOf(ctx)
	if err != nil {
		return err
	}
	value, err := f.Value(ctx)
	if err != nil {
		return err
	}
	if start < 0 || end > len(value) || start > end {
		return fmt.Errorf("range [%d,%d) outside value of %d bytes", start, end, len(value))
	}
	if kind == field.KindFlat {
		if err := f.SetValue(ctx, value[:start]+text+value[end:]); err != nil {
			return err
		}
		return f.call(ctx, nil, "setCaret", bytesToUnits(value[:start]+text, start+len(text)))
	}
	return f.call(ctx, nil, "replace", bytesToUnits(value, start), bytesToUnits(value, end), field.Markup(text))
}

// unitsToBytes converts a UTF-16 offset into s to a byte offset.
func unitsToBytes(s string, units int) int {
	n := 0
	for i, r := range s {
		if n >= units {
			return i
		}
		n += len(utf16.Encode([]rune{r}))
	}
	return len(s)
}

// bytesToUnits converts a byte offset into s to a UTF-16 offset.
func bytesToUnits(s string, offset int) int {
	if offset > len(s) {
		offset = len(s)
	}
	n := 0
	for i := 0; i < offset; {
		r, size := utf8.DecodeRuneInString(s[i:])
		n += len(utf16.Encode([]rune{r}))
		i += size
	}
	return n
}

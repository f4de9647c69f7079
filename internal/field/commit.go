package field

import (
	"context"
	"fmt"
	"strings"

	"snipex/internal/logging"
)

// Commit replaces the trigger that ends at the caret with finalText.
//
// Text before the trigger and after the caret is preserved. Flat fields are
// spliced and the caret lands after the inserted text; structured fields
// insert structural content. The field's change notifications are re-emitted
// afterwards. finalText is inserted as-is: no placeholder detection runs here.
func Commit(ctx context.Context, f Field, trig, finalText string) error {
	timer := logging.StartTimer(logging.CategoryCommit, "commit")
	defer timer.Stop()

	value, err := f.Value(ctx)
	if err != nil {
		return err
	}
	caret, known, err := f.Caret(ctx)
	if err != nil {
		return err
	}
	end := caret
	if !known || caret < 0 || caret > len(value) {
		end = len(value)
	}
	if trig == "" || !strings.HasSuffix(value[:end], trig) {
		logging.CommitWarn("trigger %q not before caret %d", trig, end)
		return ErrTriggerMissing
	}
	start := end - len(trig)

	if s, ok := f.(Structured); ok {
		if err := s.InsertStructured(ctx, start, end, finalText); err != nil {
			return fmt.Errorf("insert structured: %w", err)
		}
	} else {
		if err := f.SetValue(ctx, value[:start]+finalText+value[end:]); err != nil {
			return fmt.Errorf("set value: %w", err)
		}
		if err := f.SetCaret(ctx, start+len(finalText)); err != nil {
			return fmt.Errorf("set caret: %w", err)
		}
	}

	if err := f.NotifyChanged(ctx); err != nil {
		return fmt.Errorf("notify changed: %w", err)
	}
	logging.CommitDebug("committed %d bytes over %q (%s)", len(finalText), trig, f.Kind())
	return nil
}

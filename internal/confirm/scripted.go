package confirm

import (
	"context"

	"snipex/internal/resolve"
	"snipex/internal/snippet"
)

// AudienceFunc adapts a function to AudienceUI.
type AudienceFunc func(ctx context.Context, choice AudienceChoice) (snippet.Audience, bool, error)

func (f AudienceFunc) ChooseAudience(ctx context.Context, choice AudienceChoice) (snippet.Audience, bool, error) {
	return f(ctx, choice)
}

// VariablesFunc adapts a function to VariablesUI.
type VariablesFunc func(ctx context.Context, text string, placeholders []resolve.Placeholder) (map[string]string, bool, error)

func (f VariablesFunc) FillVariables(ctx context.Context, text string, placeholders []resolve.Placeholder) (map[string]string, bool, error) {
	return f(ctx, text, placeholders)
}

// AcceptPreselected confirms whatever the picker preselects.
func AcceptPreselected() AudienceUI {
	return AudienceFunc(func(ctx context.Context, c AudienceChoice) (snippet.Audience, bool, error) {
		return c.Preselected, true, nil
	})
}

// Choose always picks a.
func Choose(a snippet.Audience) AudienceUI {
	return AudienceFunc(func(ctx context.Context, c AudienceChoice) (snippet.Audience, bool, error) {
		return a, true, nil
	})
}

// CancelAudience presses cancel.
func CancelAudience() AudienceUI {
	return AudienceFunc(func(ctx context.Context, c AudienceChoice) (snippet.Audience, bool, error) {
		return "", false, nil
	})
}

// WaitAudience never decides; it returns when the window is closed.
// shown, if non-nil, receives the choice once rendered.
func WaitAudience(shown chan<- AudienceChoice) AudienceUI {
	return AudienceFunc(func(ctx context.Context, c AudienceChoice) (snippet.Audience, bool, error) {
		if shown != nil {
			shown <- c
		}
		<-ctx.Done()
		return "", false, ctx.Err()
	})
}

// FillWith submits values. Placeholders without an entry are left empty.
func FillWith(values map[string]string) VariablesUI {
	return VariablesFunc(func(ctx context.Context, text string, ph []resolve.Placeholder) (map[string]string, bool, error) {
		out := make(map[string]string, len(ph))
		for _, p := range ph {
			out[p.Name] = values[p.Name]
		}
		return out, true, nil
	})
}

// CancelVariables presses cancel.
func CancelVariables() VariablesUI {
	return VariablesFunc(func(ctx context.Context, text string, ph []resolve.Placeholder) (map[string]string, bool, error) {
		return nil, false, nil
	})
}

// WaitVariables never submits; it returns when the window is closed.
// shown, if non-nil, receives the placeholders once rendered.
func WaitVariables(shown chan<- []resolve.Placeholder) VariablesUI {
	return VariablesFunc(func(ctx context.Context, text string, ph []resolve.Placeholder) (map[string]string, bool, error) {
		if shown != nil {
			shown <- ph
		}
		<-ctx.Done()
		return nil, false, ctx.Err()
	})
}

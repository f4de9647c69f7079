// Package confirm implements the two confirmation windows: the audience
// picker and the variable filler. A controller owns the protocol side of a
// window; a UI driver owns the user interaction.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"snipex/internal/logging"
	"snipex/internal/protocol"
	"snipex/internal/resolve"
	"snipex/internal/session"
	"snipex/internal/snippet"
)

// AudienceChoice is what the picker presents.
type AudienceChoice struct {
	Variants snippet.Variants
	// Options lists the audiences with non-empty text, internal first.
	Options     []snippet.Audience
	Preselected snippet.Audience
}

// AudienceUI asks the user to pick an audience. ok is false on cancel.
// Implementations must return when ctx is done.
type AudienceUI interface {
	ChooseAudience(ctx context.Context, choice AudienceChoice) (a snippet.Audience, ok bool, err error)
}

// VariablesUI collects a value per placeholder. ok is false on cancel.
// Implementations must return when ctx is done.
type VariablesUI interface {
	FillVariables(ctx context.Context, text string, placeholders []resolve.Placeholder) (values map[string]string, ok bool, err error)
}

// NewAudienceChoice computes the options and the preselection: the default
// audience, or the only available one when the default is empty.
func NewAudienceChoice(data protocol.AudienceData) AudienceChoice {
	c := AudienceChoice{Variants: data.Variants, Preselected: data.DefaultAudience}
	for _, a := range []snippet.Audience{snippet.Internal, snippet.External} {
		if data.Variants.Get(a) != "" {
			c.Options = append(c.Options, a)
		}
	}
	if !c.Preselected.Valid() {
		c.Preselected = snippet.Internal
	}
	if len(c.Options) == 1 || (len(c.Options) > 0 && data.Variants.Get(c.Preselected) == "") {
		c.Preselected = c.Options[0]
	}
	return c
}

// settler posts a window's terminal message at most once, whichever of the
// confirm, cancel or unload paths gets there first.
type settler struct {
	once sync.Once
	post func(protocol.Message) bool
}

func (s *settler) settle(msg protocol.Message) bool {
	sent := false
	s.once.Do(func() {
		sent = true
		s.post(msg)
	})
	return sent
}

// AudiencePicker drives one audience window.
type AudiencePicker struct {
	coord     session.Coordinator
	sessionID session.ID
	ui        AudienceUI
	settler   settler
}

// NewAudiencePicker returns a picker for sessionID.
func NewAudiencePicker(coord session.Coordinator, sessionID session.ID, ui AudienceUI) *AudiencePicker {
	return &AudiencePicker{
		coord:     coord,
		sessionID: sessionID,
		ui:        ui,
		settler:   settler{post: coord.Post},
	}
}

// Run pulls the render data, shows the UI and reports the outcome. When ctx
// is cancelled (the window unloads) before a decision, a single cancellation
// is sent.
func (p *AudiencePicker) Run(ctx context.Context) error {
	defer p.Unload()

	resp, err := p.coord.Request(ctx, protocol.Message{
		Action:    protocol.GetAudienceData,
		SessionID: string(p.sessionID),
	})
	if err != nil {
		return err
	}
	if !resp.Success || resp.Data == nil {
		return fmt.Errorf("audience data unavailable: %s", resp.Error)
	}

	choice := NewAudienceChoice(*resp.Data)
	a, ok, err := p.ui.ChooseAudience(ctx, choice)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.WindowWarn("audience window %s: %v", p.sessionID, err)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err != nil || !ok {
		p.Cancel()
		return nil
	}
	p.Confirm(a)
	return nil
}

// Confirm reports the chosen audience.
func (p *AudiencePicker) Confirm(a snippet.Audience) bool {
	return p.settler.settle(protocol.Message{
		Action:    protocol.AudienceSelection,
		SessionID: string(p.sessionID),
		Variant:   a,
	})
}

// Cancel reports an explicit cancellation.
func (p *AudiencePicker) Cancel() bool {
	return p.settler.settle(protocol.Message{
		Action:    protocol.AudienceCancelled,
		SessionID: string(p.sessionID),
		Origin:    protocol.OriginExplicit,
	})
}

// Unload is the window-unloading path. It is a no-op after Confirm or Cancel.
func (p *AudiencePicker) Unload() bool {
	return p.settler.settle(protocol.Message{
		Action:    protocol.AudienceCancelled,
		SessionID: string(p.sessionID),
		Origin:    protocol.OriginWindowClosed,
	})
}

// VariableFiller drives one variables window.
type VariableFiller struct {
	coord     session.Coordinator
	sessionID session.ID
	ui        VariablesUI
	settler   settler
}

// NewVariableFiller returns a filler for sessionID.
func NewVariableFiller(coord session.Coordinator, sessionID session.ID, ui VariablesUI) *VariableFiller {
	return &VariableFiller{
		coord:     coord,
		sessionID: sessionID,
		ui:        ui,
		settler:   settler{post: coord.Post},
	}
}

// Run pulls the template, collects values and reports the substituted text.
func (f *VariableFiller) Run(ctx context.Context) error {
	defer f.Unload()

	resp, err := f.coord.Request(ctx, protocol.Message{
		Action:    protocol.GetVariablesData,
		SessionID: string(f.sessionID),
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("variables data unavailable: %s", resp.Error)
	}

	text := resp.Text
	values, ok, err := f.ui.FillVariables(ctx, text, resolve.Placeholders(text))
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.WindowWarn("variables window %s: %v", f.sessionID, err)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err != nil || !ok {
		f.Cancel()
		return nil
	}
	f.Submit(resolve.Fill(text, values))
	return nil
}

// Submit reports the final text.
func (f *VariableFiller) Submit(text string) bool {
	return f.settler.settle(protocol.Message{
		Action:    protocol.FillVariablesFromPopup,
		SessionID: string(f.sessionID),
		Text:      text,
	})
}

// Cancel reports an explicit cancellation.
func (f *VariableFiller) Cancel() bool {
	return f.settler.settle(protocol.Message{
		Action:    protocol.VariablesCancelled,
		SessionID: string(f.sessionID),
		Origin:    protocol.OriginExplicit,
	})
}

// Unload is the window-unloading path.
func (f *VariableFiller) Unload() bool {
	return f.settler.settle(protocol.Message{
		Action:    protocol.VariablesCancelled,
		SessionID: string(f.sessionID),
		Origin:    protocol.OriginWindowClosed,
	})
}

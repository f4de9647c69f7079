// Package protocol defines the messages exchanged between field contexts,
// the coordinator and confirmation windows, and the mailbox they travel in.
package protocol

import (
	"context"

	"snipex/internal/field"
	"snipex/internal/snippet"
)

// Action names a message.
type Action string

const (
	// Field context -> coordinator.
	OpenAudiencePopup  Action = "openAudiencePopup"
	OpenVariablesPopup Action = "openVariablesPopup"

	// Audience window -> coordinator.
	GetAudienceData   Action = "getAudienceData"
	AudienceSelection Action = "audienceSelection"
	AudienceCancelled Action = "audienceCancelled"

	// Variable window -> coordinator.
	GetVariablesData       Action = "getVariablesData"
	FillVariablesFromPopup Action = "fillVariablesFromPopup"
	VariablesCancelled     Action = "variablesCancelled"

	// Coordinator -> field context. AudienceCancelled and
	// VariablesCancelled are forwarded under the same names.
	AudienceSelected Action = "audienceSelected"
	FillVariables    Action = "fillVariables"

	// Windowing subsystem -> coordinator.
	WindowClosed Action = "windowClosed"
)

// WindowID is the windowing subsystem's handle for a confirmation window.
type WindowID string

// Cancellation origins carried in Message.Origin.
const (
	OriginExplicit     = "explicit"
	OriginWindowClosed = "window_closed"
	OriginOpenFailed   = "open_failed"
)

// Message is one protocol message. Only the fields relevant to Action are set.
type Message struct {
	Action          Action            `json:"action"`
	ElementID       string            `json:"elementId,omitempty"`
	SessionID       string            `json:"sessionId,omitempty"`
	Trigger         string            `json:"trigger,omitempty"`
	Variants        *snippet.Variants `json:"variants,omitempty"`
	DefaultAudience snippet.Audience  `json:"defaultAudience,omitempty"`
	RequireChoice   bool              `json:"requireChoice,omitempty"`
	Variant         snippet.Audience  `json:"variant,omitempty"`
	Text            string            `json:"text,omitempty"`
	Field           field.Ref         `json:"field"`
	Window          WindowID          `json:"window,omitempty"`
	Origin          string            `json:"origin,omitempty"`
}

// AudienceData is what a picker window pulls after opening.
type AudienceData struct {
	ElementID       string           `json:"elementId"`
	SessionID       string           `json:"sessionId"`
	Variants        snippet.Variants `json:"variants"`
	DefaultAudience snippet.Audience `json:"defaultAudience"`
}

// Response answers a request.
type Response struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Data    *AudienceData `json:"data,omitempty"`
	Text    string        `json:"text,omitempty"`
	Count   int           `json:"count,omitempty"`
}

// OK is the plain success response.
var OK = Response{Success: true}

// Fail builds an error response.
func Fail(err error) Response {
	return Response{Error: err.Error()}
}

// Router delivers coordinator output to the field context owning ref.
type Router interface {
	Deliver(ctx context.Context, ref field.Ref, msg Message) error
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, ref field.Ref, msg Message) error

func (f RouterFunc) Deliver(ctx context.Context, ref field.Ref, msg Message) error {
	return f(ctx, ref, msg)
}

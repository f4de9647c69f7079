package session

import (
	"context"

	"snipex/internal/protocol"
)

// WindowKind selects the confirmation window to open.
type WindowKind string

const (
	WindowAudience  WindowKind = "audience"
	WindowVariables WindowKind = "variables"
)

// Size is a window size in pixels.
type Size struct {
	Width  int
	Height int
}

// Default window sizes.
var (
	DefaultAudienceSize  = Size{Width: 640, Height: 520}
	DefaultVariablesSize = Size{Width: 560, Height: 420}
)

// OpenRequest describes a window to open. The window learns its session only
// through SessionID, which it must echo on every message.
type OpenRequest struct {
	Kind      WindowKind
	SessionID ID
	ElementID string
	Size      Size
}

// WindowHost is the windowing capability the coordinator drives.
type WindowHost interface {
	Open(ctx context.Context, req OpenRequest) (protocol.WindowID, error)
	Close(ctx context.Context, w protocol.WindowID) error
	// OnClosed subscribes to window-closed events, whatever closed the window.
	OnClosed(fn func(protocol.WindowID)) (unsubscribe func())
}

// Coordinator is the inbound surface windows and field contexts talk to.
type Coordinator interface {
	Post(msg protocol.Message) bool
	Request(ctx context.Context, msg protocol.Message) (protocol.Response, error)
}

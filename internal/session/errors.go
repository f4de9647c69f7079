package session

import (
	"fmt"

	"snipex/internal/protocol"
)

// WindowOpenError reports that a confirmation window could not be opened.
type WindowOpenError struct {
	Kind      WindowKind
	SessionID ID
	Err       error
}

func (e *WindowOpenError) Error() string {
	return fmt.Sprintf("open %s window for session %s: %v", e.Kind, e.SessionID, e.Err)
}

func (e *WindowOpenError) Unwrap() error { return e.Err }

// StaleReplyError reports a message for a session the coordinator no longer
// tracks, or one that arrived in the wrong stage.
type StaleReplyError struct {
	SessionID ID
	Action    protocol.Action
}

func (e *StaleReplyError) Error() string {
	return fmt.Sprintf("stale %s for session %s", e.Action, e.SessionID)
}

// Package session implements the expansion session coordinator: the single
// owner of in-flight sessions and of the protocol with confirmation windows.
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"snipex/internal/field"
	"snipex/internal/protocol"
	"snipex/internal/snippet"
)

// ID is an opaque session token assigned by the coordinator.
type ID string

// Stage is the confirmation a session is waiting for.
type Stage string

const (
	StageAudience Stage = "audience"
	StageVariable Stage = "variable"
	StageNone     Stage = "none"
)

func (s Stage) String() string { return string(s) }

// Session is one in-flight expansion.
type Session struct {
	ID              ID
	Field           field.Ref
	Trigger         string
	Stage           Stage
	Variants        snippet.Variants
	DefaultAudience snippet.Audience
	// Text is the resolved template waiting for variables.
	Text   string
	Window protocol.WindowID
}

// ErrFieldBusy rejects a second session for a field that already has one.
var ErrFieldBusy = errors.New("field already has a session in flight")

// ErrUnknownSession is returned for ids the table does not hold.
var ErrUnknownSession = errors.New("unknown session")

// Table is the session arena. Callers hold IDs, never pointers into it.
// It is owned by one goroutine and does no locking.
type Table struct {
	sessions map[ID]*Session
	byField  map[field.Ref]ID
	byWindow map[protocol.WindowID]ID
	newID    func() ID
}

// NewTable returns an empty table issuing random UUID ids.
func NewTable() *Table {
	return &Table{
		sessions: make(map[ID]*Session),
		byField:  make(map[field.Ref]ID),
		byWindow: make(map[protocol.WindowID]ID),
		newID:    func() ID { return ID(uuid.NewString()) },
	}
}

// Create inserts a session for s.Field in stage s.Stage and returns its copy
// with the assigned ID.
func (t *Table) Create(s Session) (Session, error) {
	if _, busy := t.byField[s.Field]; busy {
		return Session{}, ErrFieldBusy
	}
	if s.Stage != StageAudience && s.Stage != StageVariable {
		return Session{}, fmt.Errorf("cannot create session in stage %q", s.Stage)
	}
	s.ID = t.newID()
	s.Window = ""
	stored := s
	t.sessions[s.ID] = &stored
	t.byField[s.Field] = s.ID
	return s, nil
}

// Get returns a copy of the session.
func (t *Table) Get(id ID) (Session, bool) {
	s, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ByField returns the live session for ref.
func (t *Table) ByField(ref field.Ref) (Session, bool) {
	id, ok := t.byField[ref]
	if !ok {
		return Session{}, false
	}
	return t.Get(id)
}

// ByWindow returns the session currently holding window w.
func (t *Table) ByWindow(w protocol.WindowID) (Session, bool) {
	id, ok := t.byWindow[w]
	if !ok {
		return Session{}, false
	}
	return t.Get(id)
}

// Transition moves a session from the audience stage to the variable stage
// with the text chosen there.
func (t *Table) Transition(id ID, to Stage, text string) error {
	s, ok := t.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if s.Stage != StageAudience || to != StageVariable {
		return fmt.Errorf("invalid transition %s -> %s", s.Stage, to)
	}
	s.Stage = to
	s.Text = text
	return nil
}

// AttachWindow records the single live window of a session, replacing any
// previous one.
func (t *Table) AttachWindow(id ID, w protocol.WindowID) error {
	s, ok := t.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if s.Window != "" {
		delete(t.byWindow, s.Window)
	}
	s.Window = w
	if w != "" {
		t.byWindow[w] = id
	}
	return nil
}

// DetachWindow forgets the session's window and returns it.
func (t *Table) DetachWindow(id ID) protocol.WindowID {
	s, ok := t.sessions[id]
	if !ok || s.Window == "" {
		return ""
	}
	w := s.Window
	delete(t.byWindow, w)
	s.Window = ""
	return w
}

// Destroy removes the session and returns its final state.
func (t *Table) Destroy(id ID) (Session, bool) {
	s, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(t.sessions, id)
	delete(t.byField, s.Field)
	if s.Window != "" {
		delete(t.byWindow, s.Window)
	}
	final := *s
	final.Stage = StageNone
	return final, true
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	return len(t.sessions)
}

// IDs returns the live session ids in no particular order.
func (t *Table) IDs() []ID {
	out := make([]ID, 0, len(t.sessions))
	for id := range t.sessions {
		out = append(out, id)
	}
	return out
}

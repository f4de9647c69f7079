package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snipex/internal/field"
	"snipex/internal/protocol"
	"snipex/internal/snippet"
)

func sequentialIDs() func() ID {
	n := 0
	return func() ID {
		n++
		return ID(fmt.Sprintf("s%d", n))
	}
}

func newTestTable() *Table {
	t := NewTable()
	t.newID = sequentialIDs()
	return t
}

func TestTable_CreateIsOnePerField(t *testing.T) {
	tbl := newTestTable()
	a := field.Ref{Tab: "1", Frame: "0", Element: "a"}
	b := field.Ref{Tab: "1", Frame: "0", Element: "b"}

	s, err := tbl.Create(Session{Field: a, Stage: StageAudience, Variants: snippet.Variants{Internal: "x"}})
	require.NoError(t, err)
	assert.Equal(t, ID("s1"), s.ID)

	_, err = tbl.Create(Session{Field: a, Stage: StageVariable})
	assert.ErrorIs(t, err, ErrFieldBusy)

	_, err = tbl.Create(Session{Field: b, Stage: StageVariable, Text: "{{x}}"})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	got, ok := tbl.ByField(a)
	require.True(t, ok)
	assert.Equal(t, s, got)

	_, err = tbl.Create(Session{Field: field.Ref{Element: "c"}, Stage: StageNone})
	assert.Error(t, err)
}

func TestTable_Transition(t *testing.T) {
	tbl := newTestTable()
	s, err := tbl.Create(Session{Field: field.Ref{Element: "a"}, Stage: StageAudience})
	require.NoError(t, err)

	require.NoError(t, tbl.Transition(s.ID, StageVariable, "Hallo {{Name}}"))
	got, _ := tbl.Get(s.ID)
	assert.Equal(t, StageVariable, got.Stage)
	assert.Equal(t, "Hallo {{Name}}", got.Text)

	// variable -> audience is never allowed
	assert.Error(t, tbl.Transition(s.ID, StageAudience, ""))
	assert.ErrorIs(t, tbl.Transition("missing", StageVariable, ""), ErrUnknownSession)
}

func TestTable_Windows(t *testing.T) {
	tbl := newTestTable()
	s, _ := tbl.Create(Session{Field: field.Ref{Element: "a"}, Stage: StageAudience})

	require.NoError(t, tbl.AttachWindow(s.ID, "w1"))
	got, ok := tbl.ByWindow("w1")
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)

	// Attaching a new window replaces the old one.
	require.NoError(t, tbl.AttachWindow(s.ID, "w2"))
	_, ok = tbl.ByWindow("w1")
	assert.False(t, ok)

	assert.Equal(t, protocol.WindowID("w2"), tbl.DetachWindow(s.ID))
	assert.Equal(t, protocol.WindowID(""), tbl.DetachWindow(s.ID))
	_, ok = tbl.ByWindow("w2")
	assert.False(t, ok)

	assert.ErrorIs(t, tbl.AttachWindow("missing", "w3"), ErrUnknownSession)
}

func TestTable_Destroy(t *testing.T) {
	tbl := newTestTable()
	ref := field.Ref{Element: "a"}
	s, _ := tbl.Create(Session{Field: ref, Stage: StageAudience})
	require.NoError(t, tbl.AttachWindow(s.ID, "w1"))

	final, ok := tbl.Destroy(s.ID)
	require.True(t, ok)
	assert.Equal(t, StageNone, final.Stage)
	assert.Equal(t, 0, tbl.Len())
	_, ok = tbl.ByWindow("w1")
	assert.False(t, ok)

	_, ok = tbl.Destroy(s.ID)
	assert.False(t, ok)

	// The field is free again.
	_, err := tbl.Create(Session{Field: ref, Stage: StageVariable})
	assert.NoError(t, err)
	assert.Equal(t, []ID{"s2"}, tbl.IDs())
}

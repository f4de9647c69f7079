package confirm

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"snipex/internal/protocol"
	"snipex/internal/resolve"
	"snipex/internal/session"
	"snipex/internal/snippet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCoordinator answers data requests and records posts.
type fakeCoordinator struct {
	mu    sync.Mutex
	data  protocol.Response
	posts []protocol.Message
}

func (f *fakeCoordinator) Post(msg protocol.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, msg)
	return true
}

func (f *fakeCoordinator) Request(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	return f.data, nil
}

func (f *fakeCoordinator) Posts() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.posts...)
}

func audienceData(internal, external string, def snippet.Audience) protocol.Response {
	return protocol.Response{Success: true, Data: &protocol.AudienceData{
		SessionID:       "s1",
		Variants:        snippet.Variants{Internal: internal, External: external},
		DefaultAudience: def,
	}}
}

func TestNewAudienceChoice(t *testing.T) {
	tests := []struct {
		name string
		data protocol.AudienceData
		want AudienceChoice
	}{
		{
			name: "default preselected",
			data: protocol.AudienceData{Variants: snippet.Variants{Internal: "du", External: "Sie"}, DefaultAudience: snippet.External},
			want: AudienceChoice{Variants: snippet.Variants{Internal: "du", External: "Sie"}, Options: []snippet.Audience{snippet.Internal, snippet.External}, Preselected: snippet.External},
		},
		{
			name: "only available variant preselected",
			data: protocol.AudienceData{Variants: snippet.Variants{External: "Sie"}, DefaultAudience: snippet.Internal},
			want: AudienceChoice{Variants: snippet.Variants{External: "Sie"}, Options: []snippet.Audience{snippet.External}, Preselected: snippet.External},
		},
		{
			name: "invalid default becomes internal",
			data: protocol.AudienceData{Variants: snippet.Variants{Internal: "a", External: "b"}},
			want: AudienceChoice{Variants: snippet.Variants{Internal: "a", External: "b"}, Options: []snippet.Audience{snippet.Internal, snippet.External}, Preselected: snippet.Internal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, NewAudienceChoice(tt.data)); diff != "" {
				t.Errorf("choice mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAudiencePicker_ConfirmSendsOnce(t *testing.T) {
	coord := &fakeCoordinator{data: audienceData("du", "Sie", snippet.Internal)}
	p := NewAudiencePicker(coord, "s1", AcceptPreselected())

	require.NoError(t, p.Run(context.Background()))
	assert.False(t, p.Cancel())
	assert.False(t, p.Unload())

	want := []protocol.Message{{Action: protocol.AudienceSelection, SessionID: "s1", Variant: snippet.Internal}}
	if diff := cmp.Diff(want, coord.Posts()); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}
}

func TestAudiencePicker_CancelAndUnloadCollapse(t *testing.T) {
	coord := &fakeCoordinator{data: audienceData("du", "Sie", snippet.Internal)}
	p := NewAudiencePicker(coord, "s1", CancelAudience())

	require.NoError(t, p.Run(context.Background()))

	posts := coord.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, protocol.AudienceCancelled, posts[0].Action)
	assert.Equal(t, protocol.OriginExplicit, posts[0].Origin)
}

func TestAudiencePicker_UnloadWhileOpen(t *testing.T) {
	coord := &fakeCoordinator{data: audienceData("du", "Sie", snippet.Internal)}
	shown := make(chan AudienceChoice, 1)
	p := NewAudiencePicker(coord, "s1", WaitAudience(shown))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-shown
	cancel()
	require.NoError(t, <-done)

	posts := coord.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, protocol.AudienceCancelled, posts[0].Action)
	assert.Equal(t, protocol.OriginWindowClosed, posts[0].Origin)
}

func TestVariableFiller_SubmitSubstitutes(t *testing.T) {
	coord := &fakeCoordinator{data: protocol.Response{Success: true, Text: "Liebe Grüße {{Name}}, {{Name}}!"}}
	f := NewVariableFiller(coord, "s2", FillWith(map[string]string{"Name": "Anna"}))

	require.NoError(t, f.Run(context.Background()))

	posts := coord.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, protocol.FillVariablesFromPopup, posts[0].Action)
	assert.Equal(t, "Liebe Grüße Anna, Anna!", posts[0].Text)
}

func TestVariableFiller_EmptyInputUsesName(t *testing.T) {
	coord := &fakeCoordinator{data: protocol.Response{Success: true, Text: "Liebe Grüße {{Name}}"}}
	f := NewVariableFiller(coord, "s2", FillWith(nil))

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, "Liebe Grüße Name", coord.Posts()[0].Text)
}

func TestVariableFiller_Cancel(t *testing.T) {
	coord := &fakeCoordinator{data: protocol.Response{Success: true, Text: "{{x}}"}}
	f := NewVariableFiller(coord, "s2", CancelVariables())

	require.NoError(t, f.Run(context.Background()))
	posts := coord.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, protocol.VariablesCancelled, posts[0].Action)
}

func TestLocalHost_CloseEmitsClosedAfterUnload(t *testing.T) {
	coord := &fakeCoordinator{data: audienceData("du", "Sie", snippet.Internal)}
	shown := make(chan AudienceChoice, 1)
	host := NewLocalHost(WaitAudience(shown), CancelVariables())
	host.Bind(coord)

	closed := make(chan protocol.WindowID, 1)
	unsubscribe := host.OnClosed(func(w protocol.WindowID) { closed <- w })
	defer unsubscribe()

	ctx := context.Background()
	w, err := host.Open(ctx, session.OpenRequest{Kind: session.WindowAudience, SessionID: "s1"})
	require.NoError(t, err)
	<-shown
	assert.Contains(t, host.Windows(), w)

	require.NoError(t, host.Close(ctx, w))
	select {
	case got := <-closed:
		assert.Equal(t, w, got)
	case <-time.After(time.Second):
		t.Fatal("no closed event")
	}
	host.Wait()

	posts := coord.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, protocol.OriginWindowClosed, posts[0].Origin)
	assert.Error(t, host.Close(ctx, w))
}

func TestLocalHost_FailOpen(t *testing.T) {
	host := NewLocalHost(AcceptPreselected(), FillWith(nil))
	host.Bind(&fakeCoordinator{})
	host.FailOpen = func(session.OpenRequest) error { return assert.AnError }

	_, err := host.Open(context.Background(), session.OpenRequest{Kind: session.WindowAudience})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, host.Windows())
}

func TestLocalHost_Unbound(t *testing.T) {
	host := NewLocalHost(AcceptPreselected(), FillWith(nil))
	_, err := host.Open(context.Background(), session.OpenRequest{Kind: session.WindowAudience})
	assert.Error(t, err)
}

func TestAudienceModel_Keys(t *testing.T) {
	c := AudienceChoice{
		Variants:    snippet.Variants{Internal: "du", External: "Sie"},
		Options:     []snippet.Audience{snippet.Internal, snippet.External},
		Preselected: snippet.External,
	}
	m := newAudienceModel(c)
	assert.Equal(t, 1, m.cursor)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	next, cmd := next.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	a, ok := next.(audienceModel).selected()
	assert.True(t, ok)
	assert.Equal(t, snippet.Internal, a)
	assert.Contains(t, next.View(), "Intern (du)")

	cancelled, _ := newAudienceModel(c).Update(tea.KeyMsg{Type: tea.KeyEsc})
	_, ok = cancelled.(audienceModel).selected()
	assert.False(t, ok)
}

func TestVariablesModel_Keys(t *testing.T) {
	ph := resolve.Placeholders("{{Name}} am {{Tag}}")
	var m tea.Model = newVariablesModel("{{Name}} am {{Tag}}", ph)

	for _, r := range "Anna" {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	vm := m.(variablesModel)
	assert.True(t, vm.submitted)
	assert.Equal(t, map[string]string{"Name": "Anna", "Tag": ""}, vm.values())
}

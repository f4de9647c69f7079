package page

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"snipex/internal/field"
	"snipex/internal/protocol"
	"snipex/internal/snippet"
	"snipex/internal/trigger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPoster struct {
	mu    sync.Mutex
	posts []protocol.Message
}

func (p *recordingPoster) Post(msg protocol.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, msg)
	return true
}

func (p *recordingPoster) Posts() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Message(nil), p.posts...)
}

func testLibrary(t *testing.T) *snippet.Library {
	t.Helper()
	lib := snippet.NewLibrary()
	for _, s := range []snippet.Snippet{
		{Trigger: "-sig", Variants: snippet.Variants{Internal: "Mit freundlichen Grüßen", External: "Mit freundlichen Grüßen"}},
		{Trigger: "-danke", Variants: snippet.Variants{Internal: "Danke dir!", External: "Danke Ihnen!"}, DefaultAudience: snippet.External},
		{Trigger: "-mfg", Variants: snippet.Variants{Internal: "Liebe Grüße {{Name}}", External: "Liebe Grüße {{Name}}"}},
	} {
		require.NoError(t, lib.Put(s))
	}
	return lib
}

type fixture struct {
	agent  *Agent
	poster *recordingPoster
	reg    *field.Registry
}

func startAgent(t *testing.T, lib *snippet.Library, opts ...Option) *fixture {
	t.Helper()
	reg := field.NewRegistry("tab1", "0")
	poster := &recordingPoster{}
	a := New(reg, poster, lib, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return &fixture{agent: a, poster: poster, reg: reg}
}

func (fx *fixture) typeInto(t *testing.T, f *field.Flat, el, text string) {
	t.Helper()
	f.Type(text)
	fx.agent.Input(el)
	require.NoError(t, fx.agent.Flush(context.Background()))
}

func value(t *testing.T, f field.Field) string {
	t.Helper()
	v, err := f.Value(context.Background())
	require.NoError(t, err)
	return v
}

func TestAgent_TrivialPlanCommitsLocally(t *testing.T) {
	fx := startAgent(t, testLibrary(t))
	f := field.NewFlat(fx.reg.Ref("el"), "Gruß ")
	fx.reg.Register("el", f)

	fx.typeInto(t, f, "el", "-sig")

	assert.Equal(t, "Gruß Mit freundlichen Grüßen", value(t, f))
	assert.Empty(t, fx.poster.Posts())
	assert.False(t, fx.reg.Marked("el"))
	assert.Contains(t, f.Events(), "input")
}

func TestAgent_AudiencePlanPostsAndMarks(t *testing.T) {
	fx := startAgent(t, testLibrary(t))
	f := field.NewFlat(fx.reg.Ref("el"), "")
	fx.reg.Register("el", f)

	fx.typeInto(t, f, "el", "-danke")

	posts := fx.poster.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, protocol.OpenAudiencePopup, posts[0].Action)
	assert.Equal(t, "-danke", posts[0].Trigger)
	assert.Equal(t, snippet.External, posts[0].DefaultAudience)
	require.NotNil(t, posts[0].Variants)
	assert.Equal(t, "Danke Ihnen!", posts[0].Variants.External)
	assert.Equal(t, field.Ref{Tab: "tab1", Frame: "0", Element: "el"}, posts[0].Field)
	assert.True(t, fx.reg.Marked("el"))

	// While the session is open, further matches are ignored.
	fx.typeInto(t, f, "el", " -danke")
	assert.Len(t, fx.poster.Posts(), 1)
	assert.Equal(t, "-danke -danke", value(t, f))
}

func TestAgent_VariablesPlanPostsDefaultText(t *testing.T) {
	fx := startAgent(t, testLibrary(t))
	f := field.NewFlat(fx.reg.Ref("el"), "")
	fx.reg.Register("el", f)

	fx.typeInto(t, f, "el", "-mfg")

	posts := fx.poster.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, protocol.OpenVariablesPopup, posts[0].Action)
	assert.Equal(t, "Liebe Grüße {{Name}}", posts[0].Text)
}

func TestAgent_DeliveriesCommitAndUnmark(t *testing.T) {
	tests := []struct {
		name  string
		msg   protocol.Message
		value string
	}{
		{"audience selected", protocol.Message{Action: protocol.AudienceSelected, Trigger: "-danke", Text: "Danke Ihnen!", Variant: snippet.External}, "Hallo Danke Ihnen!"},
		{"variables filled", protocol.Message{Action: protocol.FillVariables, Trigger: "-danke", Text: "Danke Anna"}, "Hallo Danke Anna"},
		{"audience cancelled", protocol.Message{Action: protocol.AudienceCancelled, Origin: protocol.OriginWindowClosed}, "Hallo -danke"},
		{"variables cancelled", protocol.Message{Action: protocol.VariablesCancelled}, "Hallo -danke"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := startAgent(t, testLibrary(t))
			f := field.NewFlat(fx.reg.Ref("el"), "Hallo ")
			ref := fx.reg.Register("el", f)
			fx.typeInto(t, f, "el", "-danke")
			require.True(t, fx.reg.Marked("el"))

			require.NoError(t, fx.agent.Deliver(context.Background(), ref, tt.msg))
			require.NoError(t, fx.agent.Flush(context.Background()))

			assert.Equal(t, tt.value, value(t, f))
			assert.False(t, fx.reg.Marked("el"))
		})
	}
}

func TestAgent_GoneFieldAndMovedTriggerAreSilent(t *testing.T) {
	fx := startAgent(t, testLibrary(t))
	ctx := context.Background()

	gone := field.NewFlat(fx.reg.Ref("gone"), "")
	goneRef := fx.reg.Register("gone", gone)
	fx.typeInto(t, gone, "gone", "-danke")
	fx.reg.Remove("gone")
	require.NoError(t, fx.agent.Deliver(ctx, goneRef, protocol.Message{Action: protocol.AudienceSelected, Trigger: "-danke", Text: "x"}))

	moved := field.NewFlat(fx.reg.Ref("moved"), "")
	movedRef := fx.reg.Register("moved", moved)
	fx.typeInto(t, moved, "moved", "-danke")
	require.NoError(t, moved.SetValue(ctx, "edited"))
	require.NoError(t, fx.agent.Deliver(ctx, movedRef, protocol.Message{Action: protocol.AudienceSelected, Trigger: "-danke", Text: "x"}))

	require.NoError(t, fx.agent.Flush(ctx))
	assert.Equal(t, "edited", value(t, moved))
	assert.False(t, fx.reg.Marked("moved"))
}

func TestAgent_ReloadedLibraryDropsTrigger(t *testing.T) {
	fx := startAgent(t, testLibrary(t))
	f := field.NewFlat(fx.reg.Ref("el"), "")
	fx.reg.Register("el", f)

	stale := snippet.NewLibrary()
	require.NoError(t, stale.Put(snippet.Snippet{Trigger: "-other", Variants: snippet.Variants{Internal: "x"}}))
	fx.agent.SetLibrary(stale)
	fx.typeInto(t, f, "el", "-sig")

	assert.Equal(t, "-sig", value(t, f))
	assert.Empty(t, fx.poster.Posts())
}

func TestAgent_LongestPolicy(t *testing.T) {
	lib := snippet.NewLibrary()
	require.NoError(t, lib.Put(snippet.Snippet{Trigger: "fg", Variants: snippet.Variants{Internal: "short", External: "short"}}))
	require.NoError(t, lib.Put(snippet.Snippet{Trigger: "mfg", Variants: snippet.Variants{Internal: "long", External: "long"}}))

	fx := startAgent(t, lib, WithPolicy(trigger.PolicyLongest))
	f := field.NewFlat(fx.reg.Ref("el"), "")
	fx.reg.Register("el", f)
	fx.typeInto(t, f, "el", "mfg")

	assert.Equal(t, "long", value(t, f))
}

func TestLookupError(t *testing.T) {
	err := &LookupError{Trigger: "-x"}
	assert.Contains(t, err.Error(), `"-x"`)
}

func TestHub_RoutesByContext(t *testing.T) {
	fx := startAgent(t, testLibrary(t))
	hub := NewHub()
	hub.Add(fx.agent)
	assert.Equal(t, []string{"tab1/0"}, hub.Keys())

	f := field.NewFlat(fx.reg.Ref("el"), "")
	ref := fx.reg.Register("el", f)
	fx.typeInto(t, f, "el", "-danke")

	ctx := context.Background()
	require.NoError(t, hub.Deliver(ctx, ref, protocol.Message{Action: protocol.AudienceSelected, Trigger: "-danke", Text: "Danke!"}))
	require.NoError(t, fx.agent.Flush(ctx))
	assert.Equal(t, "Danke!", value(t, f))

	err := hub.Deliver(ctx, field.Ref{Tab: "tab9", Frame: "0", Element: "el"}, protocol.Message{Action: protocol.AudienceSelected})
	assert.True(t, field.IsGone(err))

	hub.Remove("tab1/0")
	assert.Empty(t, hub.Keys())
}

func TestHub_SetLibraryReachesAgents(t *testing.T) {
	fx := startAgent(t, nil)
	hub := NewHub()
	hub.Add(fx.agent)

	f := field.NewFlat(fx.reg.Ref("el"), "")
	fx.reg.Register("el", f)
	fx.typeInto(t, f, "el", "-sig")
	assert.Equal(t, "-sig", value(t, f))

	hub.SetLibrary(testLibrary(t))
	fx.agent.Input("el")
	require.NoError(t, fx.agent.Flush(context.Background()))
	assert.Equal(t, "Mit freundlichen Grüßen", value(t, f))
}

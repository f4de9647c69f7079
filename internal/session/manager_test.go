package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"snipex/internal/confirm"
	"snipex/internal/field"
	"snipex/internal/protocol"
	"snipex/internal/resolve"
	"snipex/internal/session"
	"snipex/internal/snippet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingRouter captures coordinator deliveries.
type recordingRouter struct {
	mu  sync.Mutex
	out []protocol.Message
	ch  chan protocol.Message
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{ch: make(chan protocol.Message, 64)}
}

func (r *recordingRouter) Deliver(ctx context.Context, ref field.Ref, msg protocol.Message) error {
	r.mu.Lock()
	r.out = append(r.out, msg)
	r.mu.Unlock()
	r.ch <- msg
	return nil
}

func (r *recordingRouter) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return protocol.Message{}
	}
}

func (r *recordingRouter) all() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.out...)
}

type harness struct {
	mgr    *session.Manager
	host   *confirm.LocalHost
	router *recordingRouter
}

func start(t *testing.T, audience confirm.AudienceUI, variables confirm.VariablesUI) *harness {
	t.Helper()
	host := confirm.NewLocalHost(audience, variables)
	router := newRecordingRouter()
	mgr := session.New(host, router)
	host.Bind(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		host.Wait()
	})
	return &harness{mgr: mgr, host: host, router: router}
}

var ref = field.Ref{Tab: "tab1", Frame: "0", Element: "el-1"}

func openAudience(v snippet.Variants, def snippet.Audience) protocol.Message {
	return protocol.Message{
		Action:          protocol.OpenAudiencePopup,
		ElementID:       ref.Element,
		Trigger:         "-danke",
		Variants:        &v,
		DefaultAudience: def,
		Field:           ref,
	}
}

func sessions(t *testing.T, h *harness) int {
	t.Helper()
	n, err := h.mgr.Sessions(context.Background())
	require.NoError(t, err)
	return n
}

// ignoreSession drops the coordinator-assigned token from comparisons.
var ignoreSession = cmpopts.IgnoreFields(protocol.Message{}, "SessionID")

func TestManager_AudiencePickCommits(t *testing.T) {
	h := start(t, confirm.AcceptPreselected(), confirm.FillWith(nil))

	resp, err := h.mgr.Request(context.Background(), openAudience(snippet.Variants{Internal: "Danke dir!", External: "Danke Ihnen!"}, snippet.Internal))
	require.NoError(t, err)
	assert.True(t, resp.Success)

	got := h.router.next(t)
	want := protocol.Message{
		Action:    protocol.AudienceSelected,
		ElementID: ref.Element,
		Trigger:   "-danke",
		Variant:   snippet.Internal,
		Text:      "Danke dir!",
		Field:     ref,
	}
	if diff := cmp.Diff(want, got, ignoreSession); diff != "" {
		t.Errorf("delivery mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, got.SessionID)
	assert.Equal(t, 0, sessions(t, h))
}

func TestManager_ChosenVariantWithVariablesOpensFiller(t *testing.T) {
	h := start(t, confirm.Choose(snippet.External), confirm.FillWith(map[string]string{"Name": "Meier"}))

	_, err := h.mgr.Request(context.Background(), openAudience(snippet.Variants{Internal: "Hi", External: "Guten Tag Frau {{Name}}"}, snippet.Internal))
	require.NoError(t, err)

	got := h.router.next(t)
	assert.Equal(t, protocol.FillVariables, got.Action)
	assert.Equal(t, "Guten Tag Frau Meier", got.Text)
	assert.Equal(t, "-danke", got.Trigger)
	assert.Equal(t, 0, sessions(t, h))
}

func TestManager_VariablesOnlyFlow(t *testing.T) {
	h := start(t, confirm.CancelAudience(), confirm.FillWith(nil))

	_, err := h.mgr.Request(context.Background(), protocol.Message{
		Action:    protocol.OpenVariablesPopup,
		ElementID: ref.Element,
		Trigger:   "-mfg",
		Text:      "Liebe Grüße {{Name}}",
		Field:     ref,
	})
	require.NoError(t, err)

	got := h.router.next(t)
	assert.Equal(t, protocol.FillVariables, got.Action)
	assert.Equal(t, "Liebe Grüße Name", got.Text)
}

func TestManager_ClosingPickerEqualsCancel(t *testing.T) {
	for _, tc := range []struct {
		name   string
		ui     func(chan confirm.AudienceChoice) confirm.AudienceUI
		close  bool
		origin string
	}{
		{"explicit cancel", func(chan confirm.AudienceChoice) confirm.AudienceUI { return confirm.CancelAudience() }, false, protocol.OriginExplicit},
		{"window closed", func(c chan confirm.AudienceChoice) confirm.AudienceUI { return confirm.WaitAudience(c) }, true, protocol.OriginWindowClosed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			shown := make(chan confirm.AudienceChoice, 1)
			h := start(t, tc.ui(shown), confirm.FillWith(nil))

			_, err := h.mgr.Request(context.Background(), openAudience(snippet.Variants{Internal: "a", External: "b"}, snippet.Internal))
			require.NoError(t, err)

			if tc.close {
				<-shown
				for w := range h.host.Windows() {
					require.NoError(t, h.host.Close(context.Background(), w))
				}
			}

			got := h.router.next(t)
			assert.Equal(t, protocol.AudienceCancelled, got.Action)
			assert.Equal(t, tc.origin, got.Origin)
			assert.Equal(t, ref, got.Field)

			// Let the trailing closed event drain, then check nothing else arrived.
			assert.Equal(t, 0, sessions(t, h))
			h.host.Wait()
			assert.Equal(t, 0, sessions(t, h))
			assert.Len(t, h.router.all(), 1)
		})
	}
}

func TestManager_ClosingFillerCancels(t *testing.T) {
	shown := make(chan []resolve.Placeholder, 1)
	ui := confirm.WaitVariables(shown)
	h := start(t, confirm.AcceptPreselected(), ui)

	_, err := h.mgr.Request(context.Background(), protocol.Message{
		Action: protocol.OpenVariablesPopup, Trigger: "-mfg", Text: "{{Name}} {{Name}} *Ort*", Field: ref, ElementID: ref.Element,
	})
	require.NoError(t, err)
	var names []string
	for _, p := range <-shown {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Name", "Ort"}, names)

	for w := range h.host.Windows() {
		require.NoError(t, h.host.Close(context.Background(), w))
	}
	got := h.router.next(t)
	assert.Equal(t, protocol.VariablesCancelled, got.Action)
	assert.Equal(t, protocol.OriginWindowClosed, got.Origin)
}

func TestManager_OneSessionPerField(t *testing.T) {
	shown := make(chan confirm.AudienceChoice, 2)
	h := start(t, confirm.WaitAudience(shown), confirm.FillWith(nil))
	ctx := context.Background()

	resp, err := h.mgr.Request(ctx, openAudience(snippet.Variants{Internal: "a", External: "b"}, snippet.Internal))
	require.NoError(t, err)
	require.True(t, resp.Success)
	<-shown

	resp, err = h.mgr.Request(ctx, openAudience(snippet.Variants{Internal: "a", External: "b"}, snippet.Internal))
	require.NoError(t, err)
	assert.False(t, resp.Success)

	resp, err = h.mgr.Request(ctx, protocol.Message{Action: protocol.OpenVariablesPopup, Text: "{{x}}", Field: ref})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	assert.Len(t, h.host.Windows(), 1)
	assert.Equal(t, 1, sessions(t, h))

	// A different field gets its own session.
	other := openAudience(snippet.Variants{Internal: "a", External: "b"}, snippet.Internal)
	other.Field.Element = "el-2"
	resp, err = h.mgr.Request(ctx, other)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, sessions(t, h))
}

func TestManager_StaleRepliesAreDiscarded(t *testing.T) {
	h := start(t, confirm.AcceptPreselected(), confirm.FillWith(nil))
	ctx := context.Background()

	for _, msg := range []protocol.Message{
		{Action: protocol.AudienceSelection, SessionID: "nope", Variant: snippet.Internal},
		{Action: protocol.AudienceCancelled, SessionID: "nope"},
		{Action: protocol.FillVariablesFromPopup, SessionID: "nope", Text: "x"},
		{Action: protocol.VariablesCancelled, SessionID: "nope"},
		{Action: protocol.GetAudienceData, SessionID: "nope"},
		{Action: protocol.WindowClosed, Window: "unknown"},
	} {
		_, err := h.mgr.Request(ctx, msg)
		require.NoError(t, err)
	}
	assert.Empty(t, h.router.all())
	assert.Equal(t, 0, sessions(t, h))
}

func TestManager_StaleReplyAfterCommitIsIgnored(t *testing.T) {
	h := start(t, confirm.AcceptPreselected(), confirm.FillWith(nil))
	ctx := context.Background()

	_, err := h.mgr.Request(ctx, openAudience(snippet.Variants{Internal: "a", External: "b"}, snippet.Internal))
	require.NoError(t, err)
	first := h.router.next(t)

	resp, err := h.mgr.Request(ctx, protocol.Message{Action: protocol.AudienceSelection, SessionID: first.SessionID, Variant: snippet.External})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Len(t, h.router.all(), 1)
}

func TestManager_OpenFailureFallsBackToDefault(t *testing.T) {
	h := start(t, confirm.Choose(snippet.External), confirm.FillWith(nil))
	h.host.FailOpen = func(req session.OpenRequest) error {
		if req.Kind == session.WindowAudience {
			return errors.New("popup blocked")
		}
		return nil
	}

	_, err := h.mgr.Request(context.Background(), openAudience(snippet.Variants{Internal: "Danke dir!", External: "Danke Ihnen!"}, snippet.Internal))
	require.NoError(t, err)

	got := h.router.next(t)
	assert.Equal(t, protocol.AudienceSelected, got.Action)
	assert.Equal(t, "Danke dir!", got.Text)
	assert.Equal(t, snippet.Internal, got.Variant)
}

func TestManager_OpenFailureStillFillsVariables(t *testing.T) {
	h := start(t, confirm.CancelAudience(), confirm.FillWith(map[string]string{"Name": "Anna"}))
	h.host.FailOpen = func(req session.OpenRequest) error {
		if req.Kind == session.WindowAudience {
			return errors.New("popup blocked")
		}
		return nil
	}

	_, err := h.mgr.Request(context.Background(), openAudience(snippet.Variants{Internal: "Hallo {{Name}}", External: "Guten Tag {{Name}}"}, snippet.Internal))
	require.NoError(t, err)

	got := h.router.next(t)
	assert.Equal(t, protocol.FillVariables, got.Action)
	assert.Equal(t, "Hallo Anna", got.Text)
}

func TestManager_VariablesOpenFailureCancels(t *testing.T) {
	h := start(t, confirm.AcceptPreselected(), confirm.FillWith(nil))
	h.host.FailOpen = func(session.OpenRequest) error { return errors.New("denied") }

	resp, err := h.mgr.Request(context.Background(), protocol.Message{Action: protocol.OpenVariablesPopup, Text: "{{x}}", Field: ref, Trigger: "-x"})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	got := h.router.next(t)
	assert.Equal(t, protocol.VariablesCancelled, got.Action)
	assert.Equal(t, protocol.OriginOpenFailed, got.Origin)
	assert.Equal(t, 0, sessions(t, h))
}

func TestManager_WindowSizes(t *testing.T) {
	shown := make(chan confirm.AudienceChoice, 1)
	host := confirm.NewLocalHost(confirm.WaitAudience(shown), confirm.FillWith(nil))
	mgr := session.New(host, newRecordingRouter(), session.WithWindowSizes(session.Size{Width: 800, Height: 600}, session.Size{}))
	host.Bind(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	_, err := mgr.Request(ctx, openAudience(snippet.Variants{Internal: "a", External: "b"}, snippet.Internal))
	require.NoError(t, err)
	<-shown
	for _, req := range host.Windows() {
		assert.Equal(t, session.Size{Width: 800, Height: 600}, req.Size)
	}

	// Shutdown closes the window that is still open.
	cancel()
	require.NoError(t, <-done)
	host.Wait()
	assert.Empty(t, host.Windows())
}

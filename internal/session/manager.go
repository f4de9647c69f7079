package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snipex/internal/logging"
	"snipex/internal/protocol"
	"snipex/internal/resolve"
	"snipex/internal/snippet"
)

// actionCount is an internal request answered with the live session count.
const actionCount protocol.Action = "sessionCount"

// Manager is the coordinator. It owns the session table and processes every
// inbound message on one goroutine, so the table needs no locking. It never
// waits on field contexts: deliveries go through a non-blocking Router.
type Manager struct {
	host   WindowHost
	router protocol.Router
	inbox  *protocol.Mailbox
	table  *Table

	audienceSize  Size
	variablesSize Size
	openTimeout   time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithWindowSizes overrides the confirmation window sizes.
func WithWindowSizes(audience, variables Size) Option {
	return func(m *Manager) {
		if audience.Width > 0 && audience.Height > 0 {
			m.audienceSize = audience
		}
		if variables.Width > 0 && variables.Height > 0 {
			m.variablesSize = variables
		}
	}
}

// WithOpenTimeout bounds each window open call.
func WithOpenTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.openTimeout = d
		}
	}
}

// WithIDs replaces the session id generator.
func WithIDs(next func() ID) Option {
	return func(m *Manager) {
		if next != nil {
			m.table.newID = next
		}
	}
}

// New creates a coordinator driving host and delivering to router.
func New(host WindowHost, router protocol.Router, opts ...Option) *Manager {
	m := &Manager{
		host:          host,
		router:        router,
		inbox:         protocol.NewMailbox(),
		table:         NewTable(),
		audienceSize:  DefaultAudienceSize,
		variablesSize: DefaultVariablesSize,
		openTimeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Post enqueues a message without waiting.
func (m *Manager) Post(msg protocol.Message) bool {
	return m.inbox.Send(msg)
}

// Request enqueues a message and waits for the coordinator's answer.
func (m *Manager) Request(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	return protocol.Request(ctx, m.inbox, msg)
}

// Sessions returns the number of live sessions.
func (m *Manager) Sessions(ctx context.Context) (int, error) {
	resp, err := m.Request(ctx, protocol.Message{Action: actionCount})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Run processes messages until ctx is done. Windows still open at shutdown
// are closed.
func (m *Manager) Run(ctx context.Context) error {
	logging.Session("Coordinator started")
	unsubscribe := m.host.OnClosed(func(w protocol.WindowID) {
		m.inbox.Send(protocol.Message{Action: protocol.WindowClosed, Window: w})
	})
	defer unsubscribe()
	defer m.shutdown()

	for {
		env, err := m.inbox.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, protocol.ErrMailboxClosed) {
				logging.Session("Coordinator stopping (%d sessions live)", m.table.Len())
				return nil
			}
			return err
		}
		m.handle(ctx, env)
	}
}

func (m *Manager) shutdown() {
	m.inbox.Close()
	ctx, cancel := context.WithTimeout(context.Background(), m.openTimeout)
	defer cancel()
	for _, id := range m.table.IDs() {
		if w := m.table.DetachWindow(id); w != "" {
			_ = m.host.Close(ctx, w)
		}
		m.table.Destroy(id)
	}
	// Drain so pending requesters are not left waiting.
	for m.inbox.Len() > 0 {
		env, err := m.inbox.Receive(ctx)
		if err != nil {
			break
		}
		env.Respond(protocol.Fail(protocol.ErrMailboxClosed))
	}
}

func (m *Manager) handle(ctx context.Context, env protocol.Envelope) {
	msg := env.Message
	logging.ProtocolDebug("coordinator <- %s session=%s element=%s", msg.Action, msg.SessionID, msg.ElementID)

	switch msg.Action {
	case protocol.OpenAudiencePopup:
		env.Respond(m.openAudience(ctx, msg))
	case protocol.OpenVariablesPopup:
		env.Respond(m.openVariables(ctx, msg))
	case protocol.GetAudienceData:
		env.Respond(m.audienceData(msg))
	case protocol.GetVariablesData:
		env.Respond(m.variablesData(msg))
	case protocol.AudienceSelection:
		env.Respond(m.audienceSelection(ctx, msg))
	case protocol.AudienceCancelled:
		env.Respond(m.cancel(ctx, msg, StageAudience))
	case protocol.FillVariablesFromPopup:
		env.Respond(m.fillVariables(ctx, msg))
	case protocol.VariablesCancelled:
		env.Respond(m.cancel(ctx, msg, StageVariable))
	case protocol.WindowClosed:
		m.windowClosed(ctx, msg)
		env.Respond(protocol.OK)
	case actionCount:
		env.Respond(protocol.Response{Success: true, Count: m.table.Len()})
	default:
		logging.Get(logging.CategoryProtocol).Warn("coordinator: unknown action %q", msg.Action)
		env.Respond(protocol.Fail(fmt.Errorf("unknown action %q", msg.Action)))
	}
}

func (m *Manager) openAudience(ctx context.Context, msg protocol.Message) protocol.Response {
	if msg.Variants == nil {
		return protocol.Fail(errors.New("openAudiencePopup without variants"))
	}
	audience := msg.DefaultAudience
	if !audience.Valid() {
		audience = snippet.Internal
	}
	s, err := m.table.Create(Session{
		Field:           msg.Field,
		Trigger:         msg.Trigger,
		Stage:           StageAudience,
		Variants:        *msg.Variants,
		DefaultAudience: audience,
	})
	if err != nil {
		logging.SessionDebug("reject audience session for %s: %v", msg.Field, err)
		logging.Audit().SessionReject(msg.Field.String())
		return protocol.Fail(err)
	}
	logging.Session("Session %s created for %s (stage audience)", s.ID, msg.Field)
	logging.Audit().SessionCreate(string(s.ID), msg.Field.String(), string(StageAudience))

	if err := m.openWindow(ctx, s, WindowAudience); err != nil {
		// Reproduce a default pick, including any variable stage it needs.
		logging.WindowWarn("%v; falling back to default audience", err)
		return m.audienceSelection(ctx, protocol.Message{
			Action:    protocol.AudienceSelection,
			SessionID: string(s.ID),
			Variant:   s.DefaultAudience,
			Origin:    protocol.OriginOpenFailed,
		})
	}
	return protocol.Response{Success: true}
}

func (m *Manager) openVariables(ctx context.Context, msg protocol.Message) protocol.Response {
	s, err := m.table.Create(Session{
		Field:   msg.Field,
		Trigger: msg.Trigger,
		Stage:   StageVariable,
		Text:    msg.Text,
	})
	if err != nil {
		logging.SessionDebug("reject variable session for %s: %v", msg.Field, err)
		logging.Audit().SessionReject(msg.Field.String())
		return protocol.Fail(err)
	}
	logging.Session("Session %s created for %s (stage variable)", s.ID, msg.Field)
	logging.Audit().SessionCreate(string(s.ID), msg.Field.String(), string(StageVariable))

	if err := m.openWindow(ctx, s, WindowVariables); err != nil {
		logging.WindowWarn("%v; cancelling session", err)
		m.finishCancelled(ctx, s, protocol.VariablesCancelled, protocol.OriginOpenFailed)
		return protocol.Fail(err)
	}
	return protocol.Response{Success: true}
}

// openWindow opens a window of kind for s and attaches it.
func (m *Manager) openWindow(ctx context.Context, s Session, kind WindowKind) error {
	size := m.audienceSize
	if kind == WindowVariables {
		size = m.variablesSize
	}

	openCtx, cancel := context.WithTimeout(ctx, m.openTimeout)
	defer cancel()
	w, err := m.host.Open(openCtx, OpenRequest{
		Kind:      kind,
		SessionID: s.ID,
		ElementID: s.Field.Element,
		Size:      size,
	})
	if err != nil {
		openErr := &WindowOpenError{Kind: kind, SessionID: s.ID, Err: err}
		logging.Audit().WindowOpenError(string(s.ID), string(kind), err)
		return openErr
	}
	if err := m.table.AttachWindow(s.ID, w); err != nil {
		_ = m.host.Close(ctx, w)
		return &WindowOpenError{Kind: kind, SessionID: s.ID, Err: err}
	}
	logging.Window("Opened %s window %s for session %s", kind, w, s.ID)
	logging.Audit().WindowOpen(string(s.ID), string(kind), string(w))
	return nil
}

// closeWindow detaches and closes the session's window, if any. The closed
// event that follows no longer matches a session and is ignored.
func (m *Manager) closeWindow(ctx context.Context, id ID) {
	w := m.table.DetachWindow(id)
	if w == "" {
		return
	}
	if err := m.host.Close(ctx, w); err != nil {
		logging.WindowDebug("close window %s: %v", w, err)
	}
}

// lookup returns the session for msg if it is live and in stage.
func (m *Manager) lookup(msg protocol.Message, stage Stage) (Session, error) {
	s, ok := m.table.Get(ID(msg.SessionID))
	if !ok || s.Stage != stage {
		err := &StaleReplyError{SessionID: ID(msg.SessionID), Action: msg.Action}
		logging.SessionDebug("discarding %v", err)
		logging.Audit().StaleReply(msg.SessionID, string(msg.Action))
		return Session{}, err
	}
	return s, nil
}

func (m *Manager) audienceData(msg protocol.Message) protocol.Response {
	s, err := m.lookup(msg, StageAudience)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.Response{
		Success: true,
		Data: &protocol.AudienceData{
			ElementID:       s.Field.Element,
			SessionID:       string(s.ID),
			Variants:        s.Variants,
			DefaultAudience: s.DefaultAudience,
		},
	}
}

func (m *Manager) variablesData(msg protocol.Message) protocol.Response {
	s, err := m.lookup(msg, StageVariable)
	if err != nil {
		return protocol.Fail(err)
	}
	return protocol.Response{Success: true, Text: s.Text}
}

func (m *Manager) audienceSelection(ctx context.Context, msg protocol.Message) protocol.Response {
	s, err := m.lookup(msg, StageAudience)
	if err != nil {
		return protocol.Fail(err)
	}

	variant := msg.Variant
	if !variant.Valid() {
		variant = s.DefaultAudience
	}
	text := resolve.VariantText(s.Variants, variant)
	m.closeWindow(ctx, s.ID)

	if resolve.NeedsVariables(text) {
		if err := m.table.Transition(s.ID, StageVariable, text); err != nil {
			logging.Get(logging.CategorySession).Error("session %s: %v", s.ID, err)
			return protocol.Fail(err)
		}
		logging.Session("Session %s: audience %s chosen, variables pending", s.ID, variant)
		logging.Audit().SessionAdvance(string(s.ID), string(StageAudience), string(StageVariable))

		s, _ = m.table.Get(s.ID)
		if err := m.openWindow(ctx, s, WindowVariables); err != nil {
			logging.WindowWarn("%v; cancelling session", err)
			m.finishCancelled(ctx, s, protocol.VariablesCancelled, protocol.OriginOpenFailed)
			return protocol.Fail(err)
		}
		return protocol.Response{Success: true}
	}

	m.finishCommitted(ctx, s, protocol.Message{
		Action:    protocol.AudienceSelected,
		ElementID: s.Field.Element,
		Trigger:   s.Trigger,
		Variant:   variant,
		Text:      text,
		Field:     s.Field,
	})
	return protocol.Response{Success: true}
}

func (m *Manager) fillVariables(ctx context.Context, msg protocol.Message) protocol.Response {
	s, err := m.lookup(msg, StageVariable)
	if err != nil {
		return protocol.Fail(err)
	}
	m.closeWindow(ctx, s.ID)
	m.finishCommitted(ctx, s, protocol.Message{
		Action:    protocol.FillVariables,
		ElementID: s.Field.Element,
		Trigger:   s.Trigger,
		Text:      msg.Text,
		Field:     s.Field,
	})
	return protocol.Response{Success: true}
}

// cancel handles an explicit cancellation from a window in stage.
func (m *Manager) cancel(ctx context.Context, msg protocol.Message, stage Stage) protocol.Response {
	s, err := m.lookup(msg, stage)
	if err != nil {
		return protocol.Fail(err)
	}
	origin := msg.Origin
	if origin == "" {
		origin = protocol.OriginExplicit
	}
	m.closeWindow(ctx, s.ID)
	m.finishCancelled(ctx, s, cancelAction(stage), origin)
	return protocol.Response{Success: true}
}

// windowClosed turns a closed event into the cancellation the window would
// have sent itself. Closed events for windows no session holds are ignored.
func (m *Manager) windowClosed(ctx context.Context, msg protocol.Message) {
	s, ok := m.table.ByWindow(msg.Window)
	if !ok {
		logging.WindowDebug("closed event for untracked window %s", msg.Window)
		return
	}
	m.table.DetachWindow(s.ID)
	m.cancel(ctx, protocol.Message{
		Action:    cancelAction(s.Stage),
		SessionID: string(s.ID),
		Origin:    protocol.OriginWindowClosed,
	}, s.Stage)
}

func cancelAction(stage Stage) protocol.Action {
	if stage == StageVariable {
		return protocol.VariablesCancelled
	}
	return protocol.AudienceCancelled
}

func (m *Manager) finishCommitted(ctx context.Context, s Session, out protocol.Message) {
	m.table.Destroy(s.ID)
	logging.Session("Session %s committed via %s", s.ID, out.Action)
	logging.Audit().SessionCommit(string(s.ID), len(out.Text))
	m.deliver(ctx, s, out)
}

func (m *Manager) finishCancelled(ctx context.Context, s Session, action protocol.Action, origin string) {
	m.closeWindow(ctx, s.ID)
	m.table.Destroy(s.ID)
	logging.Session("Session %s cancelled in stage %s (%s)", s.ID, s.Stage, origin)
	logging.Audit().SessionCancel(string(s.ID), string(s.Stage), origin)
	m.deliver(ctx, s, protocol.Message{
		Action:    action,
		ElementID: s.Field.Element,
		Trigger:   s.Trigger,
		Field:     s.Field,
		Origin:    origin,
	})
}

func (m *Manager) deliver(ctx context.Context, s Session, out protocol.Message) {
	out.SessionID = string(s.ID)
	if err := m.router.Deliver(ctx, s.Field, out); err != nil {
		logging.SessionWarn("deliver %s to %s: %v", out.Action, s.Field, err)
	}
}

// Package page implements the field context: one agent per tab+frame that
// watches its fields for triggers, hands non-trivial expansions to the
// coordinator and commits whatever comes back.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"snipex/internal/field"
	"snipex/internal/logging"
	"snipex/internal/protocol"
	"snipex/internal/resolve"
	"snipex/internal/snippet"
	"snipex/internal/trigger"
)

// Agent-internal actions. They never leave the agent's mailbox.
const (
	actionInput protocol.Action = "input"
	actionFlush protocol.Action = "flush"
)

// LookupError reports a trigger that matched but whose snippet was gone by
// the time it was resolved.
type LookupError struct {
	Trigger string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("snippet for trigger %q no longer exists", e.Trigger)
}

// Poster is the coordinator side the agent talks to.
type Poster interface {
	Post(msg protocol.Message) bool
}

// Agent is the field context of one tab+frame. Input notifications and
// coordinator deliveries are processed in order on the Run goroutine.
type Agent struct {
	registry *field.Registry
	coord    Poster
	inbox    *protocol.Mailbox

	mu  sync.RWMutex
	lib *snippet.Library

	policy        trigger.Policy
	commitTimeout time.Duration
}

// Option configures an Agent.
type Option func(*Agent)

// WithPolicy sets the trigger match policy.
func WithPolicy(p trigger.Policy) Option {
	return func(a *Agent) { a.policy = p }
}

// WithCommitTimeout bounds each commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.commitTimeout = d
		}
	}
}

// New returns an agent for the fields in registry.
func New(registry *field.Registry, coord Poster, lib *snippet.Library, opts ...Option) *Agent {
	a := &Agent{
		registry:      registry,
		coord:         coord,
		inbox:         protocol.NewMailbox(),
		lib:           lib,
		policy:        trigger.PolicyFirst,
		commitTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the tab+frame key the agent is routed by.
func (a *Agent) Key() string {
	return a.registry.Ref("").Context()
}

// Registry returns the agent's field registry.
func (a *Agent) Registry() *field.Registry {
	return a.registry
}

// SetLibrary swaps the active snippet set. Sessions already in flight keep
// the variants they were created with.
func (a *Agent) SetLibrary(lib *snippet.Library) {
	a.mu.Lock()
	a.lib = lib
	a.mu.Unlock()
}

func (a *Agent) library() *snippet.Library {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lib
}

// Input notes that element's content changed. It never blocks.
func (a *Agent) Input(element string) bool {
	return a.inbox.Send(protocol.Message{Action: actionInput, ElementID: element})
}

// Deliver queues a coordinator message for this context. It implements
// protocol.Router for a single agent.
func (a *Agent) Deliver(ctx context.Context, ref field.Ref, msg protocol.Message) error {
	if msg.Field == (field.Ref{}) {
		msg.Field = ref
	}
	if !a.inbox.Send(msg) {
		return protocol.ErrMailboxClosed
	}
	return nil
}

// Flush waits until everything queued before it has been processed.
func (a *Agent) Flush(ctx context.Context) error {
	_, err := protocol.Request(ctx, a.inbox, protocol.Message{Action: actionFlush})
	return err
}

// Run processes the agent's mailbox until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	logging.PageDebug("agent %s started", a.Key())
	defer a.inbox.Close()
	for {
		env, err := a.inbox.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, protocol.ErrMailboxClosed) {
				logging.PageDebug("agent %s stopped", a.Key())
				return nil
			}
			return err
		}
		a.handle(ctx, env.Message)
		env.Respond(protocol.OK)
	}
}

func (a *Agent) handle(ctx context.Context, msg protocol.Message) {
	switch msg.Action {
	case actionInput:
		a.onInput(ctx, msg.ElementID)
	case actionFlush:
	case protocol.AudienceSelected, protocol.FillVariables:
		a.onCommit(ctx, msg)
	case protocol.AudienceCancelled, protocol.VariablesCancelled:
		el := element(msg)
		a.registry.Unmark(el)
		logging.PageDebug("session %s for %s cancelled (%s)", msg.SessionID, el, msg.Origin)
	default:
		logging.Get(logging.CategoryPage).Warn("agent %s: unexpected action %q", a.Key(), msg.Action)
	}
}

func element(msg protocol.Message) string {
	if msg.Field.Element != "" {
		return msg.Field.Element
	}
	return msg.ElementID
}

func (a *Agent) onInput(ctx context.Context, el string) {
	lib := a.library()
	if lib == nil || a.registry.Marked(el) {
		return
	}
	f, err := a.registry.Lookup(el)
	if err != nil {
		logging.PageDebug("input on unknown element %s", el)
		return
	}
	value, err := f.Value(ctx)
	if err != nil {
		logging.PageDebug("read %s: %v", el, err)
		return
	}
	caret, known, err := f.Caret(ctx)
	if err != nil {
		logging.PageDebug("caret %s: %v", el, err)
		return
	}

	m, ok := lib.Match(value, caret, known, a.policy)
	if !ok {
		return
	}
	s, ok := lib.Lookup(m.Trigger)
	if !ok {
		logging.PageDebug("%v", &LookupError{Trigger: m.Trigger})
		return
	}

	ref := a.registry.Ref(el)
	plan := resolve.PlanFor(s)
	if plan.Trivial() {
		a.commit(ctx, f, ref, m.Trigger, resolve.DefaultText(s))
		logging.Audit().DirectCommit(ref.String(), m.Trigger)
		return
	}

	if !a.registry.Mark(el) {
		return
	}
	msg := protocol.Message{
		ElementID: el,
		Trigger:   m.Trigger,
		Field:     ref,
	}
	if plan.NeedsAudience {
		variants := s.Variants
		msg.Action = protocol.OpenAudiencePopup
		msg.Variants = &variants
		msg.DefaultAudience = s.DefaultAudience
		msg.RequireChoice = s.RequireChoice
	} else {
		msg.Action = protocol.OpenVariablesPopup
		msg.Text = resolve.DefaultText(s)
	}
	if !a.coord.Post(msg) {
		logging.Get(logging.CategoryPage).Warn("coordinator unavailable; dropping %s for %s", msg.Action, ref)
		a.registry.Unmark(el)
		return
	}
	logging.Page("Trigger %q in %s handed to coordinator (%s)", m.Trigger, ref, msg.Action)
}

func (a *Agent) onCommit(ctx context.Context, msg protocol.Message) {
	el := element(msg)
	defer a.registry.Unmark(el)

	f, err := a.registry.Lookup(el)
	if err != nil {
		logging.PageDebug("session %s: %v", msg.SessionID, err)
		return
	}
	a.commit(ctx, f, a.registry.Ref(el), msg.Trigger, msg.Text)
}

// commit applies the final text; every failure is logged and swallowed.
func (a *Agent) commit(ctx context.Context, f field.Field, ref field.Ref, trig, text string) {
	cctx, cancel := context.WithTimeout(ctx, a.commitTimeout)
	defer cancel()

	err := field.Commit(cctx, f, trig, text)
	switch {
	case err == nil:
		logging.Commit("Expanded %q in %s", trig, ref)
	case field.IsGone(err):
		logging.CommitDebug("field %s gone before commit", ref)
	case errors.Is(err, field.ErrTriggerMissing):
		logging.CommitDebug("trigger %q moved in %s; leaving text untouched", trig, ref)
	default:
		logging.CommitWarn("commit %s: %v", ref, err)
	}
}

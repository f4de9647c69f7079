package confirm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"snipex/internal/logging"
	"snipex/internal/protocol"
	"snipex/internal/session"
)

// LocalHost is a session.WindowHost whose windows are controllers running in
// goroutines of this process. Closing a window cancels its controller, which
// takes the unload path; the closed event is emitted after it exits.
type LocalHost struct {
	mu      sync.Mutex
	coord   session.Coordinator
	windows map[protocol.WindowID]*localWindow
	subs    map[uint64]func(protocol.WindowID)
	nextSub uint64
	wg      sync.WaitGroup

	audienceUI  AudienceUI
	variablesUI VariablesUI

	// FailOpen, when set, is consulted before every open; a non-nil error
	// makes the open fail.
	FailOpen func(req session.OpenRequest) error
}

type localWindow struct {
	req    session.OpenRequest
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLocalHost returns a host rendering windows with the given UIs.
func NewLocalHost(audience AudienceUI, variables VariablesUI) *LocalHost {
	return &LocalHost{
		windows:     make(map[protocol.WindowID]*localWindow),
		subs:        make(map[uint64]func(protocol.WindowID)),
		audienceUI:  audience,
		variablesUI: variables,
	}
}

// Bind sets the coordinator windows talk to. It must be called before the
// first Open.
func (h *LocalHost) Bind(c session.Coordinator) {
	h.mu.Lock()
	h.coord = c
	h.mu.Unlock()
}

// Open starts a controller for req.
func (h *LocalHost) Open(ctx context.Context, req session.OpenRequest) (protocol.WindowID, error) {
	if h.FailOpen != nil {
		if err := h.FailOpen(req); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	h.mu.Lock()
	coord := h.coord
	h.mu.Unlock()
	if coord == nil {
		return "", fmt.Errorf("window host is not bound to a coordinator")
	}

	var run func(context.Context) error
	switch req.Kind {
	case session.WindowAudience:
		run = NewAudiencePicker(coord, req.SessionID, h.audienceUI).Run
	case session.WindowVariables:
		run = NewVariableFiller(coord, req.SessionID, h.variablesUI).Run
	default:
		return "", fmt.Errorf("unknown window kind %q", req.Kind)
	}

	id := protocol.WindowID("local-" + uuid.NewString())
	wctx, cancel := context.WithCancel(context.Background())
	w := &localWindow{req: req, cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	h.windows[id] = w
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := run(wctx); err != nil {
			logging.WindowDebug("window %s exited: %v", id, err)
		}
		cancel()

		h.mu.Lock()
		delete(h.windows, id)
		subs := make([]func(protocol.WindowID), 0, len(h.subs))
		for _, fn := range h.subs {
			subs = append(subs, fn)
		}
		h.mu.Unlock()

		close(w.done)
		for _, fn := range subs {
			fn(id)
		}
	}()

	logging.WindowDebug("local %s window %s opened for session %s (%dx%d)", req.Kind, id, req.SessionID, req.Size.Width, req.Size.Height)
	return id, nil
}

// Close cancels the window and waits for its controller to exit.
func (h *LocalHost) Close(ctx context.Context, id protocol.WindowID) error {
	h.mu.Lock()
	w, ok := h.windows[id]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("window %s not open", id)
	}
	w.cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnClosed subscribes fn to closed events.
func (h *LocalHost) OnClosed(fn func(protocol.WindowID)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Windows returns the open windows and their requests.
func (h *LocalHost) Windows() map[protocol.WindowID]session.OpenRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[protocol.WindowID]session.OpenRequest, len(h.windows))
	for id, w := range h.windows {
		out[id] = w.req
	}
	return out
}

// Wait blocks until every window has exited.
func (h *LocalHost) Wait() {
	h.wg.Wait()
}

// CloseAll closes every open window.
func (h *LocalHost) CloseAll(ctx context.Context) {
	for id := range h.Windows() {
		_ = h.Close(ctx, id)
	}
}

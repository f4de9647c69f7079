package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"snipex/internal/confirm"
	"snipex/internal/logging"
	"snipex/internal/protocol"
	"snipex/internal/resolve"
	"snipex/internal/session"
	"snipex/internal/snippet"
)

// sendBinding is the page-side function confirmation windows report through.
const sendBinding = "snipexSend"

// windowEvent is what a confirmation window sends.
type windowEvent struct {
	Type     string            `json:"type"` // confirm, cancel, submit
	Audience string            `json:"audience,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
}

// WindowHost is a session.WindowHost whose windows are popup targets of the
// managed browser. The pages are served from a loopback HTTP server. A popup
// closed by the user cancels its controller, which takes the unload path.
type WindowHost struct {
	mgr *Manager

	mu      sync.Mutex
	coord   session.Coordinator
	windows map[protocol.WindowID]*popup
	subs    map[uint64]func(protocol.WindowID)
	nextSub uint64
	wg      sync.WaitGroup

	srv      *http.Server
	base     string
	unwatch  func()
	serveErr chan error
}

var _ session.WindowHost = (*WindowHost)(nil)

type popup struct {
	req    session.OpenRequest
	page   *rod.Page
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWindowHost returns a host opening popups in mgr's browser.
func NewWindowHost(mgr *Manager) *WindowHost {
	return &WindowHost{
		mgr:     mgr,
		windows: make(map[protocol.WindowID]*popup),
		subs:    make(map[uint64]func(protocol.WindowID)),
	}
}

// Bind sets the coordinator windows talk to.
func (h *WindowHost) Bind(c session.Coordinator) {
	h.mu.Lock()
	h.coord = c
	h.mu.Unlock()
}

// Start serves the window pages and watches for popups closed from the
// browser side.
func (h *WindowHost) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	h.srv = &http.Server{
		Handler:           http.FileServer(http.FS(windowAssets())),
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.base = "http://" + ln.Addr().String()
	h.serveErr = make(chan error, 1)
	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.serveErr <- err
		}
		close(h.serveErr)
	}()
	h.unwatch = h.mgr.OnTargetDestroyed(h.targetDestroyed)
	logging.Window("Serving confirmation windows at %s", h.base)
	return nil
}

// Stop closes every window and the page server.
func (h *WindowHost) Stop(ctx context.Context) error {
	if h.unwatch != nil {
		h.unwatch()
	}
	h.CloseAll(ctx)
	h.Wait()
	if h.srv == nil {
		return nil
	}
	err := h.srv.Shutdown(ctx)
	if serr := <-h.serveErr; serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

// Open creates a popup for req and starts its controller.
func (h *WindowHost) Open(ctx context.Context, req session.OpenRequest) (protocol.WindowID, error) {
	h.mu.Lock()
	coord := h.coord
	h.mu.Unlock()
	if coord == nil {
		return "", errors.New("window host is not bound to a coordinator")
	}
	b := h.mgr.Browser()
	if b == nil {
		return "", errors.New("browser not started")
	}
	if req.Kind != session.WindowAudience && req.Kind != session.WindowVariables {
		return "", fmt.Errorf("unknown window kind %q", req.Kind)
	}

	p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank", NewWindow: true})
	if err != nil {
		return "", fmt.Errorf("create popup: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             req.Size.Width,
		Height:            req.Size.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(p); err != nil {
		logging.WindowWarn("failed to size popup: %v", err)
	}
	if err := (proto.RuntimeAddBinding{Name: sendBinding}).Call(p); err != nil {
		_ = p.Close()
		return "", fmt.Errorf("add send binding: %w", err)
	}

	wctx, cancel := context.WithCancel(context.Background())
	events := make(chan windowEvent, 8)
	wait := p.Context(wctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != sendBinding {
			return
		}
		var ev windowEvent
		if err := json.Unmarshal([]byte(e.Payload), &ev); err != nil {
			logging.WindowDebug("malformed window event %q", e.Payload)
			return
		}
		select {
		case events <- ev:
		default:
		}
	})
	waited := make(chan struct{})
	go func() {
		wait()
		close(waited)
	}()

	url := h.base + "/" + string(req.Kind) + ".html"
	nav := p.Context(ctx).Timeout(h.mgr.navTimeout)
	if err := nav.Navigate(url); err == nil {
		err = nav.WaitLoad()
	}
	if err != nil {
		cancel()
		<-waited
		_ = p.Close()
		return "", fmt.Errorf("load %s: %w", url, err)
	}

	var run func(context.Context) error
	if req.Kind == session.WindowAudience {
		run = confirm.NewAudiencePicker(coord, req.SessionID, &pageAudienceUI{page: p, events: events}).Run
	} else {
		run = confirm.NewVariableFiller(coord, req.SessionID, &pageVariablesUI{page: p, events: events}).Run
	}

	id := protocol.WindowID(p.TargetID)
	w := &popup{req: req, page: p, cancel: cancel, done: make(chan struct{})}
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
		<-waited
		_ = p.Close()

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

	logging.WindowDebug("popup %s window %s opened for session %s (%dx%d)", req.Kind, id, req.SessionID, req.Size.Width, req.Size.Height)
	return id, nil
}

func (h *WindowHost) targetDestroyed(target proto.TargetTargetID) {
	h.mu.Lock()
	w, ok := h.windows[protocol.WindowID(target)]
	h.mu.Unlock()
	if ok {
		logging.WindowDebug("popup %s closed by the user", target)
		w.cancel()
	}
}

// Close cancels the window's controller, waits for it and closes the popup.
func (h *WindowHost) Close(ctx context.Context, id protocol.WindowID) error {
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
func (h *WindowHost) OnClosed(fn func(protocol.WindowID)) func() {
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
func (h *WindowHost) Windows() map[protocol.WindowID]session.OpenRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[protocol.WindowID]session.OpenRequest, len(h.windows))
	for id, w := range h.windows {
		out[id] = w.req
	}
	return out
}

// Wait blocks until every window has exited.
func (h *WindowHost) Wait() {
	h.wg.Wait()
}

// CloseAll closes every open window.
func (h *WindowHost) CloseAll(ctx context.Context) {
	for id := range h.Windows() {
		_ = h.Close(ctx, id)
	}
}

// audienceView is the render data of audience.html.
type audienceView struct {
	Options     []snippet.Audience `json:"options"`
	Preselected snippet.Audience   `json:"preselected"`
	Variants    snippet.Variants   `json:"variants"`
}

// variablesView is the render data of variables.html.
type variablesView struct {
	Text         string   `json:"text"`
	Placeholders []string `json:"placeholders"`
}

type pageAudienceUI struct {
	page   *rod.Page
	events <-chan windowEvent
}

func (ui *pageAudienceUI) ChooseAudience(ctx context.Context, c confirm.AudienceChoice) (snippet.Audience, bool, error) {
	view := audienceView{Options: c.Options, Preselected: c.Preselected, Variants: c.Variants}
	if _, err := ui.page.Context(ctx).Eval(`d => window.snipexRender(d)`, view); err != nil {
		return "", false, fmt.Errorf("render audience window: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case ev := <-ui.events:
			switch ev.Type {
			case "cancel":
				return "", false, nil
			case "confirm":
				a := snippet.Audience(ev.Audience)
				if a.Valid() && c.Variants.Get(a) != "" {
					return a, true, nil
				}
				logging.WindowDebug("ignoring selection of empty audience %q", ev.Audience)
			}
		}
	}
}

type pageVariablesUI struct {
	page   *rod.Page
	events <-chan windowEvent
}

func (ui *pageVariablesUI) FillVariables(ctx context.Context, text string, placeholders []resolve.Placeholder) (map[string]string, bool, error) {
	view := variablesView{Text: text, Placeholders: make([]string, len(placeholders))}
	for i, ph := range placeholders {
		view.Placeholders[i] = ph.Name
	}
	if _, err := ui.page.Context(ctx).Eval(`d => window.snipexRender(d)`, view); err != nil {
		return nil, false, fmt.Errorf("render variables window: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case ev := <-ui.events:
			switch ev.Type {
			case "cancel":
				return nil, false, nil
			case "submit":
				return ev.Values, true, nil
			}
		}
	}
}

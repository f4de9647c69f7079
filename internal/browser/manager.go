// Package browser attaches the expansion pipeline to a Chrome instance driven
// over the DevTools protocol. Each watched tab gets a field context; the
// confirmation windows open as popup targets of the same browser.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"snipex/internal/config"
	"snipex/internal/field"
	"snipex/internal/logging"
	pageagent "snipex/internal/page"
	"snipex/internal/snippet"
)

// inputBinding is the page-side function the bridge reports input through.
const inputBinding = "snipexInput"

// Tab describes a watched tab.
type Tab struct {
	TargetID string    `json:"target_id"`
	URL      string    `json:"url"`
	Fields   int       `json:"fields"`
	Opened   time.Time `json:"opened"`
}

type tabRecord struct {
	meta   Tab
	page   *rod.Page
	agent  *pageagent.Agent
	cancel context.CancelFunc
}

// inputEvent is the payload of the input binding.
type inputEvent struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Manager owns the Chrome connection and the field contexts of its tabs.
type Manager struct {
	cfg        config.BrowserConfig
	navTimeout time.Duration
	hub        *pageagent.Hub
	coord      pageagent.Poster
	library    func() *snippet.Library
	agentOpts  []pageagent.Option

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	tabs       map[proto.TargetTargetID]*tabRecord
	destroyed  map[uint64]func(proto.TargetTargetID)
	nextSub    uint64
	stopWatch  context.CancelFunc

	wg sync.WaitGroup
}

// NewManager returns a manager whose tabs route through hub. library is
// consulted whenever a tab is opened.
func NewManager(cfg config.BrowserConfig, hub *pageagent.Hub, library func() *snippet.Library, opts ...pageagent.Option) *Manager {
	nav, err := time.ParseDuration(cfg.NavigationTimeout)
	if err != nil || nav <= 0 {
		nav = 30 * time.Second
	}
	return &Manager{
		cfg:        cfg,
		navTimeout: nav,
		hub:        hub,
		library:    library,
		agentOpts:  opts,
		tabs:       make(map[proto.TargetTargetID]*tabRecord),
		destroyed:  make(map[uint64]func(proto.TargetTargetID)),
	}
}

// Bind sets the coordinator field contexts post to. It must be called before
// the first OpenPage.
func (m *Manager) Bind(coord pageagent.Poster) {
	m.mu.Lock()
	m.coord = coord
	m.mu.Unlock()
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	controlURL, err := m.resolveControlURL()
	if err != nil {
		return err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(browser); err != nil {
		_ = browser.Close()
		return fmt.Errorf("enable target discovery: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL

	wctx, cancel := context.WithCancel(context.Background())
	m.stopWatch = cancel
	wait := browser.Context(wctx).EachEvent(func(e *proto.TargetTargetDestroyed) {
		m.targetDestroyed(e.TargetID)
	})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		wait()
	}()

	logging.Browser("Connected to Chrome at %s", controlURL)
	return nil
}

func (m *Manager) resolveControlURL() (string, error) {
	if m.cfg.DebuggerURL != "" {
		return m.cfg.DebuggerURL, nil
	}
	if len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err == nil {
			return url, nil
		}
		fallback := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		alt, altErr := fallback.Launch()
		if altErr != nil {
			return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
		}
		return alt, nil
	}
	url, err := launcher.New().Headless(m.cfg.Headless).Launch()
	if err != nil {
		return "", fmt.Errorf("no debugger_url and failed to launch: %w", err)
	}
	return url, nil
}

// Browser returns the connected browser, or nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// ControlURL returns the DevTools WebSocket URL.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// OnTargetDestroyed subscribes fn to target destruction, whatever closed the
// target.
func (m *Manager) OnTargetDestroyed(fn func(proto.TargetTargetID)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.destroyed[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.destroyed, id)
		m.mu.Unlock()
	}
}

func (m *Manager) targetDestroyed(id proto.TargetTargetID) {
	m.mu.Lock()
	rec, ok := m.tabs[id]
	delete(m.tabs, id)
	subs := make([]func(proto.TargetTargetID), 0, len(m.destroyed))
	for _, fn := range m.destroyed {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if ok {
		logging.BrowserDebug("tab %s closed", id)
		rec.cancel()
	}
	for _, fn := range subs {
		fn(id)
	}
}

// OpenPage opens url in a new watched tab. Typing a trigger into any field
// of the page starts an expansion.
func (m *Manager) OpenPage(ctx context.Context, url string) (Tab, error) {
	m.mu.RLock()
	b, coord := m.browser, m.coord
	m.mu.RUnlock()
	if b == nil {
		return Tab{}, errors.New("browser not started")
	}
	if coord == nil {
		return Tab{}, errors.New("browser manager is not bound to a coordinator")
	}

	p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return Tab{}, fmt.Errorf("create page: %w", err)
	}
	if err := m.instrument(p); err != nil {
		_ = p.Close()
		return Tab{}, err
	}

	reg := field.NewRegistry(string(p.TargetID), "main")
	agent := pageagent.New(reg, coord, m.library(), m.agentOpts...)

	tctx, cancel := context.WithCancel(context.Background())
	wait := p.Context(tctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == inputBinding {
			m.onInput(p, agent, e.Payload)
		}
	})

	rec := &tabRecord{
		meta:   Tab{TargetID: string(p.TargetID), URL: url, Opened: time.Now()},
		page:   p,
		agent:  agent,
		cancel: cancel,
	}
	m.mu.Lock()
	m.tabs[p.TargetID] = rec
	m.mu.Unlock()
	m.hub.Add(agent)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		wait()
	}()
	go func() {
		defer m.wg.Done()
		defer m.hub.Remove(agent.Key())
		if err := agent.Run(tctx); err != nil {
			logging.BrowserWarn("field context %s: %v", agent.Key(), err)
		}
	}()

	if url != "" {
		if err := p.Context(ctx).Timeout(m.navTimeout).Navigate(url); err != nil {
			logging.BrowserWarn("navigate %s: %v", url, err)
		} else if err := p.Context(ctx).Timeout(m.navTimeout).WaitLoad(); err != nil {
			logging.BrowserDebug("wait load %s: %v", url, err)
		}
	}

	logging.Browser("Watching %s in tab %s", url, p.TargetID)
	return rec.meta, nil
}

// instrument installs the bridge and the input binding. The bridge is
// re-installed on every navigation.
func (m *Manager) instrument(p *rod.Page) error {
	if err := (proto.RuntimeAddBinding{Name: inputBinding}).Call(p); err != nil {
		return fmt.Errorf("add input binding: %w", err)
	}
	if _, err := p.EvalOnNewDocument(bridgeJS); err != nil {
		return fmt.Errorf("install bridge: %w", err)
	}
	if _, err := p.Eval(`() => {` + bridgeJS + `}`); err != nil {
		return fmt.Errorf("run bridge: %w", err)
	}
	return nil
}

// onInput registers the reporting element on first sight and notifies the
// agent.
func (m *Manager) onInput(p *rod.Page, agent *pageagent.Agent, payload string) {
	var ev inputEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.ID == "" {
		logging.BrowserDebug("malformed input event %q", payload)
		return
	}
	reg := agent.Registry()
	if _, err := reg.Lookup(ev.ID); err != nil {
		reg.Register(ev.ID, NewField(p, reg.Ref(ev.ID)))
		logging.BrowserDebug("registered %s field %s", ev.Kind, ev.ID)
	}
	agent.Input(ev.ID)
}

// Tabs lists the watched tabs.
func (m *Manager) Tabs() []Tab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tab, 0, len(m.tabs))
	for _, rec := range m.tabs {
		t := rec.meta
		t.Fields = rec.agent.Registry().Len()
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Opened.Before(out[j].Opened) })
	return out
}

// Shutdown stops every field context and disconnects from Chrome. A
// launched browser is closed with it.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	browser := m.browser
	stop := m.stopWatch
	tabs := m.tabs
	m.browser = nil
	m.stopWatch = nil
	m.tabs = make(map[proto.TargetTargetID]*tabRecord)
	m.mu.Unlock()

	for _, rec := range tabs {
		rec.cancel()
	}
	if stop != nil {
		stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if browser == nil {
		return nil
	}
	if m.cfg.DebuggerURL != "" {
		for _, rec := range tabs {
			_ = rec.page.Close()
		}
		return nil
	}
	return browser.Close()
}

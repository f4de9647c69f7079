package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"snipex/internal/browser"
	"snipex/internal/config"
	"snipex/internal/logging"
	"snipex/internal/page"
	"snipex/internal/session"
	"snipex/internal/snippet"
	"snipex/internal/store"
	"snipex/internal/trigger"
)

// serveCmd runs the pipeline against a Chrome page
var serveCmd = &cobra.Command{
	Use:   "serve [url]",
	Short: "Expand triggers typed into a Chrome page",
	Long: `Launches (or connects to) Chrome, opens the page and watches every text
field in it. Typing a trigger expands it in place; snippets that need a choice
open a confirmation window as a popup.

The browser is taken from browser.debugger_url or browser.launch in the config.
Without a URL argument, browser.start_url is opened.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

// libraryCell holds the active snippet set shared by every field context.
type libraryCell struct {
	mu  sync.RWMutex
	lib *snippet.Library
}

func (c *libraryCell) Get() *snippet.Library {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lib
}

func (c *libraryCell) Set(lib *snippet.Library) {
	c.mu.Lock()
	c.lib = lib
	c.mu.Unlock()
}

// windowSizes converts the configured window sizes.
func windowSizes(cfg *config.Config) session.Option {
	return session.WithWindowSizes(
		session.Size{Width: cfg.Windows.Audience.Width, Height: cfg.Windows.Audience.Height},
		session.Size{Width: cfg.Windows.Variables.Width, Height: cfg.Windows.Variables.Height},
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	policy, err := trigger.ParsePolicy(cfg.Matcher.Policy)
	if err != nil {
		return err
	}

	kv, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer kv.Close()

	lib, err := store.LoadLibrary(ctx, kv)
	if err != nil {
		return err
	}
	cell := &libraryCell{lib: lib}
	logger.Info("Loaded snippets", zap.Int("count", lib.Len()))
	logging.Boot("serving %d snippets from %s store", lib.Len(), cfg.Store.Backend)

	hub := page.NewHub()
	mgr := browser.NewManager(cfg.Browser, hub, cell.Get, page.WithPolicy(policy))
	host := browser.NewWindowHost(mgr)
	coord := session.New(host, hub, windowSizes(cfg))
	host.Bind(coord)
	mgr.Bind(coord)

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.Shutdown(sctx); err != nil {
			logger.Warn("browser shutdown", zap.Error(err))
		}
	}()
	if err := host.Start(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := host.Stop(sctx); err != nil {
			logger.Warn("window host stop", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })

	if cfg.Store.Watch && cfg.Store.Backend == "sqlite" {
		reload := func(ctx context.Context) {
			next, err := store.LoadLibrary(ctx, kv)
			if err != nil {
				logger.Warn("reloading snippets", zap.Error(err))
				return
			}
			cell.Set(next)
			hub.SetLibrary(next)
			logger.Info("Reloaded snippets", zap.Int("count", next.Len()))
		}
		for _, p := range []string{cfg.Store.Path, cfg.Store.LocalPath} {
			if p == "" {
				continue
			}
			w, err := store.NewWatcher(config.ResolvePath(ws, p), reload)
			if err != nil {
				return fmt.Errorf("watch store: %w", err)
			}
			g.Go(func() error {
				if err := w.Start(gctx); err != nil {
					return fmt.Errorf("watch store: %w", err)
				}
				<-gctx.Done()
				w.Stop()
				return nil
			})
		}
	}

	url := cfg.Browser.StartURL
	if len(args) > 0 {
		url = args[0]
	}
	g.Go(func() error {
		tab, err := mgr.OpenPage(gctx, url)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (tab %s). Press Ctrl+C to stop.\n", tab.URL, tab.TargetID)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

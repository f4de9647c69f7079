package main

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"snipex/internal/confirm"
	"snipex/internal/field"
	"snipex/internal/page"
	"snipex/internal/session"
	"snipex/internal/snippet"
	"snipex/internal/store"
	"snipex/internal/trigger"
)

var (
	expandCaret int
	expandRich  bool
)

// expandCmd runs one expansion against an in-memory field
var expandCmd = &cobra.Command{
	Use:   "expand <text>",
	Short: "Expand the trigger at the end of text",
	Long: `Types text into an in-memory field and runs the full expansion pipeline on
it. Confirmation windows are shown in the terminal. The resulting field value
is printed; with --rich the field is a rich-text field and its markup is
printed.

Example:
  snipex expand "Hallo -mfg"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExpand,
}

func init() {
	expandCmd.Flags().IntVar(&expandCaret, "caret", -1, "Caret byte offset (default: end of text)")
	expandCmd.Flags().BoolVar(&expandRich, "rich", false, "Use a rich-text field")
}

// commandContext returns the command's context, or Background when it has
// none.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runExpand(cmd *cobra.Command, args []string) error {
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
	lib, err := store.LoadLibrary(commandContext(cmd), kv)
	if err != nil {
		return err
	}

	host := confirm.NewLocalHost(
		confirm.TerminalAudienceUI{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()},
		confirm.TerminalVariablesUI{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()},
	)
	out, err := expand(commandContext(cmd), host, lib, policy, windowSizes(cfg), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// expand types text into a fresh field, lets the pipeline settle and
// returns the field's final content.
func expand(ctx context.Context, host *confirm.LocalHost, lib *snippet.Library, policy trigger.Policy, sizes session.Option, text string) (string, error) {
	const element = "input"

	hub := page.NewHub()
	coord := session.New(host, hub, sizes)
	host.Bind(coord)
	reg := field.NewRegistry("cli", "main")
	agent := page.New(reg, coord, lib, page.WithPolicy(policy))
	hub.Add(agent)

	var (
		f      field.Field
		render func() (string, error)
	)
	if expandRich {
		r, err := field.NewRich(reg.Ref(element), html.EscapeString(text))
		if err != nil {
			return "", err
		}
		f = r
		render = func() (string, error) { return r.HTML(), nil }
	} else {
		flat := field.NewFlat(reg.Ref(element), text)
		f = flat
		render = func() (string, error) { return flat.Value(ctx) }
	}
	if expandCaret >= 0 {
		if err := f.SetCaret(ctx, expandCaret); err != nil {
			return "", err
		}
	}
	reg.Register(element, f)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return agent.Run(gctx) })

	agent.Input(element)
	settleErr := waitSettled(gctx, agent, reg, element)

	cancel()
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return "", err
	}
	host.Wait()
	if settleErr != nil {
		return "", settleErr
	}
	return render()
}

// waitSettled returns once element carries no open session.
func waitSettled(ctx context.Context, agent *page.Agent, reg *field.Registry, element string) error {
	for {
		if err := agent.Flush(ctx); err != nil {
			return err
		}
		if !reg.Marked(element) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

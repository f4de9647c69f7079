package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"snipex/internal/snippet"
	"snipex/internal/store"
)

var (
	triggerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	categoryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
)

var (
	listCategory string

	addInternal      string
	addExternal      string
	addDefault       string
	addRequireChoice bool
	addCategory      string

	importDryRun bool
	importMerge  bool

	exportFormat string
)

// snippetsCmd groups snippet management
var snippetsCmd = &cobra.Command{
	Use:     "snippets",
	Aliases: []string{"snippet", "s"},
	Short:   "Manage stored snippets",
}

var snippetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snippets, grouped by category",
	Args:  cobra.NoArgs,
	RunE:  snippetsList,
}

var snippetsShowCmd = &cobra.Command{
	Use:   "show <trigger>",
	Short: "Show a snippet's variants",
	Args:  cobra.ExactArgs(1),
	RunE:  snippetsShow,
}

var snippetsAddCmd = &cobra.Command{
	Use:   "add <trigger>",
	Short: "Add or replace a snippet",
	Long: `Adds a snippet, or replaces the one stored under the trigger.
A missing variant falls back to the other one.

Example:
  snipex snippets add -mfg --internal "Liebe Grüße" --external "Mit freundlichen Grüßen" --default external`,
	Args: cobra.ExactArgs(1),
	RunE: snippetsAdd,
}

var snippetsRmCmd = &cobra.Command{
	Use:   "rm <trigger>...",
	Short: "Remove snippets",
	Args:  cobra.MinimumNArgs(1),
	RunE:  snippetsRm,
}

var snippetsSearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search triggers and variant text",
	Args:  cobra.ExactArgs(1),
	RunE:  snippetsSearch,
}

var snippetsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import snippets from a JSON, YAML or TOML file",
	Long: `Replaces the stored snippets and categories with the file's content, or
merges them with --merge. The format follows the file extension (.json, .yaml,
.yml, .toml). With --dry-run the changes are printed and nothing is saved.`,
	Args: cobra.ExactArgs(1),
	RunE: snippetsImport,
}

var snippetsExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export snippets to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE:  snippetsExport,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories",
	Args:  cobra.NoArgs,
	RunE:  categoriesList,
}

var categoriesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a category",
	Args:  cobra.ExactArgs(1),
	RunE:  categoriesAdd,
}

var categoriesRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a category and every snippet in it",
	Args:  cobra.ExactArgs(1),
	RunE:  categoriesRm,
}

func init() {
	snippetsListCmd.Flags().StringVar(&listCategory, "category", "", "Only list this category")

	snippetsAddCmd.Flags().StringVar(&addInternal, "internal", "", "Informal variant")
	snippetsAddCmd.Flags().StringVar(&addExternal, "external", "", "Formal variant")
	snippetsAddCmd.Flags().StringVar(&addDefault, "default", "internal", "Default audience (internal, external)")
	snippetsAddCmd.Flags().BoolVar(&addRequireChoice, "require-choice", false, "Always ask for the audience")
	snippetsAddCmd.Flags().StringVar(&addCategory, "category", snippet.DefaultCategory, "Category")

	snippetsImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show changes without saving")
	snippetsImportCmd.Flags().BoolVar(&importMerge, "merge", false, "Merge into the stored snippets instead of replacing them")

	snippetsExportCmd.Flags().StringVar(&exportFormat, "format", "", "Output format (json, yaml, toml; default: from file extension)")

	categoriesCmd.AddCommand(categoriesAddCmd, categoriesRmCmd)
	snippetsCmd.AddCommand(snippetsListCmd, snippetsShowCmd, snippetsAddCmd, snippetsRmCmd,
		snippetsSearchCmd, snippetsImportCmd, snippetsExportCmd, categoriesCmd)
}

// withLibrary loads the stored library, runs fn and saves the library when fn
// reports a change.
func withLibrary(cmd *cobra.Command, fn func(ctx context.Context, lib *snippet.Library) (changed bool, err error)) error {
	ctx := commandContext(cmd)
	cfg, ws, err := loadConfig()
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
	changed, err := fn(ctx, lib)
	if err != nil || !changed {
		return err
	}
	if err := store.SaveLibrary(ctx, kv, lib); err != nil {
		return err
	}
	if mode, err := kv.Mode(ctx); err == nil && mode == store.ModeLocal {
		logger.Warn("sync quota exceeded; snippets are stored locally", zap.String("mode", mode))
	}
	return nil
}

func writeSnippetLine(w io.Writer, s snippet.Snippet) {
	text := s.Variants.Get(s.DefaultAudience)
	text = strings.ReplaceAll(text, "\n", " ⏎ ")
	if len([]rune(text)) > 60 {
		text = string([]rune(text)[:57]) + "..."
	}
	fmt.Fprintf(w, "  %s  %s\n", triggerStyle.Render(s.Trigger), text)
}

func snippetsList(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		out := cmd.OutOrStdout()
		for _, c := range lib.Categories() {
			if listCategory != "" && c != listCategory {
				continue
			}
			items := lib.ByCategory(c)
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render(c), categoryStyle.Render(fmt.Sprintf("(%d)", len(items))))
			for _, s := range items {
				writeSnippetLine(out, s)
			}
		}
		return false, nil
	})
}

// snippetMarkdown renders s as a markdown document.
func snippetMarkdown(s snippet.Snippet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Trigger)
	fmt.Fprintf(&b, "Category: %s · default audience: %s · always ask: %t\n\n", s.Category, s.DefaultAudience, s.RequireChoice)
	for _, a := range []snippet.Audience{snippet.Internal, snippet.External} {
		title := "Internal"
		if a == snippet.External {
			title = "External"
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		text := s.Variants.Get(a)
		if text == "" {
			text = "_(empty)_"
		}
		// Hard line breaks keep the snippet's own lines.
		fmt.Fprintf(&b, "%s\n\n", strings.ReplaceAll(text, "\n", "  \n"))
	}
	return b.String()
}

func snippetsShow(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		s, ok := lib.Lookup(args[0])
		if !ok {
			return false, fmt.Errorf("snippet %q not found", args[0])
		}
		md := snippetMarkdown(s)
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err == nil {
			if rendered, rerr := renderer.Render(md); rerr == nil {
				md = rendered
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), md)
		return false, nil
	})
}

func snippetsAdd(cmd *cobra.Command, args []string) error {
	def, err := snippet.ParseAudience(addDefault)
	if err != nil {
		return err
	}
	v := snippet.Variants{Internal: addInternal, External: addExternal}
	if v.Empty() {
		return fmt.Errorf("at least one of --internal or --external is required")
	}
	if v.Internal == "" {
		v.Internal = v.External
	}
	if v.External == "" {
		v.External = v.Internal
	}
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		_, existed := lib.Lookup(args[0])
		if err := lib.Put(snippet.Snippet{
			Trigger:         args[0],
			Variants:        v,
			DefaultAudience: def,
			RequireChoice:   addRequireChoice,
			Category:        addCategory,
		}); err != nil {
			return false, err
		}
		verb := "Added"
		if existed {
			verb = "Updated"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
		return true, nil
	})
}

func snippetsRm(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		changed := false
		for _, t := range args {
			if !lib.Delete(t) {
				fmt.Fprintf(cmd.ErrOrStderr(), "snippet %q not found\n", t)
				continue
			}
			changed = true
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", t)
		}
		return changed, nil
	})
}

func snippetsSearch(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		found := lib.Search(args[0])
		if len(found) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No snippets found.")
			return false, nil
		}
		for _, s := range found {
			writeSnippetLine(cmd.OutOrStdout(), s)
		}
		return false, nil
	})
}

// textDiff renders the change from old to new inline: [-removed-]{+added+}.
func textDiff(old, new string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(old, new, false))
	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+" + d.Text + "+}")
		}
	}
	return b.String()
}

// writeImportPlan prints what replacing (or merging into) cur with next
// would change.
func writeImportPlan(w io.Writer, cur, next *snippet.Library, merge bool) {
	added, changed, removed := 0, 0, 0
	for _, s := range next.All() {
		old, ok := cur.Lookup(s.Trigger)
		if !ok {
			added++
			fmt.Fprintf(w, "+ %s\n", s.Trigger)
			continue
		}
		if old == s {
			continue
		}
		changed++
		fmt.Fprintf(w, "~ %s\n", s.Trigger)
		if old.Variants.Internal != s.Variants.Internal {
			fmt.Fprintf(w, "    internal: %s\n", textDiff(old.Variants.Internal, s.Variants.Internal))
		}
		if old.Variants.External != s.Variants.External {
			fmt.Fprintf(w, "    external: %s\n", textDiff(old.Variants.External, s.Variants.External))
		}
		if old.Category != s.Category {
			fmt.Fprintf(w, "    category: %s -> %s\n", old.Category, s.Category)
		}
		if old.DefaultAudience != s.DefaultAudience || old.RequireChoice != s.RequireChoice {
			fmt.Fprintf(w, "    default: %s (ask: %t) -> %s (ask: %t)\n", old.DefaultAudience, old.RequireChoice, s.DefaultAudience, s.RequireChoice)
		}
	}
	if !merge {
		for _, s := range cur.All() {
			if _, ok := next.Lookup(s.Trigger); !ok {
				removed++
				fmt.Fprintf(w, "- %s\n", s.Trigger)
			}
		}
	}
	fmt.Fprintf(w, "%d added, %d changed, %d removed\n", added, changed, removed)
}

func snippetsImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	incoming, err := snippet.Decode(bytes.NewReader(data), snippet.FormatFromPath(args[0]))
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		writeImportPlan(cmd.OutOrStdout(), lib, incoming, importMerge)
		if importDryRun {
			return false, nil
		}
		if !importMerge {
			for _, s := range lib.All() {
				lib.Delete(s.Trigger)
			}
			for _, c := range lib.Categories() {
				if c == snippet.DefaultCategory {
					continue
				}
				if _, err := lib.DeleteCategory(c); err != nil {
					return false, err
				}
			}
		}
		for _, c := range incoming.Categories() {
			lib.AddCategory(c)
		}
		for _, s := range incoming.All() {
			if err := lib.Put(s); err != nil {
				return false, err
			}
		}
		logger.Info("Imported snippets", zap.String("file", args[0]), zap.Int("count", incoming.Len()))
		return true, nil
	})
}

func snippetsExport(cmd *cobra.Command, args []string) error {
	format := snippet.Format(exportFormat)
	if format == "" {
		format = snippet.FormatJSON
		if len(args) == 1 {
			format = snippet.FormatFromPath(args[0])
		}
	}
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		var buf bytes.Buffer
		if err := snippet.Encode(&buf, lib, format); err != nil {
			return false, err
		}
		if len(args) == 0 {
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return false, err
		}
		if err := os.WriteFile(args[0], buf.Bytes(), 0644); err != nil {
			return false, fmt.Errorf("write %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d snippets to %s\n", lib.Len(), args[0])
		return false, nil
	})
}

func categoriesList(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		for _, c := range lib.Categories() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c, categoryStyle.Render(fmt.Sprintf("(%d)", len(lib.ByCategory(c)))))
		}
		return false, nil
	})
}

func categoriesAdd(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		if !lib.AddCategory(args[0]) {
			return false, fmt.Errorf("category %q already exists", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added category %s\n", args[0])
		return true, nil
	})
}

func categoriesRm(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, lib *snippet.Library) (bool, error) {
		removed, err := lib.DeleteCategory(args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed category %s and %d snippets\n", args[0], len(removed))
		return true, nil
	})
}

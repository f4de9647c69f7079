// Command snipex expands typed triggers into snippet text, either in a live
// Chrome page or against an in-memory field from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"snipex/internal/config"
	"snipex/internal/logging"
	"snipex/internal/store"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "snipex",
	Short: "snipex - trigger based text expansion",
	Long: `snipex replaces short triggers such as "-mfg" with stored snippet text.

Snippets carry an informal (internal) and a formal (external) variant and may
contain placeholders like {{Name}}, **Name** or *Name*. When a snippet needs a
choice, a confirmation window asks for the audience or the placeholder values
before the text is inserted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: auto-detected)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.snipex/config.yaml)")

	rootCmd.AddCommand(serveCmd, expandCmd, snippetsCmd, configCmd)
}

// resolveWorkspace returns the --workspace flag or the detected root.
func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	return config.FindWorkspaceRoot()
}

// loadConfig loads and validates the configuration and starts category
// logging for the workspace.
func loadConfig() (*config.Config, string, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, "", fmt.Errorf("resolve workspace: %w", err)
	}
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath(ws)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	if err := logging.Configure(ws, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		logger.Warn("category logging disabled", zap.Error(err))
	} else if err := logging.InitAudit(); err != nil {
		logging.BootWarn("audit log disabled: %v", err)
	}
	logger.Debug("configuration loaded", zap.String("workspace", ws), zap.String("config", path))
	logging.BootDebug("configuration loaded from %s", path)
	return cfg, ws, nil
}

// openStore opens the configured snippet store.
func openStore(cfg *config.Config, ws string) (*store.Fallback, error) {
	kv, err := store.Open(cfg.Store, ws)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return kv, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

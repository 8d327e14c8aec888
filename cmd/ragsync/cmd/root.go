// Package cmd provides the CLI commands for ragsync.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragsync/internal/app"
	"ragsync/internal/config"
	"ragsync/internal/logging"
	"ragsync/internal/reconcile"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool

	// appOptions lets tests swap components built from configuration.
	appOptions []app.Option

	cfg     *config.AppConfig
	logger  *slog.Logger
	cleanup func()
}

// NewRootCmd creates the root command for the ragsync CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&globalOptions{})
}

func newRootCmd(g *globalOptions) *cobra.Command {
	var run reconcile.RunOptions

	cmd := &cobra.Command{
		Use:   "ragsync",
		Short: "Keep a vector index in sync with a folder of PDFs and a list of URLs",
		Long: `ragsync incrementally reconciles a vector index with local PDF files and
web pages listed in a URL file. New and changed files are re-embedded, removed
sources are cleaned up, and indexed content can be queried over HTTP or in a
terminal UI.

  ragsync --sync              add new and changed sources
  ragsync --cleanup --sync    remove stale sources, then sync
  ragsync --delete FILE|URL   remove one source and exit`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if run.Delete == "" && !run.Cleanup && !run.Sync {
				return cmd.Help()
			}
			return runReconcile(cmd, g, run)
		},
	}
	cmd.SetVersionTemplate("ragsync version {{.Version}}\n")

	cmd.Flags().BoolVar(&run.Sync, "sync", false, "Sync new and updated documents")
	cmd.Flags().BoolVar(&run.Cleanup, "cleanup", false, "Remove outdated documents from index")
	cmd.Flags().StringVar(&run.Delete, "delete", "", "Delete a specific PDF file or URL from the index")

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to YAML config file (default ./ragsync.yaml or ~/.config/ragsync/config.yaml)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return g.setup(cmd)
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		if g.cleanup != nil {
			g.cleanup()
			g.cleanup = nil
		}
		return nil
	}

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newAskCmd(g))
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads .env and the configuration, then installs the logger.
func (g *globalOptions) setup(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	if err := config.LoadEnv(); err != nil {
		return err
	}
	var (
		cfg *config.AppConfig
		err error
	)
	if g.configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(g.configPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Logging.Level
	if g.debug {
		level = "debug"
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:    level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.File,
		Output:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	g.cfg, g.logger, g.cleanup = cfg, logger, cleanup
	return nil
}

func (g *globalOptions) newApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, g.cfg, g.logger, g.appOptions...)
}

func runReconcile(cmd *cobra.Command, g *globalOptions, opts reconcile.RunOptions) error {
	ctx := cmd.Context()
	a, err := g.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, runErr := a.RunLocked(ctx, opts)
	if report != nil {
		renderReport(cmd.OutOrStdout(), report)
	}
	return runErr
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

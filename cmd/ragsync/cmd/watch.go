package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"ragsync/internal/reconcile"
	"ragsync/internal/watch"
)

func newWatchCmd(g *globalOptions) *cobra.Command {
	var skipInitial bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Clean up and sync whenever the PDF folder or URL file changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := reconcile.RunOptions{Cleanup: true, Sync: true}
			reconcileOnce := func(ctx context.Context) error {
				report, err := a.RunLocked(ctx, opts)
				if report != nil {
					renderReport(cmd.OutOrStdout(), report)
				}
				return err
			}
			if !skipInitial {
				if err := reconcileOnce(ctx); err != nil {
					g.logger.Error("initial reconcile failed", slog.String("error", err.Error()))
				}
			}

			w, err := watch.New(watch.Options{
				Dir:      g.cfg.Sources.PDFDir,
				Pattern:  g.cfg.Sources.Pattern,
				URLsFile: g.cfg.Sources.URLsFile,
				Debounce: time.Duration(g.cfg.Sync.WatchDebounceMS) * time.Millisecond,
			}, g.logger.With("component", "watch"))
			if err != nil {
				return err
			}
			return w.Run(ctx, func(ctx context.Context, paths []string) error {
				g.logger.Info("sources changed", slog.Int("paths", len(paths)))
				return reconcileOnce(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "Do not reconcile before the first change")
	return cmd
}

package cmd

import (
	"github.com/spf13/cobra"

	"ragsync/internal/server"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer questions over HTTP",
		Long: `Serve POST /query with body {"question": "..."} and respond with
{"answer": "...", "document": [sources]}. GET /healthz reports liveness.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = g.cfg.Server.Addr
			}
			return server.New(addr, a.Query, g.logger.With("component", "server")).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :3000)")
	return cmd
}

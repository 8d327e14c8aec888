package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ragsync/internal/tui"
)

func newAskCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question, or start the interactive question UI",
		Long: `With a question argument, print one answer and the documents it was drawn
from. Without arguments, open an interactive terminal UI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				header := fmt.Sprintf("index: %s  embedder: %s", g.cfg.VectorStore.Type, a.Embedder.Name())
				_, err := tea.NewProgram(tui.New(ctx, a.Query, header), tea.WithContext(ctx)).Run()
				return err
			}

			ans, err := a.Query.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return json.NewEncoder(out).Encode(ans)
			}
			fmt.Fprintln(out, ans.Answer)
			if len(ans.Documents) > 0 {
				fmt.Fprintf(out, "\nSources: %s\n", strings.Join(ans.Documents, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the answer as JSON")
	return cmd
}

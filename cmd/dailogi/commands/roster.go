package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/internal/roster"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "List characters and language models",
	Long: `List the characters and language models available to your session.

Use the ids with 'dailogi scene --with CHARACTER:LLM'.

Examples:
  dailogi roster
  dailogi roster --json | jq '.llms[].name'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, ctx := newBackend(cmd.Context())
		rs, err := roster.NewClient(b, newLogger()).Load(ctx)
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(&model.RosterResponse{Characters: rs.Characters(), LLMs: rs.LLMs()})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHARACTER\tNAME\tGLOBAL")
		for _, c := range rs.Characters() {
			fmt.Fprintf(w, "%d\t%s\t%t\n", c.ID, c.Name, c.IsGlobal)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "LLM\tNAME\tIDENTIFIER")
		for _, l := range rs.LLMs() {
			fmt.Fprintf(w, "%d\t%s\t%s\n", l.ID, l.Name, l.OpenRouterIdentifier)
		}
		return w.Flush()
	},
}

package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newSearchCmd creates the `vaultrag search` command.
func newSearchCmd() *cobra.Command {
	var (
		topK     int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show ranked matches with their scores",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			sess, err := a.login(cmd)
			if err != nil {
				return err
			}
			defer sess.Clear()
			opts := retrieveOptions(cmd, topK, minScore)

			matches, err := a.rag.Search(cmd.Context(), sess, strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("No matches.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tCHUNK\tTEXT")
			for _, m := range matches {
				fmt.Fprintf(tw, "%.3f\t%s\t%s\n", m.Score, m.ChunkID, snippet(m.Text, 80))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of matches (default from config)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "similarity threshold (default from config, negative disables)")
	return cmd
}

// snippet flattens whitespace and cuts s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newDocsCmd creates the `vaultrag docs` command group.
func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage ingested documents",
	}
	cmd.AddCommand(newDocsListCmd(), newDocsRmCmd())
	return cmd
}

func newDocsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List ingested documents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			sess, err := a.login(cmd)
			if err != nil {
				return err
			}
			defer sess.Clear()

			docs, err := a.rag.Documents(cmd.Context(), sess)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Println("No documents.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCHUNKS\tADDED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.ID, d.Name, d.Chunks, d.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newDocsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete documents and their chunks",
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

			for _, id := range args {
				if err := a.rag.DeleteDocument(cmd.Context(), sess, id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Printf("Deleted %s\n", id)
			}
			return nil
		},
	}
}

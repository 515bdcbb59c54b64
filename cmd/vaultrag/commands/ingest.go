package commands

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newIngestCmd creates the `vaultrag ingest` command.
func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add documents to your store",
		Long: `Extracts, chunks, embeds and encrypts each file. PDF, DOCX, TXT and
Markdown are supported; other files are skipped.

Examples:
  vaultrag -u alice ingest contract.pdf
  vaultrag -u alice ingest notes/*.md`,
		Args: cobra.MinimumNArgs(1),
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

			if err := a.embedder.Bootstrap(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed []error
			for _, path := range args {
				name := filepath.Base(path)
				if !a.extractor.Supports(path) {
					fmt.Fprintf(out, "%s: unsupported file type, skipped\n", name)
					continue
				}
				n, err := a.rag.Ingest(cmd.Context(), sess, path)
				switch {
				case err != nil:
					fmt.Fprintf(out, "%s: failed: %v\n", name, err)
					failed = append(failed, fmt.Errorf("%s: %w", name, err))
				case n == 0:
					fmt.Fprintf(out, "%s: no text found\n", name)
				default:
					fmt.Fprintf(out, "%s: %d chunks\n", name, n)
				}
				if cmd.Context().Err() != nil {
					break
				}
			}
			return errors.Join(failed...)
		},
	}
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/rag"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
)

// newAskCmd creates the `vaultrag ask` command.
func newAskCmd() *cobra.Command {
	var (
		topK     int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Retrieve the context most relevant to a question",
		Long: `Prints the stored passages most similar to the question, joined by blank
lines, ready to ground a language model. Without a question an interactive
prompt is opened.

Examples:
  vaultrag -u alice ask "what did the auditor recommend?"
  vaultrag -u alice ask`,
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

			if len(args) > 0 {
				return answer(cmd.Context(), cmd.OutOrStdout(), a, sess, strings.Join(args, " "), opts)
			}
			return askLoop(cmd.Context(), a, sess, opts)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of passages (default from config)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "similarity threshold (default from config, negative disables)")
	return cmd
}

func answer(ctx context.Context, w io.Writer, a *app, sess *session.Session, query string, opts rag.RetrieveOptions) error {
	text, ok, err := a.rag.Retrieve(ctx, sess, query, opts)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, "No relevant context found.")
		return nil
	}
	fmt.Fprintln(w, text)
	return nil
}

func askLoop(ctx context.Context, a *app, sess *session.Session, opts rag.RetrieveOptions) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ask> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "Logged in as %s. Empty line or Ctrl-D to quit.\n", sess.Username())
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		query := strings.TrimSpace(line)
		if query == "" || query == "exit" || query == "quit" {
			return nil
		}
		if err := answer(ctx, rl.Stdout(), a, sess, query, opts); err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
		fmt.Fprintln(rl.Stdout())
	}
	return ctx.Err()
}

package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/gateway"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/inbox"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
)

// newServeCmd creates the `vaultrag serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP gateway and inbox importer",
		Long: `Starts the HTTP API on the configured address. When --user is given the
user is logged in at startup; otherwise log in through POST /api/login.
If inbox.dir is configured, files dropped there are ingested on schedule.

Examples:
  vaultrag serve
  vaultrag -u alice serve --address 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("address", "", "listen address (overrides gateway.address)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, appOptions{daemon: true})
	if err != nil {
		return err
	}
	logger := a.logger
	ctx := cmd.Context()

	sessions := session.NewHolder()
	user, _ := cmd.Flags().GetString("user")
	if user != "" || os.Getenv(envUser) != "" {
		sess, err := a.login(cmd)
		if err != nil {
			return err
		}
		sessions.Set(sess)
		logger.Info("user logged in", "user", sess.Username())
	}
	defer sessions.Clear()

	// A missing model is not fatal here: the loader retries on first use.
	if err := a.embedder.Bootstrap(ctx); err != nil {
		logger.Warn("embedder not ready", "provider", a.cfg.Embedding.Provider, "error", err)
	}

	gwCfg := a.cfg.Gateway
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		gwCfg.Address = addr
	}
	gw := gateway.New(gwCfg, a.rag, a.auth, sessions, logger)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	var ib *inbox.Inbox
	if a.cfg.Inbox.Dir != "" {
		ib = inbox.New(a.cfg.Inbox, a.rag, sessions, a.extractor.Supports, logger)
		if err := ib.Start(ctx); err != nil {
			logger.Error("failed to start inbox", "error", err)
			ib = nil
		}
	}

	logger.Info("vaultrag running. Press Ctrl+C to stop.", "address", gwCfg.Address)
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var g errgroup.Group
	if ib != nil {
		g.Go(func() error {
			ib.Stop()
			return nil
		})
	}
	g.Go(func() error { return gw.Stop(shutdownCtx) })
	if err := g.Wait(); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
		return nil
	}
	logger.Info("shutdown complete")
	return nil
}

package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/auth"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/config"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/embedding"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/extract"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/rag"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/tenant"
)

// app bundles what every command needs once the config is loaded.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	router    *tenant.Router
	auth      *auth.Store
	embedder  *embedding.Handle
	extractor *extract.Registry
	rag       *rag.Service
}

type appOptions struct {
	// daemon selects the configured log level and stdout, as for serve.
	daemon bool
}

func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(cfg.Logging, verbose, opts.daemon)
	slog.SetDefault(logger)

	router := tenant.NewRouter(cfg.DatabasesDir())
	authPath, err := router.AuthStorePath()
	if err != nil {
		return nil, err
	}

	handle := embedding.NewHandle(embedding.NewLoader(cfg.Embedding, logger))
	extractor := extract.Default()

	return &app{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		auth:      auth.NewStore(authPath, logger),
		embedder:  handle,
		extractor: extractor,
		rag:       rag.New(router, extractor, handle, cfg.RAG, logger),
	}, nil
}

// newLogger builds the slog handler. One-shot commands log warnings to
// stderr so stdout stays clean for results.
func newLogger(cfg config.LoggingConfig, verbose, daemon bool) *slog.Logger {
	level := slog.LevelWarn
	var out io.Writer = os.Stderr
	if daemon {
		out = os.Stdout
		level = parseLevel(cfg.Level)
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// login resolves the username and password and opens a session.
func (a *app) login(cmd *cobra.Command) (*session.Session, error) {
	username, err := resolveUsername(cmd)
	if err != nil {
		return nil, err
	}
	password, err := resolvePassword(username, a.logger)
	if err != nil {
		return nil, err
	}
	sess, err := a.auth.Login(cmd.Context(), username, password)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return sess, nil
}

// retrieveOptions builds ranking options from the --top-k and --min-score
// flags. An unset --min-score keeps the configured threshold.
func retrieveOptions(cmd *cobra.Command, topK int, minScore float64) rag.RetrieveOptions {
	opts := rag.RetrieveOptions{TopK: topK}
	if cmd.Flags().Changed("min-score") {
		opts.MinScore = rag.Score(minScore)
	}
	return opts
}

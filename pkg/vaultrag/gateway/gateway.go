// Package gateway exposes ingestion and retrieval over a local HTTP API.
//
// The gateway serves one logged-in user at a time. Every RAG call runs
// inside session.Holder.Do, so a login or logout waits for in-flight
// requests to finish.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/rag"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
)

// Config holds HTTP gateway settings.
type Config struct {
	// Address is the listen address. Defaults to 127.0.0.1:8086.
	Address string `yaml:"address"`
	// AuthToken, when set, is required as "Authorization: Bearer <token>"
	// on every route except /health.
	AuthToken string `yaml:"auth_token"`
	// MaxUploadBytes caps multipart document uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// DefaultConfig returns loopback-only defaults.
func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:8086",
		MaxUploadBytes: 32 << 20,
	}
}

// Authenticator checks credentials and derives a session.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*session.Session, error)
}

// Gateway is the HTTP API server.
type Gateway struct {
	config    Config
	rag       *rag.Service
	auth      Authenticator
	sessions  *session.Holder
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a gateway.
func New(cfg Config, svc *rag.Service, authn Authenticator, sessions *session.Holder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	return &Gateway{
		config:    cfg,
		rag:       svc,
		auth:      authn,
		sessions:  sessions,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
}

// Handler builds the router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(metricsMiddleware)
	r.Use(g.authMiddleware)

	r.Get("/health", g.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", g.handleLogin)
		r.Post("/logout", g.handleLogout)
		r.Get("/documents", g.handleListDocuments)
		r.Post("/documents", g.handleIngest)
		r.Delete("/documents/{id}", g.handleDeleteDocument)
		r.Post("/retrieve", g.handleRetrieve)
	})
	return r
}

// Start listens in the background.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Address)
	if err != nil {
		return err
	}
	g.startedAt = time.Now()
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if g.config.AuthToken == "" && !isLoopback(g.config.Address) {
		g.logger.Warn("gateway has no auth token and is bound to a non-loopback address",
			"address", g.config.Address)
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping")
	return g.server.Shutdown(ctx)
}

func isLoopback(address string) bool {
	host, _, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

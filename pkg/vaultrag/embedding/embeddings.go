// Package embedding turns text into vectors for similarity search.
//
// Providers return one or more vectors per input (some local models emit one
// vector per token). Reduce pools them into the single fixed-length vector
// that is stored per chunk. The provider itself is loaded lazily, exactly once
// per process, through a Handle.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed returns one or more vectors for text.
	Embed(ctx context.Context, text string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Model returns the model name.
	Model() string
}

var (
	// ErrNoModel is returned when no embedding provider or model is configured.
	ErrNoModel = errors.New("embedding: no embedding model selected")

	// ErrModelMissing is returned when the configured model file does not exist.
	ErrModelMissing = errors.New("embedding: model file not found")

	// ErrEmptyEmbedding is returned when a provider answers with no vectors.
	ErrEmptyEmbedding = errors.New("embedding: provider returned no vectors")
)

// Config configures the embedding provider.
type Config struct {
	// Provider is "openai", "llama", "hashing" or "none".
	Provider string `yaml:"provider"`

	// Model is the remote model name (e.g. "text-embedding-3-small").
	Model string `yaml:"model"`

	// BaseURL is the API base URL. Empty uses the provider default.
	BaseURL string `yaml:"base_url"`

	// APIKey for remote providers. Falls back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// ModelPath is the local model file served by the llama provider.
	ModelPath string `yaml:"model_path"`

	// Dimensions requests a vector size where the provider supports it.
	Dimensions int `yaml:"dimensions"`

	// Timeout bounds a single provider request.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the defaults: no provider selected.
func DefaultConfig() Config {
	return Config{
		Provider: "none",
		Model:    "text-embedding-3-small",
		Timeout:  60 * time.Second,
	}
}

// Loader constructs an Embedder. It is called at most once per Handle
// unless it fails.
type Loader func(ctx context.Context) (Embedder, error)

// NewLoader returns a Loader for cfg. Configuration problems surface when the
// loader runs, so a process can start without a model and fail the first
// ingest or retrieve call with ErrNoModel or ErrModelMissing.
func NewLoader(cfg Config, logger *slog.Logger) Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (Embedder, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := newProvider(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("embedding provider loaded", "provider", e.Name(), "model", e.Model())
		return NewInstrumented(e, logger), nil
	}
}

// newProvider creates a provider by name.
func newProvider(cfg Config) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		apiKey := resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY")
		if apiKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: openai provider needs api_key or OPENAI_API_KEY", ErrNoModel)
		}
		cfg.APIKey = apiKey
		return NewOpenAIEmbedder(cfg), nil
	case "llama", "local":
		if strings.TrimSpace(cfg.ModelPath) == "" {
			return nil, fmt.Errorf("%w: llama provider needs model_path", ErrNoModel)
		}
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrModelMissing, cfg.ModelPath)
		}
		return NewLlamaEmbedder(cfg), nil
	case "hashing":
		return NewHashingEmbedder(cfg.Dimensions), nil
	default:
		return nil, ErrNoModel
	}
}

// resolveAPIKey returns the configured key, falling back to the given env var.
func resolveAPIKey(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}

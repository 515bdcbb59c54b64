// Package config loads vaultrag settings from YAML with environment
// variable expansion and .env support.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/embedding"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/gateway"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/inbox"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/rag"
)

// Config is the root configuration.
type Config struct {
	// DataDir holds the databases directory. Defaults to ~/.vaultrag.
	DataDir string `yaml:"data_dir"`

	Logging   LoggingConfig    `yaml:"logging"`
	Embedding embedding.Config `yaml:"embedding"`
	RAG       rag.Config       `yaml:"rag"`
	Gateway   gateway.Config   `yaml:"gateway"`
	Inbox     inbox.Config     `yaml:"inbox"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration usable without any file.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   defaultDataDir(),
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Embedding: embedding.DefaultConfig(),
		RAG:       rag.DefaultConfig(),
		Gateway:   gateway.DefaultConfig(),
		Inbox:     inbox.DefaultConfig(),
	}
}

// DatabasesDir is the root handed to the tenant router.
func (c *Config) DatabasesDir() string {
	return filepath.Join(c.DataDir, "databases")
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if c.RAG.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("rag.chunk_size must not be negative, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap must not be negative, got %d", c.RAG.ChunkOverlap))
	}
	if c.RAG.MinScore < -1 || c.RAG.MinScore > 1 {
		errs = append(errs, fmt.Errorf("rag.min_score must be within [-1, 1], got %v", c.RAG.MinScore))
	}
	if c.Embedding.Timeout < 0 {
		errs = append(errs, fmt.Errorf("embedding.timeout must not be negative, got %s", c.Embedding.Timeout))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if c.Inbox.Dir != "" && c.Inbox.Schedule == "" {
		errs = append(errs, errors.New("inbox.schedule is required when inbox.dir is set"))
	}
	return errors.Join(errs...)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vaultrag"
	}
	return filepath.Join(home, ".vaultrag")
}

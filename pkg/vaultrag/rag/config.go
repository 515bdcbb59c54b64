package rag

import (
	"math"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/chunker"
)

const (
	DefaultTopK     = 3
	DefaultMinScore = 0.2
)

// Config holds ingestion and retrieval tunables.
type Config struct {
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	TopK         int     `yaml:"top_k"`
	// MinScore is the cosine threshold. Zero selects DefaultMinScore and a
	// negative value disables the threshold.
	MinScore float64 `yaml:"min_score"`
}

// DefaultConfig returns the default chunking and ranking parameters.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    chunker.DefaultSize,
		ChunkOverlap: chunker.DefaultOverlap,
		TopK:         DefaultTopK,
		MinScore:     DefaultMinScore,
	}
}

// RetrieveOptions tunes one retrieval. A zero TopK and a nil MinScore fall
// back to the service configuration. A negative MinScore disables the
// threshold so every chunk is ranked.
type RetrieveOptions struct {
	TopK     int
	MinScore *float64
}

// Score returns a MinScore option pointing at v.
func Score(v float64) *float64 { return &v }

type ranking struct {
	topK     int
	minScore float64
}

func (c Config) resolve(opts RetrieveOptions) ranking {
	r := ranking{topK: opts.TopK, minScore: c.MinScore}
	if r.topK <= 0 {
		r.topK = c.TopK
		if r.topK <= 0 {
			r.topK = DefaultTopK
		}
	}
	if opts.MinScore != nil {
		r.minScore = *opts.MinScore
	}
	if r.minScore < 0 {
		r.minScore = math.Inf(-1)
	}
	return r
}

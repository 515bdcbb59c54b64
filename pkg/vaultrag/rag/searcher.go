package rag

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/embedding"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/ragstore"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/sealer"
)

// Match is one retrieved chunk with its similarity to the query.
type Match struct {
	DocID   string  `json:"doc_id"`
	ChunkID string  `json:"chunk_id"`
	Index   int     `json:"index"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Query is what a Searcher needs to rank one tenant's chunks.
type Query struct {
	Vector   []float32
	Key      []byte
	TopK     int
	MinScore float64
}

// Searcher ranks the chunks of a store against a query vector. Results are
// ordered by descending score and hold decrypted text.
type Searcher interface {
	Search(ctx context.Context, store *ragstore.Store, q Query) ([]Match, error)
}

// LinearSearcher scores every chunk in the store. Exact, and O(n) per query.
type LinearSearcher struct {
	logger *slog.Logger
}

// NewLinearSearcher creates the default exact searcher.
func NewLinearSearcher(logger *slog.Logger) *LinearSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinearSearcher{logger: logger}
}

// Search scans the store in insertion order. Chunks that cannot be decrypted
// with q.Key are skipped. Equal scores keep scan order.
func (l *LinearSearcher) Search(ctx context.Context, store *ragstore.Store, q Query) ([]Match, error) {
	var (
		candidates  []Match
		undecrypted int
		mismatched  int
	)

	err := store.Scan(ctx, func(c ragstore.Chunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := sealer.Open(c.TextEncrypted, q.Key)
		if err != nil {
			undecrypted++
			return nil
		}
		vec := embedding.Decode(c.Embedding)
		if len(vec) != len(q.Vector) {
			mismatched++
		}
		score := embedding.CosineSimilarity(q.Vector, vec)
		if score < q.MinScore {
			return nil
		}
		candidates = append(candidates, Match{
			DocID:   c.DocID,
			ChunkID: c.ID,
			Index:   c.Index,
			Text:    text,
			Score:   score,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if undecrypted > 0 {
		l.logger.Warn("skipped undecryptable chunks", "path", store.Path(), "count", undecrypted)
	}
	if mismatched > 0 {
		l.logger.Warn("chunks with a different embedding size scored 0",
			"path", store.Path(), "count", mismatched, "query_dims", len(q.Vector))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if q.TopK > 0 && len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}

	out := candidates[:0]
	for _, m := range candidates {
		if strings.TrimSpace(m.Text) != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

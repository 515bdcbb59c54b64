// Package rag ingests documents into a tenant's encrypted chunk store and
// retrieves the chunks most similar to a query.
//
// Every operation takes the caller's session explicitly; the tenant store
// and the key used to seal or open chunk text both come from it.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/chunker"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/embedding"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/ragstore"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/sealer"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/tenant"
)

var (
	// ErrDimensionMismatch is returned when the active embedder produces
	// vectors of a different length than those already in the store.
	ErrDimensionMismatch = errors.New("rag: embedding dimensions do not match stored vectors")

	// ErrTenantMismatch is returned by Rekey when the sessions belong to
	// different users.
	ErrTenantMismatch = errors.New("rag: sessions belong to different users")
)

// Extractor turns a file into plain text. Unsupported files yield "".
type Extractor interface {
	Extract(path string) (string, error)
}

// Stats summarizes one tenant store.
type Stats struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	Dimensions int `json:"dimensions"`
}

// Service runs ingestion and retrieval against per-user stores.
type Service struct {
	router    *tenant.Router
	extractor Extractor
	embedder  *embedding.Handle
	searcher  Searcher
	cfg       Config
	logger    *slog.Logger
}

// New creates a service. A zero Config field takes its default.
func New(router *tenant.Router, extractor Extractor, embedder *embedding.Handle, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = def.MinScore
	}
	logger = logger.With("component", "rag")
	return &Service{
		router:    router,
		extractor: extractor,
		embedder:  embedder,
		searcher:  NewLinearSearcher(logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// SetSearcher replaces the ranking strategy.
func (s *Service) SetSearcher(sr Searcher) {
	if sr != nil {
		s.searcher = sr
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) store(sess *session.Session) (*ragstore.Store, error) {
	if !sess.Ready() {
		return nil, session.ErrNoSession
	}
	path, err := s.router.ResolveStorePath(sess.Username())
	if err != nil {
		return nil, err
	}
	return ragstore.Open(path), nil
}

type preparedChunk struct {
	sealed    string
	embedding []byte
}

// Ingest extracts, chunks, embeds and seals the file at path, then stores
// the document and all of its chunks in one transaction. It returns the
// number of chunks stored; 0 with a nil error means there was nothing to
// ingest.
func (s *Service) Ingest(ctx context.Context, sess *session.Session, path string) (int, error) {
	start := time.Now()
	n, err := s.ingest(ctx, sess, path)
	switch {
	case err != nil:
		ingestionsTotal.WithLabelValues("error").Inc()
	case n == 0:
		ingestionsTotal.WithLabelValues("empty").Inc()
	default:
		ingestionsTotal.WithLabelValues("ok").Inc()
		ingestedChunksTotal.Add(float64(n))
		s.logger.Info("document ingested",
			"user", sess.Username(), "file", filepath.Base(path),
			"chunks", n, "duration_ms", time.Since(start).Milliseconds())
	}
	return n, err
}

func (s *Service) ingest(ctx context.Context, sess *session.Session, path string) (int, error) {
	store, err := s.store(sess)
	if err != nil {
		return 0, err
	}
	key := sess.Key()

	text, err := s.extractor.Extract(path)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		s.logger.Debug("nothing to ingest", "file", filepath.Base(path))
		return 0, nil
	}

	chunks := chunker.Chunk(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}

	emb, err := s.embedder.Get(ctx)
	if err != nil {
		return 0, err
	}

	if err := store.Init(ctx); err != nil {
		return 0, err
	}
	dims, err := store.Dimensions(ctx)
	if err != nil {
		return 0, err
	}

	prepared := make([]preparedChunk, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		vectors, err := emb.Embed(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		vec := embedding.Reduce(vectors)
		if len(vec) == 0 {
			return 0, fmt.Errorf("embed chunk %d: %w", i, embedding.ErrEmptyEmbedding)
		}
		if dims == 0 {
			dims = len(vec)
		}
		if len(vec) != dims {
			return 0, fmt.Errorf("%w: store has %d, %s/%s produced %d",
				ErrDimensionMismatch, dims, emb.Name(), emb.Model(), len(vec))
		}
		sealed, err := sealer.Encrypt(chunk, key)
		if err != nil {
			return 0, fmt.Errorf("seal chunk %d: %w", i, err)
		}
		prepared = append(prepared, preparedChunk{sealed: sealed, embedding: embedding.Encode(vec)})
	}

	w, err := store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Rollback()

	docID := strings.ReplaceAll(uuid.NewString(), "-", "")
	doc := ragstore.Document{ID: docID, Name: filepath.Base(path), Path: path}
	if err := w.AddDocument(ctx, doc); err != nil {
		return 0, err
	}
	for i, p := range prepared {
		if err := w.AddChunk(ctx, ragstore.Chunk{
			DocID:         docID,
			Index:         i,
			TextEncrypted: p.sealed,
			Embedding:     p.embedding,
		}); err != nil {
			return 0, err
		}
	}
	if err := w.Commit(); err != nil {
		return 0, err
	}
	return len(prepared), nil
}

// Search embeds the query and returns the ranked matches above the score
// threshold. An empty store returns no matches without calling the embedder.
func (s *Service) Search(ctx context.Context, sess *session.Session, query string, opts RetrieveOptions) ([]Match, error) {
	start := time.Now()
	matches, err := s.search(ctx, sess, query, s.cfg.resolve(opts))
	status := "ok"
	if err != nil {
		status = "error"
	}
	retrievalDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return matches, err
}

func (s *Service) search(ctx context.Context, sess *session.Session, query string, r ranking) ([]Match, error) {
	store, err := s.store(sess)
	if err != nil {
		return nil, err
	}

	count, err := store.ChunkCount(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	emb, err := s.embedder.Get(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec := embedding.Reduce(vectors)
	if len(vec) == 0 {
		s.logger.Warn("query produced no vector", "user", sess.Username())
		return nil, nil
	}

	matches, err := s.searcher.Search(ctx, store, Query{
		Vector:   vec,
		Key:      sess.Key(),
		TopK:     r.topK,
		MinScore: r.minScore,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("retrieval ranked",
		"user", sess.Username(), "chunks", count, "matches", len(matches))
	return matches, nil
}

// Retrieve returns the matched chunk texts joined by blank lines. ok is
// false when nothing scored above the threshold.
func (s *Service) Retrieve(ctx context.Context, sess *session.Session, query string, opts RetrieveOptions) (string, bool, error) {
	matches, err := s.Search(ctx, sess, query, opts)
	if err != nil {
		return "", false, err
	}
	text, ok := Compose(matches)
	return text, ok, nil
}

// Compose joins match texts into a context block.
func Compose(matches []Match) (string, bool) {
	if len(matches) == 0 {
		return "", false
	}
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Text)
	}
	out := strings.TrimSpace(strings.Join(texts, "\n\n"))
	return out, out != ""
}

// HasDocuments reports whether the tenant has any stored chunks.
func (s *Service) HasDocuments(ctx context.Context, sess *session.Session) (bool, error) {
	store, err := s.store(sess)
	if err != nil {
		return false, err
	}
	n, err := store.ChunkCount(ctx)
	return n > 0, err
}

// Documents lists the tenant's documents.
func (s *Service) Documents(ctx context.Context, sess *session.Session) ([]ragstore.Document, error) {
	store, err := s.store(sess)
	if err != nil {
		return nil, err
	}
	return store.Documents(ctx)
}

// DeleteDocument removes a document and its chunks.
func (s *Service) DeleteDocument(ctx context.Context, sess *session.Session, id string) error {
	store, err := s.store(sess)
	if err != nil {
		return err
	}
	if err := store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.logger.Info("document deleted", "user", sess.Username(), "doc", id)
	return nil
}

// Stats reports document, chunk and vector counts for the tenant.
func (s *Service) Stats(ctx context.Context, sess *session.Session) (Stats, error) {
	var st Stats
	store, err := s.store(sess)
	if err != nil {
		return st, err
	}
	docs, err := store.Documents(ctx)
	if err != nil {
		return st, err
	}
	for _, d := range docs {
		st.Chunks += d.Chunks
	}
	st.Documents = len(docs)
	if st.Dimensions, err = store.Dimensions(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// Rekey re-seals every chunk of the tenant from the old session key to the
// new one in a single transaction. Legacy plaintext rows get sealed.
// Chunks the old key cannot open are left as they are.
func (s *Service) Rekey(ctx context.Context, oldSess, newSess *session.Session) error {
	if !oldSess.Ready() || !newSess.Ready() {
		return session.ErrNoSession
	}
	if oldSess.Username() != newSess.Username() {
		return ErrTenantMismatch
	}
	if !s.router.Exists(oldSess.Username()) {
		return nil
	}
	store, err := s.store(oldSess)
	if err != nil {
		return err
	}

	oldKey, newKey := oldSess.Key(), newSess.Key()
	kept := 0
	n, err := store.Rewrite(ctx, func(text string) (string, error) {
		plain, err := sealer.Open(text, oldKey)
		if err != nil {
			kept++
			return text, nil
		}
		return sealer.Encrypt(plain, newKey)
	})
	if err != nil {
		return err
	}
	if kept > 0 {
		s.logger.Warn("rekey left undecryptable chunks unchanged", "user", oldSess.Username(), "count", kept)
	}
	s.logger.Info("tenant rekeyed", "user", oldSess.Username(), "chunks", n)
	return nil
}

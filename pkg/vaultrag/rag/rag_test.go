package rag

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/embedding"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/extract"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/ragstore"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/sealer"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/tenant"
)

// mapEmbedder returns a fixed vector per text and counts calls.
type mapEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	failAt   int32
	calls    atomic.Int32
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([][]float32, error) {
	n := m.calls.Add(1)
	if m.failAt > 0 && n == m.failAt {
		return nil, errors.New("embedder crashed")
	}
	if v, ok := m.vectors[strings.TrimSpace(text)]; ok {
		return [][]float32{v}, nil
	}
	return [][]float32{m.fallback}, nil
}

func (m *mapEmbedder) Name() string  { return "map" }
func (m *mapEmbedder) Model() string { return "test" }

// unit returns a 2-d unit vector whose cosine with [1,0] is score.
func unit(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score))}
}

type fixture struct {
	t      *testing.T
	dir    string
	router *tenant.Router
	emb    *mapEmbedder
	svc    *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	emb := &mapEmbedder{
		vectors:  map[string][]float32{"query": {1, 0}},
		fallback: []float32{1, 0},
	}
	router := tenant.NewRouter(filepath.Join(dir, "databases"))
	return &fixture{
		t:      t,
		dir:    dir,
		router: router,
		emb:    emb,
		svc:    New(router, extract.Default(), embedding.NewReadyHandle(emb), cfg, nil),
	}
}

func (f *fixture) file(name, content string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		f.t.Fatal(err)
	}
	return path
}

func (f *fixture) ingest(sess *session.Session, name, content string) int {
	f.t.Helper()
	n, err := f.svc.Ingest(context.Background(), sess, f.file(name, content))
	if err != nil {
		f.t.Fatalf("Ingest(%s): %v", name, err)
	}
	return n
}

func (f *fixture) store(user string) *ragstore.Store {
	path, err := f.router.ResolveStorePath(user)
	if err != nil {
		f.t.Fatal(err)
	}
	return ragstore.Open(path)
}

func newSession(t *testing.T, user string, fill byte) *session.Session {
	t.Helper()
	s, err := session.New(user, bytes.Repeat([]byte{fill}, 32))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestIngestStoresSealedChunks(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)

	text := strings.Repeat("lorem ipsum dolor sit amet ", 60)
	n := f.ingest(alice, "notes.txt", text)
	if n < 2 {
		t.Fatalf("chunks = %d, want several", n)
	}

	i := 0
	err := f.store("alice").Scan(context.Background(), func(c ragstore.Chunk) error {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.ID != ragstore.ChunkID(c.DocID, i) {
			t.Errorf("chunk id = %q", c.ID)
		}
		if !sealer.IsSealed(c.TextEncrypted) || strings.Contains(c.TextEncrypted, "lorem") {
			t.Errorf("chunk %d stored unsealed", i)
		}
		if len(c.Embedding) != 8 {
			t.Errorf("embedding bytes = %d, want 8", len(c.Embedding))
		}
		i++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if i != n {
		t.Errorf("scanned %d chunks, ingest reported %d", i, n)
	}

	docs, _ := f.svc.Documents(context.Background(), alice)
	if len(docs) != 1 || docs[0].Name != "notes.txt" || len(docs[0].ID) != 32 {
		t.Errorf("docs = %+v", docs)
	}
}

func TestIngestNothingToDo(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)

	tests := []struct {
		name, file, content string
	}{
		{"unsupported extension", "image.png", "not really a png"},
		{"blank text", "empty.txt", "   \n\r\n\t  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := f.svc.Ingest(context.Background(), alice, f.file(tt.file, tt.content))
			if err != nil || n != 0 {
				t.Errorf("Ingest = %d, %v; want 0, nil", n, err)
			}
		})
	}
	if f.emb.calls.Load() != 0 {
		t.Errorf("embedder called %d times", f.emb.calls.Load())
	}
	if docs, _ := f.svc.Documents(context.Background(), alice); len(docs) != 0 {
		t.Errorf("documents created: %+v", docs)
	}
}

func TestIngestAtomicOnEmbedFailure(t *testing.T) {
	f := newFixture(t, Config{ChunkSize: 10, ChunkOverlap: 0})
	alice := newSession(t, "alice", 1)
	f.emb.failAt = 3

	text := "aaaaaaaaaabbbbbbbbbbccccccccccddddddddddeeeeeeeeee"
	n, err := f.svc.Ingest(context.Background(), alice, f.file("five.txt", text))
	if err == nil {
		t.Fatalf("Ingest = %d, want error", n)
	}

	ctx := context.Background()
	if c, _ := f.store("alice").ChunkCount(ctx); c != 0 {
		t.Errorf("chunks visible after failure: %d", c)
	}
	if docs, _ := f.svc.Documents(ctx, alice); len(docs) != 0 {
		t.Errorf("document visible after failure: %+v", docs)
	}

	// A later attempt succeeds with contiguous numbering.
	f.emb.failAt = 0
	n, err = f.svc.Ingest(ctx, alice, f.file("five.txt", text))
	if err != nil || n != 5 {
		t.Fatalf("retry Ingest = %d, %v; want 5", n, err)
	}
}

func TestIngestConfigurationErrors(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	path := f.file("doc.txt", "some content")

	for _, want := range []error{embedding.ErrNoModel, embedding.ErrModelMissing} {
		want := want
		svc := New(f.router, extract.Default(), embedding.NewHandle(func(context.Context) (embedding.Embedder, error) {
			return nil, want
		}), Config{}, nil)

		if _, err := svc.Ingest(context.Background(), alice, path); !errors.Is(err, want) {
			t.Errorf("Ingest err = %v, want %v", err, want)
		}
	}
	if c, _ := f.store("alice").ChunkCount(context.Background()); c != 0 {
		t.Errorf("chunks stored without an embedder: %d", c)
	}
}

func TestIngestCancelled(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.svc.Ingest(ctx, alice, f.file("doc.txt", "text")); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if c, _ := f.store("alice").ChunkCount(context.Background()); c != 0 {
		t.Errorf("chunks stored after cancel: %d", c)
	}
}

func TestIngestDimensionMismatch(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	f.ingest(alice, "a.txt", "first model")

	wide := &mapEmbedder{fallback: []float32{1, 0, 0}}
	svc := New(f.router, extract.Default(), embedding.NewReadyHandle(wide), Config{}, nil)
	_, err := svc.Ingest(context.Background(), alice, f.file("b.txt", "second model"))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	if c, _ := f.store("alice").ChunkCount(context.Background()); c != 1 {
		t.Errorf("chunks = %d, want 1", c)
	}
}

func TestRetrieveThresholdAndRanking(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	f.emb.vectors["low"] = unit(0.1)
	f.emb.vectors["mid"] = unit(0.5)
	f.emb.vectors["high"] = unit(0.9)

	for _, name := range []string{"low", "mid", "high"} {
		f.ingest(alice, name+".txt", name)
	}

	ctx := context.Background()
	got, ok, err := f.svc.Retrieve(ctx, alice, "query", RetrieveOptions{TopK: 2, MinScore: Score(0.2)})
	if err != nil || !ok {
		t.Fatalf("Retrieve = %q, %v, %v", got, ok, err)
	}
	if got != "high\n\nmid" {
		t.Errorf("context = %q, want %q", got, "high\n\nmid")
	}

	matches, err := f.svc.Search(ctx, alice, "query", RetrieveOptions{TopK: 10, MinScore: Score(-1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 || matches[2].Text != "low" {
		t.Fatalf("matches = %+v", matches)
	}
	if math.Abs(matches[0].Score-0.9) > 1e-6 {
		t.Errorf("top score = %v", matches[0].Score)
	}
}

func TestRetrieveDefaults(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	for i, s := range []float64{0.95, 0.9, 0.8, 0.7, 0.15} {
		name := string(rune('a' + i))
		f.emb.vectors[name] = unit(s)
		f.ingest(alice, name+".txt", name)
	}

	matches, err := f.svc.Search(context.Background(), alice, "query", RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != DefaultTopK {
		t.Fatalf("len = %d, want %d", len(matches), DefaultTopK)
	}
	if matches[0].Text != "a" || matches[2].Text != "c" {
		t.Errorf("order = %+v", matches)
	}
}

func TestRetrieveMinScoreOverrides(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	f.emb.vectors["weak"] = unit(0.1)
	f.emb.vectors["opposite"] = unit(-0.9)
	f.ingest(alice, "weak.txt", "weak")
	f.ingest(alice, "opposite.txt", "opposite")

	if got := f.svc.Config().MinScore; got != DefaultMinScore {
		t.Fatalf("MinScore = %v, want %v", got, DefaultMinScore)
	}

	ctx := context.Background()
	tests := []struct {
		name     string
		minScore *float64
		want     []string
	}{
		{"default drops weak", nil, nil},
		{"explicit zero keeps weak", Score(0), []string{"weak"}},
		{"negative disables threshold", Score(-0.5), []string{"weak", "opposite"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := f.svc.Search(ctx, alice, "query", RetrieveOptions{TopK: 10, MinScore: tt.minScore})
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, m := range matches {
				got = append(got, m.Text)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetrieveEmptyQueryVector(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	f.ingest(alice, "doc.txt", "doc")
	f.emb.vectors["blank query"] = []float32{}

	got, ok, err := f.svc.Retrieve(context.Background(), alice, "blank query", RetrieveOptions{})
	if err != nil || ok || got != "" {
		t.Errorf("Retrieve = %q, %v, %v; want no context", got, ok, err)
	}
}

func TestRetrieveStableTies(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	for _, name := range []string{"first", "second", "third", "fourth"} {
		f.ingest(alice, name+".txt", name)
	}

	got, ok, err := f.svc.Retrieve(context.Background(), alice, "query", RetrieveOptions{})
	if err != nil || !ok {
		t.Fatal(err)
	}
	if got != "first\n\nsecond\n\nthird" {
		t.Errorf("context = %q", got)
	}
}

func TestRetrieveEmptyStoreSkipsEmbedder(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)

	failing := embedding.NewHandle(func(context.Context) (embedding.Embedder, error) {
		return nil, embedding.ErrNoModel
	})
	svc := New(f.router, extract.Default(), failing, Config{}, nil)

	got, ok, err := svc.Retrieve(context.Background(), alice, "anything", RetrieveOptions{})
	if err != nil || ok || got != "" {
		t.Errorf("Retrieve = %q, %v, %v; want empty", got, ok, err)
	}
	if failing.Loads() != 0 {
		t.Errorf("embedder loaded %d times", failing.Loads())
	}
}

func TestRetrieveNoMatch(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	f.emb.vectors["far"] = []float32{0, 1}
	f.ingest(alice, "far.txt", "far")

	_, ok, err := f.svc.Retrieve(context.Background(), alice, "query", RetrieveOptions{})
	if err != nil || ok {
		t.Errorf("Retrieve ok=%v err=%v, want no context", ok, err)
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	bob := newSession(t, "bob", 2)
	f.ingest(alice, "secret.txt", "alice secret")

	_, ok, err := f.svc.Retrieve(context.Background(), bob, "query", RetrieveOptions{})
	if err != nil || ok {
		t.Errorf("bob retrieved alice's data: ok=%v err=%v", ok, err)
	}

	// Same tenant, wrong key: chunks are skipped, never returned as ciphertext.
	impostor := newSession(t, "alice", 9)
	got, ok, err := f.svc.Retrieve(context.Background(), impostor, "query", RetrieveOptions{})
	if err != nil || ok || got != "" {
		t.Errorf("wrong key Retrieve = %q, %v, %v", got, ok, err)
	}
}

func TestNoSession(t *testing.T) {
	f := newFixture(t, Config{})
	path := f.file("x.txt", "x")
	if _, err := f.svc.Ingest(context.Background(), nil, path); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("Ingest err = %v", err)
	}

	cleared := newSession(t, "alice", 1)
	cleared.Clear()
	if _, _, err := f.svc.Retrieve(context.Background(), cleared, "q", RetrieveOptions{}); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("Retrieve err = %v", err)
	}
}

func TestRekey(t *testing.T) {
	f := newFixture(t, Config{})
	oldSess := newSession(t, "alice", 1)
	newSess := newSession(t, "alice", 2)
	f.ingest(oldSess, "doc.txt", "rotating secret")

	if err := f.svc.Rekey(context.Background(), oldSess, newSess); err != nil {
		t.Fatalf("Rekey: %v", err)
	}

	got, ok, _ := f.svc.Retrieve(context.Background(), newSess, "query", RetrieveOptions{})
	if !ok || got != "rotating secret" {
		t.Errorf("new key Retrieve = %q, %v", got, ok)
	}
	if _, ok, _ := f.svc.Retrieve(context.Background(), oldSess, "query", RetrieveOptions{}); ok {
		t.Error("old key still opens rekeyed chunks")
	}

	bob := newSession(t, "bob", 3)
	if err := f.svc.Rekey(context.Background(), oldSess, bob); !errors.Is(err, ErrTenantMismatch) {
		t.Errorf("cross-user Rekey = %v", err)
	}
}

func TestDeleteDocumentAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	alice := newSession(t, "alice", 1)
	f.ingest(alice, "a.txt", "one")
	f.ingest(alice, "b.txt", "two")

	st, err := f.svc.Stats(ctx, alice)
	if err != nil || st.Documents != 2 || st.Chunks != 2 || st.Dimensions != 2 {
		t.Fatalf("Stats = %+v, %v", st, err)
	}

	docs, _ := f.svc.Documents(ctx, alice)
	if err := f.svc.DeleteDocument(ctx, alice, docs[0].ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if err := f.svc.DeleteDocument(ctx, alice, docs[0].ID); !errors.Is(err, ragstore.ErrDocumentNotFound) {
		t.Errorf("second delete = %v", err)
	}
	has, _ := f.svc.HasDocuments(ctx, alice)
	if !has {
		t.Error("HasDocuments = false with one document left")
	}
}

func TestCompose(t *testing.T) {
	t.Parallel()
	if _, ok := Compose(nil); ok {
		t.Error("Compose(nil) ok")
	}
	got, ok := Compose([]Match{{Text: " a "}, {Text: "b"}})
	if !ok || got != "a \n\nb" {
		t.Errorf("Compose = %q", got)
	}
}

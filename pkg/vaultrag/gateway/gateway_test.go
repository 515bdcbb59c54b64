package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/embedding"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/extract"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/rag"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/tenant"
)

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, username, password string) (*session.Session, error) {
	if password != "pw" {
		return nil, errors.New("invalid username or password")
	}
	return session.New(username, bytes.Repeat([]byte{7}, 32))
}

func newTestServer(t *testing.T, token string) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	svc := rag.New(
		tenant.NewRouter(filepath.Join(dir, "databases")),
		extract.Default(),
		embedding.NewReadyHandle(embedding.NewHashingEmbedder(64)),
		rag.Config{},
		nil,
	)
	gw := New(Config{AuthToken: token}, svc, fakeAuth{}, session.NewHolder(), nil)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv, dir
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// upload posts content as a multipart file named name.
func upload(t *testing.T, srv *httptest.Server, name, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", name)
	_, _ = fw.Write([]byte(content))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	resp := do(t, srv, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["logged_in"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestBearerToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid but not logged in", "secret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, http.MethodGet, "/api/documents", tt.token, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp := do(t, srv, http.MethodGet, "/api/documents", "secret", nil)
	body := decode[errorResponse](t, resp)
	if body.Error.Message != "not logged in" {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestLoginIngestRetrieveDelete(t *testing.T) {
	const tok = "secret"
	srv, dir := newTestServer(t, tok)

	if resp := do(t, srv, http.MethodPost, "/api/login", tok, loginRequest{"alice", "bad"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodPost, "/api/login", tok, loginRequest{"alice", "pw"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	docPath := filepath.Join(dir, "vault.txt")
	if err := os.WriteFile(docPath, []byte("the vault keeps secrets"), 0o600); err != nil {
		t.Fatal(err)
	}
	resp := do(t, srv, http.MethodPost, "/api/documents", tok, ingestRequest{Path: docPath})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
	if got := decode[ingestResponse](t, resp); got.Chunks != 1 || got.Name != "vault.txt" {
		t.Errorf("ingest = %+v", got)
	}

	resp = do(t, srv, http.MethodPost, "/api/retrieve", tok, retrieveRequest{Query: "the vault keeps secrets"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retrieve status = %d", resp.StatusCode)
	}
	got := decode[retrieveResponse](t, resp)
	if !got.Found || got.Context != "the vault keeps secrets" || len(got.Matches) != 1 {
		t.Fatalf("retrieve = %+v", got)
	}

	docs := decode[[]documentResponse](t, do(t, srv, http.MethodGet, "/api/documents", tok, nil))
	if len(docs) != 1 || docs[0].Chunks != 1 {
		t.Fatalf("documents = %+v", docs)
	}

	if resp := do(t, srv, http.MethodDelete, "/api/documents/"+docs[0].ID, tok, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodDelete, "/api/documents/"+docs[0].ID, tok, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}

	if resp := do(t, srv, http.MethodPost, "/api/logout", tok, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("logout status = %d", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodPost, "/api/retrieve", tok, retrieveRequest{Query: "x"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("retrieve after logout status = %d", resp.StatusCode)
	}
}

func TestPathIngestRequiresToken(t *testing.T) {
	srv, dir := newTestServer(t, "")
	if resp := do(t, srv, http.MethodPost, "/api/login", "", loginRequest{"alice", "pw"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	docPath := filepath.Join(dir, "private.txt")
	if err := os.WriteFile(docPath, []byte("not for the web"), 0o600); err != nil {
		t.Fatal(err)
	}

	resp := do(t, srv, http.MethodPost, "/api/documents", "", ingestRequest{Path: docPath})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("tokenless path ingest status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	body, _ := json.Marshal(ingestRequest{Path: docPath})
	plain, err := http.Post(srv.URL+"/api/documents", "text/plain", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	plain.Body.Close()
	if plain.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("text/plain ingest status = %d, want %d", plain.StatusCode, http.StatusUnsupportedMediaType)
	}

	docs := decode[[]documentResponse](t, do(t, srv, http.MethodGet, "/api/documents", "", nil))
	if len(docs) != 0 {
		t.Errorf("documents = %+v, want none", docs)
	}
}

func TestRetrieveExplicitZeroThreshold(t *testing.T) {
	srv, _ := newTestServer(t, "")
	if resp := do(t, srv, http.MethodPost, "/api/login", "", loginRequest{"alice", "pw"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	upload(t, srv, "fruit.txt", "apples and pears")

	zero := 0.0
	got := decode[retrieveResponse](t, do(t, srv, http.MethodPost, "/api/retrieve", "",
		retrieveRequest{Query: "submarine engines", MinScore: &zero}))
	if !got.Found || len(got.Matches) != 1 {
		t.Errorf("explicit min_score 0 = %+v, want the only chunk", got)
	}

	got = decode[retrieveResponse](t, do(t, srv, http.MethodPost, "/api/retrieve", "",
		retrieveRequest{Query: "submarine engines"}))
	if got.Found {
		t.Errorf("default threshold = %+v, want no context", got)
	}
}

func TestMultipartUpload(t *testing.T) {
	srv, _ := newTestServer(t, "")
	do(t, srv, http.MethodPost, "/api/login", "", loginRequest{"bob", "pw"})

	resp := upload(t, srv, "notes.md", "# Notes\n\nuploaded over http")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[ingestResponse](t, resp); got.Name != "notes.md" || got.Chunks != 1 {
		t.Errorf("upload = %+v", got)
	}
}

func TestRetrieveValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")
	do(t, srv, http.MethodPost, "/api/login", "", loginRequest{"carol", "pw"})

	resp := do(t, srv, http.MethodPost, "/api/retrieve", "", retrieveRequest{Query: "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodPost, "/api/retrieve", "", retrieveRequest{Query: "empty store"})
	got := decode[retrieveResponse](t, resp)
	if got.Found || len(got.Matches) != 0 {
		t.Errorf("empty store retrieve = %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	do(t, srv, http.MethodGet, "/health", "", nil)

	resp := do(t, srv, http.MethodGet, "/metrics", "", nil)
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "vaultrag_http_requests_total") {
		t.Error("request counter not exported")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNoSession, http.StatusUnauthorized},
		{rag.ErrDimensionMismatch, http.StatusConflict},
		{embedding.ErrModelMissing, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:8086": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8086":          false,
		"0.0.0.0:8086":   false,
		"10.0.0.5:8086":  false,
	} {
		if got := isLoopback(addr); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/embedding"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/rag"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/ragstore"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/session"
)

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ingestRequest struct {
	Path string `json:"path"`
}

type ingestResponse struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

type retrieveRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	MinScore *float64 `json:"min_score"`
}

type retrieveResponse struct {
	Context string      `json:"context"`
	Found   bool        `json:"found"`
	Matches []rag.Match `json:"matches"`
}

type documentResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps known errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized, "not logged in"
	case errors.Is(err, ragstore.ErrDocumentNotFound):
		return http.StatusNotFound, "document not found"
	case errors.Is(err, rag.ErrDimensionMismatch):
		return http.StatusConflict, err.Error()
	case errors.Is(err, embedding.ErrNoModel), errors.Is(err, embedding.ErrModelMissing):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code >= 500 {
		g.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, code, msg)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    uptime,
		"logged_in": g.sessions.Username() != "",
	})
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := g.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		g.logger.Warn("login failed", "user", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	g.sessions.Set(sess)
	g.logger.Info("user logged in", "user", sess.Username())
	writeJSON(w, http.StatusOK, map[string]string{"user": sess.Username()})
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	g.sessions.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var docs []ragstore.Document
	err := g.sessions.Do(r.Context(), func(ctx context.Context, s *session.Session) error {
		var err error
		docs, err = g.rag.Documents(ctx, s)
		return err
	})
	if err != nil {
		g.fail(w, r, err)
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentResponse{
			ID: d.ID, Name: d.Name, Path: d.Path, Chunks: d.Chunks, CreatedAt: d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleIngest accepts either a multipart upload in the "file" field or,
// when a bearer token is configured, a JSON body naming a local path.
func (g *Gateway) handleIngest(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := g.uploadedPath(w, r)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, errPathIngestDisabled):
			status = http.StatusForbidden
		case errors.Is(err, errUnsupportedBody):
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, status, err.Error())
		return
	}
	defer cleanup()

	var n int
	err = g.sessions.Do(r.Context(), func(ctx context.Context, s *session.Session) error {
		var err error
		n, err = g.rag.Ingest(ctx, s, path)
		return err
	})
	if err != nil {
		g.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if n == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, ingestResponse{Name: filepath.Base(path), Chunks: n})
}

var (
	errPathIngestDisabled = errors.New("ingesting a local path requires gateway.auth_token")
	errUnsupportedBody    = errors.New("send multipart/form-data or application/json")
)

func (g *Gateway) uploadedPath(w http.ResponseWriter, r *http.Request) (string, func(), error) {
	noop := func() {}
	ctype := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ctype, "multipart/") {
		// A path names any file the daemon can read, so it is only accepted
		// from authenticated JSON clients.
		if !strings.HasPrefix(ctype, "application/json") {
			return "", noop, errUnsupportedBody
		}
		if g.config.AuthToken == "" {
			return "", noop, errPathIngestDisabled
		}
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", noop, errors.New("invalid request body")
		}
		if req.Path == "" {
			return "", noop, errors.New("path is required")
		}
		return req.Path, noop, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", noop, errors.New("file field is required")
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "vaultrag-upload-*")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(dir, name)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	_, err = io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", noop, err
	}
	return path, cleanup, nil
}

func (g *Gateway) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := g.sessions.Do(r.Context(), func(ctx context.Context, s *session.Session) error {
		return g.rag.DeleteDocument(ctx, s, id)
	})
	if err != nil {
		g.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var matches []rag.Match
	err := g.sessions.Do(r.Context(), func(ctx context.Context, s *session.Session) error {
		var err error
		matches, err = g.rag.Search(ctx, s, req.Query, rag.RetrieveOptions{TopK: req.TopK, MinScore: req.MinScore})
		return err
	})
	if err != nil {
		g.fail(w, r, err)
		return
	}

	text, found := rag.Compose(matches)
	if matches == nil {
		matches = []rag.Match{}
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Context: text, Found: found, Matches: matches})
}

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// LlamaEmbedder talks to a local llama.cpp server (`llama-server --embedding`)
// serving the configured model file. With pooling disabled the server returns
// one vector per token, which callers pool with Reduce.
type LlamaEmbedder struct {
	baseURL   string
	modelPath string
	client    *http.Client
}

// NewLlamaEmbedder creates a llama.cpp provider. BaseURL defaults to
// http://127.0.0.1:8080.
func NewLlamaEmbedder(cfg Config) *LlamaEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LlamaEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelPath: cfg.ModelPath,
		client:    &http.Client{Timeout: timeout},
	}
}

// Embed posts text to /embedding and returns every vector in the answer.
func (e *LlamaEmbedder) Embed(ctx context.Context, text string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{"content": text})
	if err != nil {
		return nil, fmt.Errorf("llama: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embedding", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llama: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llama: embed call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llama: read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llama: embed error (status %d): %s", resp.StatusCode, string(raw))
	}

	vectors, err := parseLlamaResponse(raw)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vectors, nil
}

// Name returns "llama".
func (e *LlamaEmbedder) Name() string { return "llama" }

// Model returns the model file name.
func (e *LlamaEmbedder) Model() string { return filepath.Base(e.modelPath) }

// parseLlamaResponse accepts the shapes llama.cpp has used over time:
//
//	{"embedding": [..]}
//	[{"index": 0, "embedding": [..]}]
//	[{"index": 0, "embedding": [[..], [..]]}]
func parseLlamaResponse(raw []byte) ([][]float32, error) {
	raw = bytes.TrimSpace(raw)

	var items []struct {
		Embedding json.RawMessage `json:"embedding"`
	}
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("llama: unmarshal embed response: %w", err)
		}
	} else {
		var single struct {
			Embedding json.RawMessage `json:"embedding"`
		}
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("llama: unmarshal embed response: %w", err)
		}
		items = append(items, single)
	}

	var out [][]float32
	for _, it := range items {
		vs, err := parseVectors(it.Embedding)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

// parseVectors decodes either a flat vector or a list of vectors.
func parseVectors(raw json.RawMessage) ([][]float32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err == nil {
		return nested, nil
	}
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("llama: unexpected embedding shape: %w", err)
	}
	return [][]float32{flat}, nil
}

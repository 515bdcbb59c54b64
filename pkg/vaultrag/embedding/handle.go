package embedding

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle is a lazily-loaded, process-wide embedder.
//
// The first callers serialize on a mutex around the "not yet loaded" check;
// once loaded, Get returns without locking. A failed load is not remembered,
// so the next call retries (for example after the user picks a model).
type Handle struct {
	mu     sync.Mutex
	loader Loader
	loaded atomic.Pointer[loadedEmbedder]
	loads  atomic.Int32
}

type loadedEmbedder struct {
	e Embedder
}

// NewHandle creates a handle that loads with loader on first use.
func NewHandle(loader Loader) *Handle {
	return &Handle{loader: loader}
}

// NewReadyHandle wraps an already constructed embedder.
func NewReadyHandle(e Embedder) *Handle {
	h := &Handle{}
	h.loaded.Store(&loadedEmbedder{e: e})
	return h
}

// Bootstrap loads the embedder now instead of on first use.
func (h *Handle) Bootstrap(ctx context.Context) error {
	_, err := h.Get(ctx)
	return err
}

// Get returns the embedder, loading it if needed.
func (h *Handle) Get(ctx context.Context) (Embedder, error) {
	if l := h.loaded.Load(); l != nil {
		return l.e, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if l := h.loaded.Load(); l != nil {
		return l.e, nil
	}
	if h.loader == nil {
		return nil, ErrNoModel
	}

	h.loads.Add(1)
	e, err := h.loader(ctx)
	if err != nil {
		return nil, err
	}
	h.loaded.Store(&loadedEmbedder{e: e})
	return e, nil
}

// Loaded reports whether the embedder has been loaded.
func (h *Handle) Loaded() bool {
	return h.loaded.Load() != nil
}

// Loads returns how many times the loader has been invoked.
func (h *Handle) Loads() int {
	return int(h.loads.Load())
}

// Package session holds the authenticated user and their derived key.
//
// A Session is an explicit value passed into every storage and crypto call,
// so the tenant an operation runs against is always visible at the call site.
// Long-running processes that need a single "logged in" user keep it in a
// Holder.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/keys"
)

var (
	// ErrNoSession is returned when an operation needs a session and none is active.
	ErrNoSession = errors.New("session: no active session")

	// ErrInvalidSession is returned for an empty username or a wrong-sized key.
	ErrInvalidSession = errors.New("session: invalid username or key")
)

// Session is one user's login: the tenant identity plus the in-memory key.
type Session struct {
	mu       sync.RWMutex
	username string
	key      []byte
}

// New creates a session. The key is copied so the caller may zero its own copy.
func New(username string, key []byte) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(key) != keys.KeySize {
		return nil, ErrInvalidSession
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Session{username: username, key: k}, nil
}

// Username returns the tenant identity, or "" after Clear.
func (s *Session) Username() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Key returns the session key, or nil after Clear. The slice must not be modified.
func (s *Session) Key() []byte {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Ready reports whether the session still has both a username and a key.
func (s *Session) Ready() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username != "" && s.key != nil
}

// Clear wipes the key and forgets the username.
func (s *Session) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys.Zero(s.key)
	s.key = nil
	s.username = ""
}

// Holder keeps the single active session of a process.
//
// Do holds a read lock for the duration of the callback, and Set/Clear take
// the write lock, so a login or logout waits for in-flight operations to
// finish and no operation ever observes a half-switched tenant.
type Holder struct {
	mu      sync.RWMutex
	current *Session
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Set makes s the active session, clearing the previous one.
func (h *Holder) Set(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current != s {
		h.current.Clear()
	}
	h.current = s
}

// Clear logs out the active session.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		h.current.Clear()
	}
	h.current = nil
}

// Username returns the active username, or "".
func (h *Holder) Username() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Username()
}

// Do runs fn with the active session. Login transitions block until fn returns.
func (h *Holder) Do(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.current.Ready() {
		return ErrNoSession
	}
	return fn(ctx, h.current)
}

// Package tenant maps usernames to their isolated on-disk storage.
//
// Layout under the base directory:
//
//	<base>/auth.db            shared authentication store
//	<base>/<username>/rag.db  per-user chunk store
package tenant

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	// StoreFile is the chunk database file name inside a tenant directory.
	StoreFile = "rag.db"
	// AuthFile is the authentication database at the base directory.
	AuthFile = "auth.db"
)

var (
	// ErrNoTenant is returned when a chunk store is requested without a user.
	ErrNoTenant = errors.New("tenant: no active user")
	// ErrInvalidUsername is returned for names that cannot be used as a
	// directory.
	ErrInvalidUsername = errors.New("tenant: invalid username")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ValidateUsername rejects anything that is not a single lower-case path
// segment. ".." and similar never match because the first rune must be
// alphanumeric, and upper case is excluded so case-insensitive filesystems
// cannot fold two users onto one directory.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}

// Router resolves storage paths for tenants.
type Router struct {
	base string
}

// NewRouter creates a router rooted at baseDir.
func NewRouter(baseDir string) *Router {
	return &Router{base: filepath.Clean(baseDir)}
}

// Base returns the root directory.
func (r *Router) Base() string { return r.base }

// Dir returns the tenant directory for username, or the base directory when
// username is empty. It does not touch the filesystem.
func (r *Router) Dir(username string) string {
	if username == "" {
		return r.base
	}
	return filepath.Join(r.base, username)
}

// ResolveStorePath returns the chunk store path for username, creating the
// tenant directory if needed.
func (r *Router) ResolveStorePath(username string) (string, error) {
	if username == "" {
		return "", ErrNoTenant
	}
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	dir := r.Dir(username)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create tenant directory: %w", err)
	}
	return filepath.Join(dir, StoreFile), nil
}

// AuthStorePath returns the shared authentication database path.
func (r *Router) AuthStorePath() (string, error) {
	if err := os.MkdirAll(r.base, 0o700); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return filepath.Join(r.base, AuthFile), nil
}

// Exists reports whether the tenant has a chunk store on disk.
func (r *Router) Exists(username string) bool {
	if ValidateUsername(username) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(r.Dir(username), StoreFile))
	return err == nil
}

// Remove deletes the tenant directory and everything in it.
func (r *Router) Remove(username string) error {
	if username == "" {
		return ErrNoTenant
	}
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := os.RemoveAll(r.Dir(username)); err != nil {
		return fmt.Errorf("remove tenant %s: %w", username, err)
	}
	return nil
}

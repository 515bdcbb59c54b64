// Package keys derives per-user symmetric keys from passwords.
//
// Keys are never persisted. They are re-derived from the password and the
// user's stored salt at every login, so derivation must be deterministic.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the length of the per-user salt.
	SaltSize = 16

	// KeySize is the length of the derived key (AES-256).
	KeySize = 32

	// Iterations is the PBKDF2 round count.
	Iterations = 100_000
)

var (
	// ErrEmptyPassword is returned when deriving from an empty password.
	ErrEmptyPassword = errors.New("keys: empty password")

	// ErrInvalidSalt is returned when the salt is not SaltSize bytes.
	ErrInvalidSalt = errors.New("keys: invalid salt length")
)

// DeriveKey derives a KeySize-byte key with PBKDF2-HMAC-SHA256.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSalt, len(salt), SaltSize)
	}
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New), nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

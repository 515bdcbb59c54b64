// Package sealer encrypts chunk text at rest with the session key.
//
// Sealed values are ASCII tokens: "enc:v1:" followed by standard base64 of
// IV (16 bytes) || AES-256-CBC ciphertext with PKCS#7 padding. A fresh random
// IV is generated per call. Strings without the marker are legacy plaintext
// and pass through unchanged.
package sealer

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Prefix marks a sealed value.
const Prefix = "enc:v1:"

var (
	// ErrInvalidKey is returned for keys that are not 32 bytes.
	ErrInvalidKey = errors.New("sealer: key must be 32 bytes")

	// ErrUndecryptable is returned by Open when a sealed value cannot be
	// decrypted (wrong key, corrupted payload, bad padding).
	ErrUndecryptable = errors.New("sealer: undecryptable value")
)

// IsSealed reports whether s carries the sealed-value marker.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// Encrypt seals plaintext with key. Empty and already-sealed input is
// returned unchanged.
func Encrypt(plaintext string, key []byte) (string, error) {
	if plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}
	if len(key) != 32 {
		return "", ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	payload := make([]byte, aes.BlockSize+len(padded))
	iv := payload[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(payload[aes.BlockSize:], padded)

	return Prefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Open decrypts a sealed value. Unsealed input is returned as-is with a nil
// error. Any failure on a sealed value yields ErrUndecryptable.
func Open(token string, key []byte) (string, error) {
	if !IsSealed(token) {
		return token, nil
	}
	if len(key) != 32 {
		return "", fmt.Errorf("%w: %w", ErrUndecryptable, ErrInvalidKey)
	}

	payload, err := base64.StdEncoding.DecodeString(token[len(Prefix):])
	if err != nil {
		return "", fmt.Errorf("%w: decoding payload: %v", ErrUndecryptable, err)
	}
	if len(payload) <= aes.BlockSize || len(payload)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: payload length %d", ErrUndecryptable, len(payload))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}

	iv := payload[:aes.BlockSize]
	plain := make([]byte, len(payload)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, payload[aes.BlockSize:])

	plain, err = unpad(plain, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrUndecryptable)
	}
	return string(plain), nil
}

// Decrypt is the fail-open form of Open: on any failure the original token
// is returned instead of an error.
func Decrypt(token string, key []byte) string {
	plain, err := Open(token, key)
	if err != nil {
		return token
	}
	return plain
}

// pad applies PKCS#7 padding.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips and verifies PKCS#7 padding.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

// Package secretbox seals second-factor secrets at rest.
//
// A Box derives a 256-bit AES key from the configured secret with HKDF-SHA256
// and seals values with AES-GCM. Sealed values are base64(nonce || ciphertext).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	salt = "stratamind-second-factor"
	info = "totp-secret-encryption"
)

var (
	// ErrNoKey is returned by New when the secret is empty.
	ErrNoKey = errors.New("secretbox: key is empty")
	// ErrMalformed is returned when a sealed value cannot be opened.
	ErrMalformed = errors.New("secretbox: malformed or tampered value")
)

// Box seals and opens short secrets. It is safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// New derives the encryption key from secret.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrNoKey
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformed
	}
	n := b.aead.NonceSize()
	if len(raw) < n+b.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}

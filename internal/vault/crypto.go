// Package vault seals short secrets, such as the auth refresh token, into
// cookie-safe strings with AES-256-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrOpen is returned for any value that fails authentication.
var ErrOpen = errors.New("vault: cannot open sealed value (wrong key or tampered data)")

// Sealer encrypts and authenticates values under one 32-byte key.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a Sealer. The key must be 32 bytes for AES-256.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext bound to purpose, which must match on Open.
// The nonce is prepended and the result is base64url without padding.
func (s *Sealer) Seal(plaintext, purpose string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := s.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(purpose))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, purpose string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrOpen
	}
	n := s.gcm.NonceSize()
	if len(raw) < n+s.gcm.Overhead() {
		return "", ErrOpen
	}
	plain, err := s.gcm.Open(nil, raw[:n], raw[n:], []byte(purpose))
	if err != nil {
		return "", ErrOpen
	}
	return string(plain), nil
}

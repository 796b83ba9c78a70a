// Package secret seals small secrets (passwords, become credentials) at rest
// with NaCl secretbox. Sealed values are base64 strings safe to store in
// config files and database records.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey    = errors.New("secret: key must be 32 bytes, base64 encoded")
	ErrCorrupted     = errors.New("secret: sealed value is corrupted")
	ErrAuthFailed    = errors.New("secret: authentication failed")
	ErrNotConfigured = errors.New("secret: no key configured")
)

// Box seals and opens values with a single symmetric key.
type Box struct {
	key [keySize]byte
}

// NewKey returns a fresh random key, base64 encoded.
func NewKey() (string, error) {
	var k [keySize]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", fmt.Errorf("secret: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}

// New builds a Box from a base64 encoded key.
func New(encodedKey string) (*Box, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// FromFile reads a base64 key from path.
func FromFile(path string) (*Box, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: read key file %s: %w", path, err)
	}
	return New(string(data))
}

// Seal encrypts plain and returns nonce||box as base64.
func (b *Box) Seal(plain string) (string, error) {
	if b == nil {
		return "", ErrNotConfigured
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	if b == nil {
		return "", ErrNotConfigured
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrCorrupted
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrAuthFailed
	}
	return string(plain), nil
}

// WriteSealedFile seals plain and writes it to path with 0600 permissions.
func (b *Box) WriteSealedFile(path, plain string) error {
	sealed, err := b.Seal(plain)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sealed+"\n"), 0600)
}

// ReadSealedFile reads and opens a file written by WriteSealedFile.
func (b *Box) ReadSealedFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", path, err)
	}
	return b.Open(string(data))
}

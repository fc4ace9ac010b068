// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// SealedPrefix marks a sealed value: ENC:base64(nonce|ciphertext|tag).
	SealedPrefix = "ENC:"

	// KeySalt holds the base64 PBKDF2 salt next to the sealed values.
	KeySalt = "seal_salt"

	// DefaultIterations follows OWASP guidance for PBKDF2-SHA-256.
	DefaultIterations = 600000

	keySize  = 32
	saltSize = 32
)

// Sealer wraps a Store and encrypts values with AES-256-GCM under a key
// derived from a passphrase. Values written before sealing was enabled are
// returned as-is.
type Sealer struct {
	inner      Store
	passphrase []byte
	iterations int

	mu   sync.Mutex
	aead cipher.AEAD
}

// SealerOption configures a Sealer.
type SealerOption func(*Sealer)

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) SealerOption {
	return func(s *Sealer) {
		if n > 0 {
			s.iterations = n
		}
	}
}

// NewSealer returns a Sealer over inner.
func NewSealer(inner Store, passphrase string, opts ...SealerOption) *Sealer {
	s := &Sealer{
		inner:      inner,
		passphrase: []byte(passphrase),
		iterations: DefaultIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// aeadFor derives the key on first use, creating the salt if needed.
func (s *Sealer) aeadFor(ctx context.Context) (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead != nil {
		return s.aead, nil
	}

	var salt []byte
	encoded, err := s.inner.Get(ctx, KeySalt)
	switch {
	case errors.Is(err, ErrNotFound):
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := s.inner.Set(ctx, KeySalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
			return nil, fmt.Errorf("failed to store salt: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		salt, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid salt encoding: %w", err)
		}
	}

	key := pbkdf2.Key(s.passphrase, salt, s.iterations, keySize, sha256.New)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	s.aead = aead
	return aead, nil
}

// Get implements Store.
func (s *Sealer) Get(ctx context.Context, key string) (string, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(raw, SealedPrefix) {
		return raw, nil
	}
	aead, err := s.aeadFor(ctx)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrSealed, err)
	}
	nonceSize := aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrSealed)
	}
	plain, err := aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(key))
	if err != nil {
		return "", ErrSealed
	}
	return string(plain), nil
}

// Set implements Store.
func (s *Sealer) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal(ctx, key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

// Delete implements Store.
func (s *Sealer) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// SetMany implements Batch when the wrapped store does.
func (s *Sealer) SetMany(ctx context.Context, values map[string]string) error {
	sealed := make(map[string]string, len(values))
	for k, v := range values {
		enc, err := s.seal(ctx, k, v)
		if err != nil {
			return err
		}
		sealed[k] = enc
	}
	if b, ok := s.inner.(Batch); ok {
		return b.SetMany(ctx, sealed)
	}
	for k, v := range sealed {
		if err := s.inner.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMany implements Batch when the wrapped store does.
func (s *Sealer) DeleteMany(ctx context.Context, keys ...string) error {
	if b, ok := s.inner.(Batch); ok {
		return b.DeleteMany(ctx, keys...)
	}
	for _, k := range keys {
		if err := s.inner.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// seal binds the ciphertext to key through the GCM additional data, so a
// sealed access token cannot be swapped in as the refresh token.
func (s *Sealer) seal(ctx context.Context, key, value string) (string, error) {
	aead, err := s.aeadFor(ctx)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return SealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// IsSealed reports whether a raw stored value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// SECURITY: Zero key material once the cipher holds its own copy.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

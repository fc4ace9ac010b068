// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"context"
	"errors"
	"fmt"
)

// Storage keys shared by every component that touches credentials.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

var (
	// ErrNotFound is returned by Store.Get for a missing key.
	ErrNotFound = errors.New("credential not found")

	// ErrSealed means a sealed value could not be opened (wrong passphrase
	// or tampered data).
	ErrSealed = errors.New("credential could not be unsealed")
)

// Store is a small key/value store for credential strings.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Batch is implemented by stores that can write or delete several keys
// atomically. SavePair and ClearPair use it when available.
type Batch interface {
	SetMany(ctx context.Context, values map[string]string) error
	DeleteMany(ctx context.Context, keys ...string) error
}

// Pair is the access/refresh token pair. Empty strings mean absent.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Empty reports whether neither token is set.
func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// LoadPair reads both tokens. Missing keys yield empty strings.
func LoadPair(ctx context.Context, s Store) (Pair, error) {
	access, err := getOptional(ctx, s, KeyAccessToken)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := getOptional(ctx, s, KeyRefreshToken)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// SavePair overwrites both tokens.
func SavePair(ctx context.Context, s Store, p Pair) error {
	if b, ok := s.(Batch); ok {
		if err := b.SetMany(ctx, map[string]string{
			KeyAccessToken:  p.AccessToken,
			KeyRefreshToken: p.RefreshToken,
		}); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}
		return nil
	}
	if err := s.Set(ctx, KeyAccessToken, p.AccessToken); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	if err := s.Set(ctx, KeyRefreshToken, p.RefreshToken); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// ClearPair removes both tokens. Removing absent keys is not an error.
func ClearPair(ctx context.Context, s Store) error {
	if b, ok := s.(Batch); ok {
		if err := b.DeleteMany(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
			return fmt.Errorf("failed to clear credentials: %w", err)
		}
		return nil
	}
	var errs []error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken} {
		if err := s.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clear credentials: %w", errors.Join(errs...))
	}
	return nil
}

func getOptional(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

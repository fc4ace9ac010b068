// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the iss claim of every token.
const Issuer = "coca-ai"

// Token kinds carried in the typ claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

var (
	// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevokedToken means the token's session was logged out.
	ErrRevokedToken = errors.New("token revoked")
)

// Claims is the payload of access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	UID   int64  `json:"uid"`
	Email string `json:"email"`
	SSID  string `json:"ssid"`
	Kind  string `json:"typ"`
	// Gen is the access generation the token was issued in. Raising the
	// generation invalidates every older access token.
	Gen int64 `json:"gen,omitempty"`
}

// TokenIssuer signs and verifies HS256 tokens and tracks revoked sessions.
type TokenIssuer struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	generation atomic.Int64

	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewTokenIssuer returns an issuer signing with key.
func NewTokenIssuer(key []byte, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		key:        key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		revoked:    make(map[string]time.Time),
	}
}

// Issue returns a new access and refresh token for one login session.
func (ti *TokenIssuer) Issue(uid int64, email, ssid string) (access, refresh string, err error) {
	now := ti.now()
	access, err = ti.sign(Claims{
		RegisteredClaims: ti.registered(now, ti.accessTTL),
		UID:              uid,
		Email:            email,
		SSID:             ssid,
		Kind:             KindAccess,
		Gen:              ti.generation.Load(),
	})
	if err != nil {
		return "", "", err
	}
	refresh, err = ti.sign(Claims{
		RegisteredClaims: ti.registered(now, ti.refreshTTL),
		UID:              uid,
		Email:            email,
		SSID:             ssid,
		Kind:             KindRefresh,
	})
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (ti *TokenIssuer) registered(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (ti *TokenIssuer) sign(c Claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(ti.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}

// ParseAccess verifies an access token.
func (ti *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	c, err := ti.parse(token, KindAccess)
	if err != nil {
		return nil, err
	}
	if c.Gen < ti.generation.Load() {
		return nil, fmt.Errorf("%w: superseded", ErrInvalidToken)
	}
	return c, nil
}

// ParseRefresh verifies a refresh token.
func (ti *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return ti.parse(token, KindRefresh)
}

func (ti *TokenIssuer) parse(token, kind string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return ti.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, kind)
	}
	if ti.Revoked(c.SSID) {
		return nil, ErrRevokedToken
	}
	return &c, nil
}

// Revoke blacklists a login session until its refresh token would expire.
func (ti *TokenIssuer) Revoke(ssid string) {
	if ssid == "" {
		return
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	now := ti.now()
	for id, until := range ti.revoked {
		if now.After(until) {
			delete(ti.revoked, id)
		}
	}
	ti.revoked[ssid] = now.Add(ti.refreshTTL)
}

// Revoked reports whether ssid was logged out.
func (ti *TokenIssuer) Revoked(ssid string) bool {
	if ssid == "" {
		return false
	}
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	_, ok := ti.revoked[ssid]
	return ok
}

// ExpireAccessTokens makes every access token issued so far fail
// verification. Refresh tokens stay valid.
func (ti *TokenIssuer) ExpireAccessTokens() {
	ti.generation.Add(1)
}

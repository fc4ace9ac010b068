// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/coca/internal/credstore"
)

// RefreshPath is the token refresh endpoint.
const RefreshPath = "/users/refresh_token"

// Refresher exchanges a refresh token for a new pair. Concurrent callers
// holding the same refresh token share one exchange.
type Refresher struct {
	client *Client
	group  singleflight.Group

	// mu serialises check, exchange and store rewrite.
	mu sync.Mutex

	exchanges atomic.Int64
}

func newRefresher(c *Client) *Refresher {
	return &Refresher{client: c}
}

// Exchanges returns how many refresh calls reached the backend.
func (r *Refresher) Exchanges() int64 {
	return r.exchanges.Load()
}

// Refresh makes sure p holds an access token newer than stale, the token
// that drew the 401. If another call already rotated it, the stored pair is
// returned without contacting the backend.
func (r *Refresher) Refresh(ctx context.Context, p credstore.Provider, stale string) (credstore.Pair, error) {
	pair, err := p.Tokens(ctx)
	if err != nil {
		return credstore.Pair{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	if pair.AccessToken != "" && pair.AccessToken != stale {
		return pair, nil
	}
	if pair.RefreshToken == "" {
		return credstore.Pair{}, ErrNoRefreshToken
	}

	// The exchange outlives any single caller's cancellation since its
	// result is shared.
	shared := context.WithoutCancel(ctx)
	v, err, dup := r.group.Do(pair.RefreshToken, func() (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		// A flight for this refresh token may have finished between the
		// read above and now.
		cur, err := p.Tokens(shared)
		if err != nil {
			return credstore.Pair{}, fmt.Errorf("failed to read credentials: %w", err)
		}
		if cur.AccessToken != "" && cur.AccessToken != stale {
			return cur, nil
		}
		if cur.RefreshToken == "" {
			return credstore.Pair{}, ErrNoRefreshToken
		}

		fresh, err := r.exchange(shared, cur.RefreshToken)
		if err != nil {
			return credstore.Pair{}, err
		}
		if err := p.Save(shared, fresh); err != nil {
			return credstore.Pair{}, fmt.Errorf("failed to store refreshed tokens: %w", err)
		}
		return fresh, nil
	})
	if dup {
		r.client.log.Debug("token refresh shared between callers")
	}
	if err != nil {
		return credstore.Pair{}, err
	}
	return v.(credstore.Pair), nil
}

// exchange calls the refresh endpoint directly, outside the pipeline.
func (r *Refresher) exchange(ctx context.Context, refreshToken string) (credstore.Pair, error) {
	c := r.client
	ctx, span := c.tracer.Start(ctx, "api.refresh_token")
	defer span.End()
	r.exchanges.Add(1)

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return credstore.Pair{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, RefreshPath, body)
	if err != nil {
		return credstore.Pair{}, fmt.Errorf("failed to create refresh request: %w", err)
	}

	resp, err := c.send(ctx, c.refreshClient, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return credstore.Pair{}, fmt.Errorf("refresh request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := c.errorFrom("refresh token", resp)
		span.SetStatus(codes.Error, err.Error())
		return credstore.Pair{}, err
	}
	raw, err := readResponse(resp)
	if err != nil {
		return credstore.Pair{}, fmt.Errorf("refresh token: %w", err)
	}
	var env Envelope[TokenPair]
	if err := json.Unmarshal(raw, &env); err != nil {
		span.SetStatus(codes.Error, "undecodable body")
		return credstore.Pair{}, fmt.Errorf("refresh token: failed to parse response: %w", err)
	}
	if env.Code != CodeOK {
		err := &APIError{Op: "refresh token", Status: resp.StatusCode, Code: env.Code, Message: env.Msg}
		span.SetStatus(codes.Error, err.Error())
		return credstore.Pair{}, err
	}
	tokens := env.Data
	if tokens.AccessToken == "" {
		span.SetStatus(codes.Error, "empty access token")
		return credstore.Pair{}, fmt.Errorf("refresh token: response carried no access token")
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return credstore.Pair{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeranaias/coca/internal/credstore"
)

// Account endpoints.
const (
	SignupPath = "/users/signup"
	LoginPath  = "/users/login"
	LogoutPath = "/users/logout"
)

// ErrPasswordMismatch is returned by Signup before any request is made.
var ErrPasswordMismatch = errors.New("passwords do not match")

// Signup registers a new account. It does not log in.
func (c *Client) Signup(ctx context.Context, email, password, confirmPassword string) error {
	if password != confirmPassword {
		return ErrPasswordMismatch
	}
	cl, err := newCall("signup", http.MethodPost, SignupPath, signupRequest{
		Email:           email,
		Password:        password,
		ConfirmPassword: confirmPassword,
	})
	if err != nil {
		return err
	}
	cl.skipAuthRetry = true
	return c.do(ctx, cl, nil)
}

// Login exchanges credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (credstore.Pair, error) {
	cl, err := newCall("login", http.MethodPost, LoginPath, loginRequest{Email: email, Password: password})
	if err != nil {
		return credstore.Pair{}, err
	}
	cl.skipAuthRetry = true

	var tokens TokenPair
	if err := c.do(ctx, cl, &tokens); err != nil {
		return credstore.Pair{}, err
	}
	if tokens.AccessToken == "" {
		return credstore.Pair{}, fmt.Errorf("login: response carried no access token")
	}

	pair := credstore.Pair{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}
	if err := c.providerFor(ctx).Save(ctx, pair); err != nil {
		return credstore.Pair{}, fmt.Errorf("failed to store tokens: %w", err)
	}
	c.log.Debug("logged in", "email", email)
	return pair, nil
}

// Logout ends the server session and clears the local tokens. The tokens
// are cleared even when the server call fails; that error is still
// returned. An expired session counts as logged out.
func (c *Client) Logout(ctx context.Context) error {
	provider := c.providerFor(ctx)
	pair, err := provider.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if pair.Empty() {
		return nil
	}

	cl, _ := newCall("logout", http.MethodPost, LogoutPath, nil)
	// A failed logout must not send the user to the login hook.
	cl.skipAuthRetry = true
	callErr := c.do(ctx, cl, nil)

	if err := provider.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	if callErr != nil && !isAuthFailure(callErr) {
		return callErr
	}
	return nil
}

// RefreshToken forces a refresh with the stored refresh token. On failure
// the tokens are cleared and the error matches ErrLoginRequired.
func (c *Client) RefreshToken(ctx context.Context) (credstore.Pair, error) {
	provider := c.providerFor(ctx)
	pair, err := provider.Tokens(ctx)
	if err != nil {
		return credstore.Pair{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	fresh, err := c.refresher.Refresh(ctx, provider, pair.AccessToken)
	if err != nil {
		if cerr := provider.Clear(ctx); cerr != nil {
			c.log.Warn("failed to clear credentials", "error", cerr)
		}
		c.loginRequired(ctx)
		return credstore.Pair{}, fmt.Errorf("%w: %w", ErrLoginRequired, err)
	}
	return fresh, nil
}

// Authenticated reports whether an access token is stored. It does not
// check that the token is still valid.
func (c *Client) Authenticated(ctx context.Context) bool {
	pair, err := c.providerFor(ctx).Tokens(ctx)
	return err == nil && pair.AccessToken != ""
}

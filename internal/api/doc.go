// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the chat backend.
//
// Every call except the account endpoints goes through an authenticated
// pipeline: the access token is read from the credential store before each
// attempt and attached as a bearer token. A 401 triggers at most one token
// refresh per logical request, after which the request is replayed once.
// If the refresh cannot succeed both tokens are cleared, the login-required
// hook runs and the original 401 is returned as an error matching
// ErrLoginRequired.
//
// # Key Types
//
//   - Client: backend operations (sessions, messages, accounts)
//   - Refresher: single-flight token refresh shared by concurrent calls
//   - APIError: typed error for non-2xx responses and envelope failures
//
// # Usage
//
//	store := credstore.NewMemoryStore()
//	client := api.NewClient("http://localhost:8080", store,
//	    api.WithLoginRequired(func(ctx context.Context) { fmt.Println("please log in") }),
//	)
//	sessions, err := client.ListSessions(ctx)
//
//	cancel := client.SendMessage(ctx, sessions[0].SessionID, "hello", stream.Callbacks{
//	    OnMessage: func(delta string) { fmt.Print(delta) },
//	})
//	defer cancel()
package api

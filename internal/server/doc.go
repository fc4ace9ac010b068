// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is an in-memory development backend for the chat client.
//
// It implements the same contract as the production backend so the CLI can
// be used and tested without one:
//
//	POST   /users/signup                 register
//	POST   /users/login                  issue access and refresh tokens
//	POST   /users/refresh_token          rotate tokens, same login session
//	POST   /users/logout                 revoke the login session
//	POST   /chat/sessions                create a session
//	GET    /chat/sessions                list sessions
//	DELETE /chat/sessions/{id}           delete a session
//	GET    /chat/sessions/{id}/messages  message history
//	POST   /chat/sessions/{id}/messages  send, reply streamed as event:/data: lines
//	GET    /health                       liveness
//
// JSON responses use the {code, msg, data} envelope. Unauthenticated chat
// requests get a bare 401. Tokens are HS256 JWTs; ExpireAccessTokens
// invalidates every access token at once so refresh handling can be
// exercised end to end.
package server

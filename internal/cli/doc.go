// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the coca command line.
//
// Run parses the arguments, builds an App (config, credential store, API
// client) and dispatches to one Handle* method per command. Every command
// accepts the global --json flag and then writes a single envelope:
//
//	{"success": true, "command": "sessions", "data": [...], "timestamp": "..."}
//
// # Usage
//
//	os.Exit(cli.Run(ctx, os.Args[1:]))
//
// # Commands Overview
//
// Account:
//   - signup, login, logout: account and token lifecycle
//   - whoami: decode the stored access token
//   - auth refresh: exchange the refresh token now
//
// Conversations:
//   - sessions: list, create and delete backend sessions
//   - history: print a session's messages, optionally saving a transcript
//   - send: stream one reply to stdout
//   - chat: line-based interactive chat
//   - tui: full-screen chat built on internal/ui/chat
//
// Local:
//   - transcripts: saved conversations (list, show, search, export, rm)
//   - config: show, get and set configuration values
//
// Exit codes are listed in errors.go; GetExitCode maps errors to them.
package cli

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps local transcripts of chat sessions.
//
// A transcript is a snapshot of one backend session's messages, saved when
// the user asks for it (coca history --save) so it can be read, searched and
// exported without a connection. Each session is one JSON file named
// session-<id>.json in the transcript directory; saving again replaces it.
//
//	store, err := storage.NewTranscriptStore(dir, 200)
//	err = store.Save(storage.NewTranscript(sess, messages))
//	metas, err := store.List()
//	md := storage.ExportMarkdown(t)
package storage

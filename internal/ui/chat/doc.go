// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat is the full-screen chat view behind "coca tui".

The Model is a Bubble Tea model. Each reply is a stream.Reader; the model
pulls one event per command (nextEventCmd), so the streamed text is appended
in arrival order and the UI stays responsive while a reply is in flight.

# Keys

	Enter      send the message
	Esc/C-c    cancel the reply in flight; C-c quits when idle
	C-n        start a new session
	PgUp/PgDn  scroll the conversation
	C-q        quit

When the backend reports that the stored credentials are no longer usable,
the view shows a banner and stops accepting input; LoginRequired then
reports true so the caller can exit with an authentication error.
*/
package chat

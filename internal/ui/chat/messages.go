// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/stream"
)

// SessionLoadedMsg delivers the history of the session being resumed.
type SessionLoadedMsg struct {
	SessionID int64
	Messages  []api.Message
	Err       error
}

// SessionCreatedMsg reports a newly created session.
type SessionCreatedMsg struct {
	Session *api.Session
	Err     error
}

// StreamEventMsg carries one event of the reply in flight.
type StreamEventMsg struct {
	Event stream.Event
	// reader is the stream the event came from; events of a stream that
	// is no longer current are dropped.
	reader *stream.Reader
}

// StreamEndMsg reports that the reply stream reached a terminal state.
type StreamEndMsg struct {
	State  stream.State
	Err    error
	reader *stream.Reader
}

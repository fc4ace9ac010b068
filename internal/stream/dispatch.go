// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"io"
)

// Callbacks receives the events of one stream. Nil hooks are skipped.
type Callbacks struct {
	// OnMessage is called once per non-empty delta, in arrival order.
	OnMessage func(delta string)
	// OnDone is called when the stored assistant message arrives.
	OnDone func(messageID int64, content string)
	// OnError is called for backend error events and for transport or
	// status failures. Cancellation never reaches it.
	OnError func(reason string)
}

// Dispatch drives r to the end, invoking cb for every event, and returns
// the final state. It blocks; run it on its own goroutine for
// fire-and-forget use.
func Dispatch(r *Reader, cb Callbacks) State {
	defer r.Close()
	for {
		ev, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrCancelled) && cb.OnError != nil {
				cb.OnError(err.Error())
			}
			return r.State()
		}

		switch ev.Kind {
		case KindDelta:
			if cb.OnMessage != nil {
				cb.OnMessage(ev.Delta)
			}
		case KindDone:
			if cb.OnDone != nil {
				cb.OnDone(ev.MessageID, ev.Content)
			}
		case KindError:
			if cb.OnError != nil {
				cb.OnError(ev.Msg)
			}
		}
	}
}

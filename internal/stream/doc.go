// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a chunked chat reply into typed events.
//
// The wire format is newline-delimited text. Lines beginning with "event:"
// name the next event and are informational only. Lines beginning with
// "data:" carry a JSON object whose shape decides what it means:
//
//	{"delta": "..."}                    text appended to the reply
//	{"message_id": 5, "content": "..."} the reply is complete
//	{"msg": "..."}                      the backend reported an error
//
// # Key Types
//
//   - Reader: a lazy, pull-based sequence of Events over one response.
//     Cancellation is the context given to New, or Close.
//   - Event: one parsed record (delta, done or error)
//   - Callbacks: OnMessage/OnDone/OnError hooks driven by Dispatch
//
// # Usage
//
//	r := stream.New(ctx, opener)
//	defer r.Close()
//	for {
//	    ev, err := r.Next()
//	    if err != nil {
//	        break // io.EOF, ErrCancelled or a transport error
//	    }
//	    fmt.Print(ev.Delta)
//	}
package stream

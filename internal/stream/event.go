// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Line prefixes recognised on the wire.
const (
	EventPrefix = "event:"
	DataPrefix  = "data:"
)

// Kind classifies an Event.
type Kind int

const (
	// KindDelta carries a fragment of assistant text.
	KindDelta Kind = iota + 1
	// KindDone marks the stored assistant message.
	KindDone
	// KindError carries an error reported by the backend.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one record parsed from a data line.
type Event struct {
	Kind Kind

	// Name is the most recent "event:" name seen before the data line, if
	// any. It never decides Kind.
	Name string

	Delta     string
	MessageID int64
	Content   string
	Msg       string
}

// ParseData interprets one data payload (the text after "data:", trimmed).
// A single payload can produce up to three events, always in the order
// delta, done, error. Invalid JSON or a non-object yields nil.
func ParseData(payload string) []Event {
	if payload == "" || !gjson.Valid(payload) {
		return nil
	}
	obj := gjson.Parse(payload)
	if !obj.IsObject() {
		return nil
	}

	var events []Event
	if delta := obj.Get("delta"); delta.Type == gjson.String && delta.Str != "" {
		events = append(events, Event{Kind: KindDelta, Delta: delta.Str})
	}
	id, content := obj.Get("message_id"), obj.Get("content")
	if id.Exists() && content.Exists() {
		events = append(events, Event{Kind: KindDone, MessageID: id.Int(), Content: content.String()})
	}
	if msg := obj.Get("msg"); msg.Type == gjson.String && msg.Str != "" {
		events = append(events, Event{Kind: KindError, Msg: msg.Str})
	}
	return events
}

// lineKind is the classification of one complete line.
type lineKind int

const (
	lineOther lineKind = iota
	lineEvent
	lineData
)

// classifyLine splits a complete line (without its newline) into its kind
// and the trimmed remainder. A trailing carriage return is ignored.
func classifyLine(line string) (lineKind, string) {
	line = strings.TrimSuffix(line, "\r")
	switch {
	case strings.HasPrefix(line, EventPrefix):
		return lineEvent, strings.TrimSpace(line[len(EventPrefix):])
	case strings.HasPrefix(line, DataPrefix):
		return lineData, strings.TrimSpace(line[len(DataPrefix):])
	default:
		return lineOther, ""
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jeranaias/coca/internal/api"
)

// Replier produces the assistant's reply to a user message. emit is called
// for every fragment in order; the returned string is the full reply.
type Replier interface {
	Reply(ctx context.Context, history []api.Message, content string, emit func(delta string) error) (string, error)
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, history []api.Message, content string, emit func(delta string) error) (string, error)

// Reply implements Replier.
func (f ReplierFunc) Reply(ctx context.Context, history []api.Message, content string, emit func(string) error) (string, error) {
	return f(ctx, history, content, emit)
}

// EchoReplier answers by repeating the message word by word.
type EchoReplier struct {
	// Delay is the pause between words.
	Delay time.Duration
}

// Reply implements Replier.
func (e EchoReplier) Reply(ctx context.Context, history []api.Message, content string, emit func(string) error) (string, error) {
	text := "You said: " + content
	var sb strings.Builder
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		if e.Delay > 0 {
			select {
			case <-ctx.Done():
				return sb.String(), ctx.Err()
			case <-time.After(e.Delay):
			}
		}
		if err := emit(word); err != nil {
			return sb.String(), err
		}
		sb.WriteString(word)
	}
	return sb.String(), nil
}

// ErrReplyFailed is what FailingReplier returns.
var ErrReplyFailed = errors.New("model unavailable")

// FailingReplier emits a prefix and then fails, for exercising error events.
type FailingReplier struct {
	Prefix string
}

// Reply implements Replier.
func (f FailingReplier) Reply(_ context.Context, _ []api.Message, _ string, emit func(string) error) (string, error) {
	if f.Prefix != "" {
		if err := emit(f.Prefix); err != nil {
			return "", err
		}
	}
	return f.Prefix, ErrReplyFailed
}

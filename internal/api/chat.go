// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/coca/internal/stream"
)

const sessionsPath = "/chat/sessions"

func sessionPath(id int64) string {
	return fmt.Sprintf("%s/%d", sessionsPath, id)
}

func messagesPath(id int64) string {
	return fmt.Sprintf("%s/%d/messages", sessionsPath, id)
}

// CreateSession starts a new conversation.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	cl, _ := newCall("create session", http.MethodPost, sessionsPath, nil)
	var s Session
	if err := c.do(ctx, cl, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns the user's conversations. A response without data
// yields an empty list.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	cl, _ := newCall("list sessions", http.MethodGet, sessionsPath, nil)
	var sessions []Session
	if err := c.do(ctx, cl, &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// DeleteSession removes a conversation. The response body is ignored
// beyond its status.
func (c *Client) DeleteSession(ctx context.Context, sessionID int64) error {
	cl, _ := newCall("delete session", http.MethodDelete, sessionPath(sessionID), nil)
	return c.do(ctx, cl, nil)
}

// ListMessages returns the history of a conversation, oldest first. A
// response without data yields an empty list.
func (c *Client) ListMessages(ctx context.Context, sessionID int64) ([]Message, error) {
	cl, _ := newCall("list messages", http.MethodGet, messagesPath(sessionID), nil)
	var messages []Message
	if err := c.do(ctx, cl, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}

// =============================================================================
// STREAMED SEND
// =============================================================================

// OpenStream posts content to a session and returns a Reader over the
// streamed reply. The access token is read once, now; a streamed send is
// never refreshed or retried. The request is made on the first Next.
// Cancelling ctx or closing the Reader aborts it.
func (c *Client) OpenStream(ctx context.Context, sessionID int64, content string) *stream.Reader {
	provider := c.providerFor(ctx)
	pair, tokenErr := provider.Tokens(ctx)
	body, marshalErr := json.Marshal(sendMessageRequest{Content: content})

	opener := func(ctx context.Context) (*http.Response, error) {
		if tokenErr != nil {
			return nil, fmt.Errorf("failed to read credentials: %w", tokenErr)
		}
		if marshalErr != nil {
			return nil, marshalErr
		}

		ctx, span := c.tracer.Start(ctx, "api.send_message",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.Int64("coca.session_id", sessionID)))
		defer span.End()

		req, err := c.newRequest(ctx, http.MethodPost, messagesPath(sessionID), body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		if pair.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		}
		resp, err := c.send(ctx, c.streamClient, req)
		if err == nil {
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		}
		return resp, err
	}

	opts := []stream.Option{stream.WithLogger(c.log)}
	if c.streamIdleTimeout > 0 {
		opts = append(opts, stream.WithIdleTimeout(c.streamIdleTimeout))
	}
	return stream.New(ctx, opener, opts...)
}

// SendMessage streams a reply to content, delivering events to cb on a
// separate goroutine. Failures are reported through cb.OnError; the
// returned function cancels the stream and suppresses further callbacks.
func (c *Client) SendMessage(ctx context.Context, sessionID int64, content string, cb stream.Callbacks) (cancel func()) {
	ctx, stop := context.WithCancel(ctx)
	r := c.OpenStream(ctx, sessionID, content)
	go func() {
		defer stop()
		stream.Dispatch(r, cb)
	}()
	return func() {
		stop()
		r.Close()
	}
}

// SendMessageSync is SendMessage that blocks until the stream ends and
// returns its final state.
func (c *Client) SendMessageSync(ctx context.Context, sessionID int64, content string, cb stream.Callbacks) stream.State {
	r := c.OpenStream(ctx, sessionID, content)
	return stream.Dispatch(r, cb)
}

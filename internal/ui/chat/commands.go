// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/stream"
)

// Backend is the part of api.Client the chat view needs.
type Backend interface {
	CreateSession(ctx context.Context) (*api.Session, error)
	ListMessages(ctx context.Context, sessionID int64) ([]api.Message, error)
	OpenStream(ctx context.Context, sessionID int64, content string) *stream.Reader
}

func loadSessionCmd(ctx context.Context, b Backend, id int64) tea.Cmd {
	return func() tea.Msg {
		msgs, err := b.ListMessages(ctx, id)
		return SessionLoadedMsg{SessionID: id, Messages: msgs, Err: err}
	}
}

func createSessionCmd(ctx context.Context, b Backend) tea.Cmd {
	return func() tea.Msg {
		sess, err := b.CreateSession(ctx)
		return SessionCreatedMsg{Session: sess, Err: err}
	}
}

// nextEventCmd blocks on the reader for one event. The model issues it
// again after every StreamEventMsg until a StreamEndMsg arrives.
func nextEventCmd(r *stream.Reader) tea.Cmd {
	return func() tea.Msg {
		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return StreamEndMsg{State: r.State(), Err: err, reader: r}
		}
		return StreamEventMsg{Event: ev, reader: r}
	}
}

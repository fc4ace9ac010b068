// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - Backend chat session commands.
//
// Command: sessions [subcommand]
//   list (default)     List sessions, most recently updated first
//   new                Create an empty session
//   rm <id> [--yes]    Delete a session and its messages
//
// Command: history <id> [--save]
//   Print a session's messages; --save also writes a local transcript.

package cli

import (
	"context"
	"fmt"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/storage"
)

// HandleSessions dispatches the sessions subcommands.
func (a *App) HandleSessions(ctx context.Context, args []string) error {
	p := NewArgParser(args, "yes", "y")
	if err := a.requireLogin(ctx); err != nil {
		return err
	}

	switch p.Subcommand() {
	case "", "list", "ls":
		return a.listSessions(ctx)
	case "new", "create":
		return a.newSession(ctx)
	case "rm", "delete", "del":
		id, err := ParseSessionID(p.Positional(1))
		if err != nil {
			return err
		}
		return a.deleteSession(ctx, id, p.BoolFlag("yes") || p.BoolFlag("y"))
	default:
		return NewValidationErrorWithExample("sessions subcommand", p.Subcommand(),
			"must be list, new or rm", "coca sessions rm 3")
	}
}

func (a *App) listSessions(ctx context.Context) error {
	sessions, err := a.Client.ListSessions(ctx)
	if err != nil {
		return err
	}
	if a.Globals.JSON {
		if sessions == nil {
			sessions = []api.Session{}
		}
		return a.outputJSON("sessions", sessions)
	}
	a.printf("%s", sessionTable(sessions, GetTerminalWidth()))
	return nil
}

func (a *App) newSession(ctx context.Context) error {
	sess, err := a.Client.CreateSession(ctx)
	if err != nil {
		return err
	}
	if a.Globals.JSON {
		return a.outputJSON("sessions new", sess)
	}
	a.printf("%s Created session %d\n", SuccessStyle.Render("✓"), sess.SessionID)
	return nil
}

func (a *App) deleteSession(ctx context.Context, id int64, yes bool) error {
	ok, err := a.confirm(yes, fmt.Sprintf("delete session %d", id), nil)
	if err != nil {
		return err
	}
	if !ok {
		a.cancelled()
		return nil
	}
	if err := a.Client.DeleteSession(ctx, id); err != nil {
		return err
	}
	if a.Globals.JSON {
		return a.outputJSON("sessions rm", map[string]int64{"deleted": id})
	}
	a.printf("Deleted session %d\n", id)
	return nil
}

// HandleHistory prints the messages of one session.
func (a *App) HandleHistory(ctx context.Context, args []string) error {
	p := NewArgParser(args, "save")
	if p.PositionalCount() == 0 {
		return ErrMissingArgument("session id", "coca history 3")
	}
	id, err := ParseSessionID(p.Positional(0))
	if err != nil {
		return err
	}
	if err := a.requireLogin(ctx); err != nil {
		return err
	}

	msgs, err := a.Client.ListMessages(ctx, id)
	if err != nil {
		return err
	}

	if p.BoolFlag("save") {
		if err := a.saveTranscript(ctx, id, msgs); err != nil {
			return err
		}
	}

	if a.Globals.JSON {
		if msgs == nil {
			msgs = []api.Message{}
		}
		return a.outputJSON("history", map[string]any{"session_id": id, "messages": msgs})
	}
	if len(msgs) == 0 {
		a.printf("Session %d has no messages.\n", id)
		return nil
	}
	a.renderMessages(msgs)
	return nil
}

// saveTranscript stores msgs locally under the session's current title.
func (a *App) saveTranscript(ctx context.Context, id int64, msgs []api.Message) error {
	ts, err := a.Transcripts()
	if err != nil {
		return err
	}
	sess := api.Session{SessionID: id}
	if sessions, err := a.Client.ListSessions(ctx); err == nil {
		for _, s := range sessions {
			if s.SessionID == id {
				sess = s
				break
			}
		}
	}
	t := storage.NewTranscript(sess, msgs)
	t.BaseURL = a.Client.BaseURL()
	if err := ts.Save(t); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	a.info("%s Saved transcript for session %d", SuccessStyle.Render("✓"), id)
	return nil
}

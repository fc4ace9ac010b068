// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// send_cmd.go - One-shot message command.
//
// Command: send <id> <message...>
//          send --new <message...>
//
// The reply is printed as it streams. A message of "-", or no message with
// piped stdin, is read from stdin. Ctrl+C cancels the reply.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jeranaias/coca/internal/credstore"
	"github.com/jeranaias/coca/internal/stream"
)

// ErrEmptyMessage is returned when there is nothing to send.
var ErrEmptyMessage = errors.New("message is empty")

// HandleSend posts one message and streams the reply to stdout.
func (a *App) HandleSend(ctx context.Context, args []string) error {
	p := NewArgParser(args, "new")

	var (
		id  int64
		err error
	)
	words := p.PositionalFrom(0)
	if !p.BoolFlag("new") {
		if p.PositionalCount() == 0 {
			return ErrMissingArgument("session id", "coca send 3 \"hello\"  or  coca send --new \"hello\"")
		}
		if id, err = ParseSessionID(p.Positional(0)); err != nil {
			return err
		}
		words = p.PositionalFrom(1)
	}

	content, err := a.messageContent(words)
	if err != nil {
		return err
	}
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	if err := a.ensureFreshToken(ctx); err != nil {
		return err
	}

	if id == 0 {
		sess, err := a.Client.CreateSession(ctx)
		if err != nil {
			return err
		}
		id = sess.SessionID
		a.info("%s", DimStyle.Render(fmt.Sprintf("session %d", id)))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	out := a.Stdout
	if a.Globals.JSON {
		out = io.Discard
	}
	data, err := a.streamReply(ctx, id, content, out)
	if a.Globals.JSON {
		if err != nil {
			data.Error = err.Error()
		}
		if jerr := a.outputJSON("send", data); jerr != nil {
			return jerr
		}
		return err
	}
	if errors.Is(err, stream.ErrCancelled) || errors.Is(err, context.Canceled) {
		fmt.Fprintln(a.Stderr, "\n"+WarningStyle.Render("[cancelled]"))
	}
	return err
}

// messageContent joins words, falling back to stdin for "-" or when no
// words were given and stdin is not a terminal.
func (a *App) messageContent(words []string) (string, error) {
	content := strings.Join(words, " ")
	if content == "-" || (content == "" && !(isStdStream(a.Stdin) && IsTTY())) {
		b, err := io.ReadAll(a.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read message from stdin: %w", err)
		}
		content = string(b)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}
	return content, nil
}

// ReplyError is an error event reported by the backend mid-stream.
type ReplyError struct {
	Reason string
}

func (e *ReplyError) Error() string { return "reply failed: " + e.Reason }

// streamReply sends content and copies reply deltas to w as they arrive.
// The returned SendData reflects whatever was received, even on error.
func (a *App) streamReply(ctx context.Context, id int64, content string, w io.Writer) (SendData, error) {
	r := a.Client.OpenStream(ctx, id, content)
	defer r.Close()

	data := SendData{SessionID: id}
	var (
		replyErr error
		wrote    bool
		text     strings.Builder
	)
	for {
		ev, err := r.Next()
		if err != nil {
			data.State = r.State().String()
			if data.Content == "" {
				data.Content = text.String()
			}
			if wrote {
				fmt.Fprintln(w)
			}
			if errors.Is(err, io.EOF) {
				return data, replyErr
			}
			return data, err
		}

		switch ev.Kind {
		case stream.KindDelta:
			text.WriteString(ev.Delta)
			fmt.Fprint(w, ev.Delta)
			wrote = true
		case stream.KindDone:
			data.MessageID = ev.MessageID
			data.Content = ev.Content
		case stream.KindError:
			replyErr = &ReplyError{Reason: ev.Msg}
		}
	}
}

// ensureFreshToken refreshes an expired access token before a streamed
// send, which is never retried after a 401.
func (a *App) ensureFreshToken(ctx context.Context) error {
	pair, err := credstore.LoadPair(ctx, a.Creds)
	if err != nil {
		return err
	}
	if pair.RefreshToken == "" {
		return nil
	}
	info, err := describeTokens(pair, time.Now().Add(5*time.Second))
	if err == nil && pair.AccessToken != "" && !info.Expired {
		return nil
	}
	a.log.Debug("refreshing access token before streaming")
	_, err = a.Client.RefreshToken(ctx)
	return err
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive line-mode chat.
//
// Command: chat [id]
//
// Commands inside the REPL:
//   /new            start a new session
//   /sessions       list sessions
//   /switch <id>    continue another session
//   /history        print the current session
//   /save           save the current session as a transcript
//   /help           show this list
//   /quit           leave (also Ctrl+D, or Ctrl+C at the prompt)

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/config"
	"github.com/jeranaias/coca/internal/stream"
)

const chatHelp = `Commands:
  /new            start a new session
  /sessions       list sessions
  /switch <id>    continue another session
  /history        print the current session
  /save           save the current session as a transcript
  /help           show this list
  /quit           leave
`

// errQuit ends the REPL without an error.
var errQuit = errors.New("quit")

// prompter reads one line of input.
type prompter interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// linePrompter is a liner.State with persistent history.
type linePrompter struct {
	*liner.State
	historyFile string
}

func newLinePrompter() *linePrompter {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	p := &linePrompter{State: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(p.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return p
}

func (p *linePrompter) Prompt(prompt string) (string, error) {
	input, err := p.State.Prompt(prompt)
	if err == nil && strings.TrimSpace(input) != "" {
		p.AppendHistory(input)
	}
	return input, err
}

func (p *linePrompter) Close() error {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(p.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			p.WriteHistory(f)
			f.Close()
		}
	}
	return p.State.Close()
}

// plainPrompter reads from App.Stdin; used when stdin is not a terminal.
type plainPrompter struct{ app *App }

func (p plainPrompter) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.app.Stdout, prompt)
	return p.app.readLine("")
}

func (p plainPrompter) Close() error { return nil }

// chatREPL holds the state of one interactive chat.
type chatREPL struct {
	app     *App
	in      prompter
	session int64
}

// HandleChat runs the interactive chat loop.
func (a *App) HandleChat(ctx context.Context, args []string) error {
	p := NewArgParser(args)
	if err := a.requireLogin(ctx); err != nil {
		return err
	}

	c := &chatREPL{app: a}
	if p.PositionalCount() > 0 {
		id, err := ParseSessionID(p.Positional(0))
		if err != nil {
			return err
		}
		c.session = id
	}

	if isStdStream(a.Stdin) && IsTTY() {
		c.in = newLinePrompter()
	} else {
		c.in = plainPrompter{app: a}
	}
	defer c.in.Close()

	a.info("%s", TitleStyle.Render("coca chat")+DimStyle.Render("  /help for commands, /quit to leave"))
	return c.loop(ctx)
}

func (c *chatREPL) prompt() string {
	if c.session == 0 {
		return UserStyle.Render("new") + "> "
	}
	return UserStyle.Render(fmt.Sprintf("#%d", c.session)) + "> "
}

func (c *chatREPL) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		input, err := c.in.Prompt(c.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(c.app.Stdout)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			err = c.command(ctx, input)
		} else {
			err = c.send(ctx, input)
		}
		switch {
		case errors.Is(err, errQuit):
			return nil
		case loginRequired(err):
			return err
		case err != nil:
			fmt.Fprintf(c.app.Stderr, "%s %v\n", ErrorStyle.Render("[error]"), err)
		}
	}
}

// loginRequired reports whether err means the stored credentials are no
// longer usable.
func loginRequired(err error) bool {
	if err == nil {
		return false
	}
	if api.IsLoginRequired(err) || errors.Is(err, ErrNotLoggedIn) {
		return true
	}
	var se *stream.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

func (c *chatREPL) command(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	switch name {
	case "/quit", "/exit", "/q":
		return errQuit
	case "/help", "/?":
		fmt.Fprint(c.app.Stdout, chatHelp)
	case "/new":
		sess, err := c.app.Client.CreateSession(ctx)
		if err != nil {
			return err
		}
		c.session = sess.SessionID
		c.app.printf("%s\n", DimStyle.Render(fmt.Sprintf("started session %d", c.session)))
	case "/sessions":
		return c.app.listSessions(ctx)
	case "/switch":
		if len(fields) < 2 {
			return ErrMissingArgument("session id", "/switch 3")
		}
		id, err := ParseSessionID(fields[1])
		if err != nil {
			return err
		}
		// Fetching the messages proves the session exists.
		msgs, err := c.app.Client.ListMessages(ctx, id)
		if err != nil {
			return err
		}
		c.session = id
		c.app.printf("%s\n", DimStyle.Render(fmt.Sprintf("switched to session %d (%d messages)", id, len(msgs))))
	case "/history", "/save":
		if c.session == 0 {
			return errors.New("no session yet; send a message or use /new")
		}
		msgs, err := c.app.Client.ListMessages(ctx, c.session)
		if err != nil {
			return err
		}
		if name == "/save" {
			return c.app.saveTranscript(ctx, c.session, msgs)
		}
		c.app.renderMessages(msgs)
	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}

// send streams one turn. Ctrl+C cancels the reply but keeps the REPL.
func (c *chatREPL) send(ctx context.Context, content string) error {
	if c.session == 0 {
		sess, err := c.app.Client.CreateSession(ctx)
		if err != nil {
			return err
		}
		c.session = sess.SessionID
	}
	if err := c.app.ensureFreshToken(ctx); err != nil {
		return err
	}

	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	c.app.printf("%s ", AssistantStyle.Render("›"))
	_, err := c.app.streamReply(turnCtx, c.session, content, c.app.Stdout)
	if errors.Is(err, stream.ErrCancelled) || errors.Is(err, context.Canceled) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintln(c.app.Stdout, WarningStyle.Render("[cancelled]"))
		return nil
	}
	return err
}

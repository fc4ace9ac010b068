// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/stream"
	"github.com/jeranaias/coca/internal/ui/styles"
)

// Layout rows outside the viewport.
const (
	headerHeight = 1
	inputHeight  = 3
	statusHeight = 1
)

// Options configures a Model.
type Options struct {
	// SessionID resumes an existing session. Zero creates one on the
	// first message.
	SessionID int64
	// Theme is "auto", "dark" or "light".
	Theme string
	// Markdown renders finished assistant messages with glamour.
	Markdown bool
	// BaseURL is shown in the header.
	BaseURL string
	// Context bounds every backend call. Nil means context.Background.
	Context context.Context
}

// entry is one rendered line of the conversation.
type entry struct {
	msg api.Message
	// note is an annotation shown under the message, e.g. "[cancelled]".
	note string
}

// Model is the Bubble Tea model of the chat view.
type Model struct {
	ctx     context.Context
	backend Backend
	opts    Options
	keys    KeyMap
	theme   *styles.Theme

	width  int
	height int

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	md       *glamour.TermRenderer

	session int64
	entries []entry

	// Reply in flight.
	reader    *stream.Reader
	reply     string
	replyID   int64
	replyDone string
	replyErr  string
	pending   string
	cancelMgr *cancelManager

	status        string
	err           error
	loginRequired bool
}

// New creates a chat Model backed by b.
func New(b Backend, opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Prompt = "› "
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	theme := styles.NewTheme(opts.Theme)
	sp.Style = theme.Spinner

	return Model{
		ctx:       ctx,
		backend:   b,
		opts:      opts,
		keys:      DefaultKeyMap(),
		theme:     theme,
		input:     ti,
		viewport:  viewport.New(0, 0),
		spinner:   sp,
		session:   opts.SessionID,
		cancelMgr: newCancelManager(),
	}
}

// Init loads the resumed session, if any.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.session > 0 {
		cmds = append(cmds, loadSessionCmd(m.ctx, m.backend, m.session))
	}
	return tea.Batch(cmds...)
}

// SessionID returns the current session, or zero before one exists.
func (m Model) SessionID() int64 { return m.session }

// Streaming reports whether a reply is in flight.
func (m Model) Streaming() bool { return m.reader != nil }

// LoginRequired reports whether the backend rejected the stored credentials.
func (m Model) LoginRequired() bool { return m.loginRequired }

// Messages returns the conversation shown so far.
func (m Model) Messages() []api.Message {
	out := make([]api.Message, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.msg
	}
	return out
}

// Update handles Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SessionLoadedMsg:
		if msg.Err != nil {
			return m.fail(msg.Err), nil
		}
		m.session = msg.SessionID
		m.entries = m.entries[:0]
		for _, x := range msg.Messages {
			m.entries = append(m.entries, entry{msg: x})
		}
		m.refresh()
		return m, nil

	case SessionCreatedMsg:
		if msg.Err != nil {
			m.pending = ""
			return m.fail(msg.Err), nil
		}
		m.session = msg.Session.SessionID
		m.entries = nil
		m.status = "new session"
		if content := m.pending; content != "" {
			m.pending = ""
			return m.startStream(content)
		}
		m.refresh()
		return m, nil

	case StreamEventMsg:
		if msg.reader != m.reader {
			return m, nil
		}
		switch msg.Event.Kind {
		case stream.KindDelta:
			m.reply += msg.Event.Delta
		case stream.KindDone:
			m.replyID = msg.Event.MessageID
			m.replyDone = msg.Event.Content
		case stream.KindError:
			m.replyErr = msg.Event.Msg
		}
		m.refresh()
		return m, nextEventCmd(m.reader)

	case StreamEndMsg:
		if msg.reader != m.reader {
			return m, nil
		}
		return m.finishStream(msg), nil

	case spinner.TickMsg:
		if m.reader == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancelMgr.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.cancelMgr.cancel() {
			m.status = "cancelling..."
			return m, nil
		}
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case key.Matches(msg, m.keys.NewSession):
		if m.reader != nil || m.loginRequired {
			return m, nil
		}
		m.status = "creating session..."
		return m, createSessionCmd(m.ctx, m.backend)

	case key.Matches(msg, m.keys.Submit):
		content := strings.TrimSpace(m.input.Value())
		if content == "" || m.reader != nil || m.pending != "" || m.loginRequired {
			return m, nil
		}
		m.input.SetValue("")
		m.err = nil
		if m.session == 0 {
			m.pending = content
			m.status = "creating session..."
			return m, createSessionCmd(m.ctx, m.backend)
		}
		return m.startStream(content)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// startStream appends the user message and opens the reply stream.
func (m Model) startStream(content string) (tea.Model, tea.Cmd) {
	m.entries = append(m.entries, entry{msg: api.Message{
		Role:      api.RoleUser,
		Content:   content,
		CreatedAt: api.Timestamp{Time: time.Now()},
	}})

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelMgr.set(cancel)
	m.reader = m.backend.OpenStream(ctx, m.session, content)
	m.reply = ""
	m.replyID, m.replyDone, m.replyErr = 0, "", ""
	m.status = ""
	m.refresh()
	return m, tea.Batch(nextEventCmd(m.reader), m.spinner.Tick)
}

// finishStream records the reply once its stream is terminal.
func (m Model) finishStream(end StreamEndMsg) Model {
	m.cancelMgr.cancel()
	m.reader = nil

	content := m.replyDone
	if content == "" {
		content = m.reply
	}
	reply := entry{msg: api.Message{
		ID:        m.replyID,
		Role:      api.RoleAssistant,
		Content:   content,
		CreatedAt: api.Timestamp{Time: time.Now()},
	}}

	switch end.State {
	case stream.StateCancelled:
		reply.note = "[cancelled]"
		m.status = "reply cancelled"
	case stream.StateErrored:
		m = m.fail(end.Err)
	default:
		m.status = ""
	}
	if m.replyErr != "" {
		m.err = errors.New(m.replyErr)
	}
	if content != "" || reply.note != "" {
		m.entries = append(m.entries, reply)
	}
	m.reply = ""
	m.refresh()
	return m
}

// fail records err, switching to the login banner for credential errors.
func (m Model) fail(err error) Model {
	if err == nil {
		return m
	}
	var se *stream.StatusError
	if api.IsLoginRequired(err) || (errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized) {
		m.loginRequired = true
		m.input.Blur()
	}
	m.err = err
	m.status = ""
	return m
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.theme.SetSize(width, height)
	m.input.Width = max(width-6, 10)
	m.viewport.Width = width
	m.viewport.Height = max(height-headerHeight-inputHeight-statusHeight, 1)

	m.md = nil
	if m.opts.Markdown {
		styleOpt := glamour.WithAutoStyle()
		if m.theme.Name != styles.ThemeAuto {
			styleOpt = glamour.WithStandardStyle(m.theme.Name)
		}
		if r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(max(width-4, 20))); err == nil {
			m.md = r
		}
	}
	m.refresh()
}

// refresh re-renders the conversation into the viewport, following the
// bottom when it was already there.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderConversation())
	if atBottom || m.reader != nil {
		m.viewport.GotoBottom()
	}
}

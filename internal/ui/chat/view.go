// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/ui/styles"
	"github.com/jeranaias/coca/internal/util"
)

// View renders header, conversation, input and status bar.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("coca")
	session := "new session"
	if m.session > 0 {
		session = fmt.Sprintf("session #%d", m.session)
	}
	meta := session
	if m.opts.BaseURL != "" && m.theme.GetLayoutMode() != styles.LayoutNarrow {
		meta += "  " + m.opts.BaseURL
	}
	line := title + "  " + m.theme.HeaderMeta.Render(meta)
	return m.theme.Header.Width(m.width).MaxHeight(headerHeight).Render(line)
}

func (m Model) renderInput() string {
	if m.loginRequired {
		banner := m.theme.LoginBanner.Render(styles.StatusIndicators.Error +
			" Your session has expired. Quit (C-q) and run 'coca login'.")
		return m.theme.InputContainer.Width(max(m.width-2, 1)).Render(banner)
	}
	return m.theme.InputContainer.Width(max(m.width-2, 1)).Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	var left string
	switch {
	case m.reader != nil:
		left = m.spinner.View() + " streaming reply"
	case m.err != nil:
		left = styles.RenderError(util.TruncateWidth(util.OneLine(m.err.Error()), max(m.width/2, 20)))
	case m.status != "":
		left = m.status
	}

	var help []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		help = append(help, m.theme.StatusKey.Render(h.Key)+" "+h.Desc)
	}
	right := strings.Join(help, "  ")
	if m.theme.GetLayoutMode() == styles.LayoutNarrow {
		right = ""
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return m.theme.StatusBar.MaxHeight(statusHeight).Render(left + strings.Repeat(" ", gap) + right)
}

// renderConversation renders every entry plus the reply in flight.
func (m Model) renderConversation() string {
	if len(m.entries) == 0 && m.reader == nil {
		return m.theme.SystemLine.Render("Start typing to chat. Replies stream in as they are generated.")
	}

	width := max(m.width-2, 10)
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(m.renderEntry(e, width))
		b.WriteString("\n")
	}
	if m.reader != nil {
		b.WriteString(m.theme.AssistantLabel.Render("Assistant"))
		b.WriteString("\n")
		body := m.reply
		if body == "" {
			body = m.spinner.View()
		}
		b.WriteString(m.theme.AssistantBody.Width(width).Render(body))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderEntry(e entry, width int) string {
	ts := ""
	if !e.msg.CreatedAt.IsZero() {
		ts = " " + m.theme.Timestamp.Render(e.msg.CreatedAt.Format("15:04"))
	}

	var out strings.Builder
	if e.msg.Role == api.RoleUser {
		out.WriteString(m.theme.UserLabel.Render("You") + ts + "\n")
		out.WriteString(m.theme.UserBubble.Width(width).Render(e.msg.Content))
	} else {
		out.WriteString(m.theme.AssistantLabel.Render("Assistant") + ts + "\n")
		body := e.msg.Content
		if m.md != nil && e.note == "" {
			if rendered, err := m.md.Render(body); err == nil {
				body = strings.Trim(rendered, "\n")
			}
		}
		out.WriteString(m.theme.AssistantBody.Width(width).Render(body))
	}
	if e.note != "" {
		out.WriteString("\n" + m.theme.CancelledNote.Render(e.note))
	}
	return out.String()
}

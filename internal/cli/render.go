// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/util"
)

// =============================================================================
// MARKDOWN
// =============================================================================

// styledOutput reports whether output should carry ANSI styling.
func (a *App) styledOutput() bool {
	return isStdStream(a.Stdout) && IsStdoutTTY() && ColorsEnabled()
}

func (a *App) wordWrap() int {
	if a.Config != nil && a.Config.UI.WordWrap > 0 {
		return a.Config.UI.WordWrap
	}
	return min(GetTerminalWidth(), 100)
}

// renderMarkdown renders content with glamour when styling applies and
// markdown is enabled. With markdown off a terminal still gets wrapped
// text; pipes get content unchanged.
func (a *App) renderMarkdown(content string) string {
	if !a.styledOutput() {
		return content
	}
	if a.Config != nil && !a.Config.UI.Markdown {
		return WrapText(content, a.wordWrap())
	}
	styleOpt := glamour.WithAutoStyle()
	if a.Config != nil && (a.Config.UI.Theme == "dark" || a.Config.UI.Theme == "light") {
		styleOpt = glamour.WithStandardStyle(a.Config.UI.Theme)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(a.wordWrap()))
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}

// renderMessages prints a conversation, one block per message.
func (a *App) renderMessages(msgs []api.Message) {
	for i, m := range msgs {
		if i > 0 {
			if a.styledOutput() {
				a.printf("%s\n", RenderSeparator(min(a.wordWrap(), 70)))
			} else {
				a.printf("\n")
			}
		}
		label := UserStyle.Render("You")
		if m.Role == api.RoleAssistant {
			label = AssistantStyle.Render("Assistant")
		}
		a.printf("%s %s\n", label, DimStyle.Render(m.CreatedAt.Format("2006-01-02 15:04")))
		body := a.renderMarkdown(m.Content)
		if !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		a.printf("%s", body)
	}
}

// =============================================================================
// SYNTAX HIGHLIGHTING
// =============================================================================

// highlight applies chroma highlighting for language when styling applies.
func (a *App) highlight(code, language string) string {
	if !a.styledOutput() {
		return code
	}
	return highlightCode(code, language)
}

func highlightCode(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}

// =============================================================================
// TABLES
// =============================================================================

// sessionTable renders sessions as aligned columns.
func sessionTable(sessions []api.Session, width int) string {
	if len(sessions) == 0 {
		return "No sessions.\n"
	}
	titleWidth := max(width-30, 16)

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s\n",
		LabelStyle.Render(util.PadRight("ID", 6)),
		LabelStyle.Render(util.PadRight("TITLE", titleWidth)),
		LabelStyle.Render("UPDATED"))
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "%s  %s  %s\n",
			util.PadRight(fmt.Sprint(s.SessionID), 6),
			util.PadRight(util.TruncateWidth(util.OneLine(title), titleWidth), titleWidth),
			DimStyle.Render(s.UpdatedAt.Format("2006-01-02 15:04")))
	}
	return b.String()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/ui/chat"
)

// HandleTUI runs the full-screen chat view: coca tui [id].
func (a *App) HandleTUI(ctx context.Context, args []string) error {
	p := NewArgParser(args)
	var id int64
	if p.PositionalCount() > 0 {
		var err error
		if id, err = ParseSessionID(p.Positional(0)); err != nil {
			return err
		}
	}
	if !isStdStream(a.Stdout) || !IsStdoutTTY() || !IsTTY() {
		return &TTYRequiredError{Operation: "run the full-screen chat"}
	}
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	if err := a.ensureFreshToken(ctx); err != nil {
		return err
	}

	model := chat.New(a.Client, chat.Options{
		SessionID: id,
		Theme:     a.Config.UI.Theme,
		Markdown:  a.Config.UI.Markdown,
		BaseURL:   a.Client.BaseURL(),
		Context:   ctx,
	})
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		return fmt.Errorf("chat view failed: %w", err)
	}
	if m, ok := final.(chat.Model); ok {
		if m.LoginRequired() {
			return api.ErrLoginRequired
		}
		if sid := m.SessionID(); sid > 0 {
			a.info("%s", DimStyle.Render(fmt.Sprintf("session %d", sid)))
		}
	}
	return nil
}

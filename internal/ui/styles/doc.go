// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles holds the palette and the lipgloss theme of the coca TUI.

Colors are lipgloss AdaptiveColor values, so they follow the terminal
background unless the configured theme forces dark or light:

	theme := styles.NewTheme(cfg.UI.Theme)
	theme.SetSize(msg.Width, msg.Height)
	fmt.Println(theme.UserLabel.Render("You"))

Status helpers (RenderSuccess, RenderError, RenderWarning, RenderInfo) pair
each color with an ASCII marker such as [OK] or [X].
*/
package styles

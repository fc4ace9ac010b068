// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
)

// confirm asks before a destructive action. --yes skips the prompt; JSON
// mode and non-interactive stdin require it.
func (a *App) confirm(yes bool, action string, details map[string]string) (bool, error) {
	if yes {
		return true, nil
	}
	if a.Globals.JSON {
		return false, fmt.Errorf("confirmation required: use --yes to %s in JSON mode", action)
	}
	if a.Stdin == nil || (isStdStream(a.Stdin) && !IsTTY()) {
		return false, fmt.Errorf("confirmation required but stdin is not a terminal; use --yes")
	}

	for label, value := range details {
		fmt.Fprintf(a.Stderr, "  %s %s\n", RenderLabel(label), value)
	}
	input, err := a.readLine(fmt.Sprintf("Are you sure you want to %s? [y/N]: ", action))
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}

// cancelled reports a declined confirmation.
func (a *App) cancelled() {
	a.info("%s", DimStyle.Render("Cancelled."))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestNewTheme_Names(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
	}{
		{"dark", ThemeDark},
		{" Light ", ThemeLight},
		{"auto", ThemeAuto},
		{"", ThemeAuto},
		{"solarized", ThemeAuto},
	}
	for _, tc := range tests {
		theme := NewTheme(tc.in)
		if theme.Name != tc.wantName {
			t.Errorf("NewTheme(%q).Name = %q, want %q", tc.in, theme.Name, tc.wantName)
		}
	}

	if !NewTheme("dark").IsDark {
		t.Error("dark theme should report IsDark")
	}
	if NewTheme("light").IsDark {
		t.Error("light theme should not report IsDark")
	}
}

func TestThemeStylesRender(t *testing.T) {
	theme := NewTheme("dark")

	styles := []struct {
		name  string
		style lipgloss.Style
	}{
		{"Header", theme.Header},
		{"UserBubble", theme.UserBubble},
		{"AssistantBody", theme.AssistantBody},
		{"InputContainer", theme.InputContainer},
		{"StatusBar", theme.StatusBar},
		{"ErrorBox", theme.ErrorBox},
		{"LoginBanner", theme.LoginBanner},
	}
	for _, s := range styles {
		if !strings.Contains(s.style.Render("test"), "test") {
			t.Errorf("%s style lost its content", s.name)
		}
	}
}

func TestThemeGetLayoutMode(t *testing.T) {
	theme := NewTheme("auto")

	tests := []struct {
		width int
		want  LayoutMode
	}{
		{40, LayoutNarrow},
		{59, LayoutNarrow},
		{60, LayoutMedium},
		{99, LayoutMedium},
		{100, LayoutWide},
		{200, LayoutWide},
	}
	for _, tc := range tests {
		theme.SetSize(tc.width, 24)
		if got := theme.GetLayoutMode(); got != tc.want {
			t.Errorf("GetLayoutMode() with width %d = %v, want %v", tc.width, got, tc.want)
		}
	}
	if theme.Height != 24 {
		t.Errorf("Height = %d, want 24", theme.Height)
	}
}

func TestStatusRenderersIncludeMarkers(t *testing.T) {
	tests := []struct {
		name   string
		render func(string) string
		marker string
	}{
		{"success", RenderSuccess, StatusIndicators.Success},
		{"error", RenderError, StatusIndicators.Error},
		{"warning", RenderWarning, StatusIndicators.Warning},
		{"info", RenderInfo, StatusIndicators.Info},
	}
	for _, tc := range tests {
		out := tc.render("logged in")
		if !strings.Contains(out, tc.marker) || !strings.Contains(out, "logged in") {
			t.Errorf("%s: %q missing marker or message", tc.name, out)
		}
	}
}

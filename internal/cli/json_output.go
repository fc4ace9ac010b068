// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"io"
	"time"
)

// JSONResponse is the --json output envelope of every command.
type JSONResponse struct {
	Success   bool   `json:"success"`
	Command   string `json:"command,omitempty"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// NewJSONResponse wraps data in a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Command:   command,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Print writes the response as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// outputJSON prints a successful response for command.
func (a *App) outputJSON(command string, data any) error {
	return NewJSONResponse(command, data).Print(a.Stdout)
}

// =============================================================================
// COMMAND DATA
// =============================================================================

// VersionData is the output of coca version.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// WhoamiData is the output of coca whoami.
type WhoamiData struct {
	LoggedIn  bool       `json:"logged_in"`
	UserID    int64      `json:"user_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
	CanRenew  bool       `json:"can_refresh"`
	BaseURL   string     `json:"base_url"`
}

// SendData is the output of coca send --json.
type SendData struct {
	SessionID int64  `json:"session_id"`
	MessageID int64  `json:"message_id,omitempty"`
	Content   string `json:"content"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/util"
)

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders t as a Markdown document, one section per message.
func ExportMarkdown(t *Transcript) string {
	var sb strings.Builder
	title := t.Title
	if title == "" {
		title = "Session " + strconv.FormatInt(t.SessionID, 10)
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "Session: %d  \n", t.SessionID)
	if !t.UpdatedAt.IsZero() {
		fmt.Fprintf(&sb, "Updated: %s  \n", t.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "Saved: %s\n\n---\n\n", t.SavedAt.Format(time.RFC3339))

	for _, m := range t.Messages {
		sb.WriteString("**" + roleLabel(m.Role) + "**")
		if !m.CreatedAt.IsZero() {
			sb.WriteString(" (" + m.CreatedAt.Format("2006-01-02 15:04") + ")")
		}
		sb.WriteString(":\n\n")
		sb.WriteString(m.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ExportJSON renders t as indented JSON.
func ExportJSON(t *Transcript) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

func roleLabel(r api.Role) string {
	switch r {
	case api.RoleUser:
		return "User"
	case api.RoleAssistant:
		return "Assistant"
	case "":
		return "Unknown"
	}
	s := string(r)
	return strings.ToUpper(s[:1]) + s[1:]
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList renders metas as a plain table.
func FormatList(metas []TranscriptMeta) string {
	if len(metas) == 0 {
		return "No saved transcripts."
	}
	var sb strings.Builder
	sb.WriteString(util.PadRight("SESSION", 10) + " " + util.PadRight("SAVED", 17) + " " +
		util.PadRight("MSGS", 5) + " TITLE\n")
	for _, m := range metas {
		sb.WriteString(util.PadRight(strconv.FormatInt(m.SessionID, 10), 10) + " " +
			util.PadRight(m.SavedAt.Local().Format("2006-01-02 15:04"), 17) + " " +
			util.PadRight(strconv.Itoa(m.MessageCount), 5) + " " +
			util.TruncateWidth(m.Title, 40) + "\n")
	}
	return sb.String()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// transcripts_cmd.go - Locally saved conversations.
//
// Command: transcripts [subcommand]
//   list (default)                         List saved transcripts
//   show <id>                              Print a transcript
//   search <query>                         Find transcripts by title or content
//   export <id> [--format md|json] [--output file]
//   rm <id> [--yes]                        Delete a saved transcript

package cli

import (
	"fmt"
	"strings"

	"github.com/jeranaias/coca/internal/storage"
	"github.com/jeranaias/coca/internal/util"
)

var exportFormats = []string{"md", "json"}

// HandleTranscripts dispatches the transcripts subcommands.
func (a *App) HandleTranscripts(args []string) error {
	p := NewArgParser(args, "yes", "y")
	ts, err := a.Transcripts()
	if err != nil {
		return err
	}

	switch p.Subcommand() {
	case "", "list", "ls":
		metas, err := ts.List()
		if err != nil {
			return err
		}
		return a.printMetas("transcripts", metas)

	case "search", "find":
		query := JoinPositionalArgs(p, 1)
		if query == "" {
			return ErrMissingArgument("query", "coca transcripts search deploy")
		}
		metas, err := ts.Search(query)
		if err != nil {
			return err
		}
		return a.printMetas("transcripts search", metas)

	case "show":
		t, err := a.loadTranscript(ts, p)
		if err != nil {
			return err
		}
		if a.Globals.JSON {
			return a.outputJSON("transcripts show", t)
		}
		a.printf("%s\n", a.renderMarkdown(storage.ExportMarkdown(t)))
		return nil

	case "export":
		t, err := a.loadTranscript(ts, p)
		if err != nil {
			return err
		}
		return a.exportTranscript(t, p.FlagOrDefault("format", "md"), p.Flag("output"))

	case "rm", "delete", "del":
		id, err := ParseSessionID(p.Positional(1))
		if err != nil {
			return err
		}
		ok, err := a.confirm(p.BoolFlag("yes") || p.BoolFlag("y"), fmt.Sprintf("delete transcript %d", id), nil)
		if err != nil {
			return err
		}
		if !ok {
			a.cancelled()
			return nil
		}
		if err := ts.Delete(id); err != nil {
			return err
		}
		if a.Globals.JSON {
			return a.outputJSON("transcripts rm", map[string]int64{"deleted": id})
		}
		a.printf("Deleted transcript %d\n", id)
		return nil

	default:
		return NewValidationErrorWithExample("transcripts subcommand", p.Subcommand(),
			"must be list, show, search, export or rm", "coca transcripts export 3 --format json")
	}
}

func (a *App) loadTranscript(ts *storage.TranscriptStore, p *ArgParser) (*storage.Transcript, error) {
	id, err := ParseSessionID(p.Positional(1))
	if err != nil {
		return nil, err
	}
	return ts.Load(id)
}

func (a *App) printMetas(command string, metas []storage.TranscriptMeta) error {
	if a.Globals.JSON {
		if metas == nil {
			metas = []storage.TranscriptMeta{}
		}
		return a.outputJSON(command, metas)
	}
	out := storage.FormatList(metas)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	a.printf("%s", out)
	return nil
}

func (a *App) exportTranscript(t *storage.Transcript, format, output string) error {
	var (
		data []byte
		lang string
	)
	switch strings.ToLower(format) {
	case "md", "markdown":
		data, lang = []byte(storage.ExportMarkdown(t)), "markdown"
	case "json":
		b, err := storage.ExportJSON(t)
		if err != nil {
			return err
		}
		data, lang = b, "json"
	default:
		return ErrUnsupportedFormat(format, exportFormats)
	}

	if output == "" || output == "-" {
		a.printf("%s", a.highlight(string(data), lang))
		if len(data) > 0 && data[len(data)-1] != '\n' {
			a.printf("\n")
		}
		return nil
	}

	path, err := util.ExpandHome(output)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if a.Globals.JSON {
		return a.outputJSON("transcripts export", map[string]any{"session_id": t.SessionID, "path": path, "format": lang})
	}
	a.printf("%s Exported session %d to %s\n", SuccessStyle.Render("✓"), t.SessionID, path)
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
)

// Version information, set at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is a top-level coca command.
type Command int

const (
	CmdHelp Command = iota
	CmdSignup
	CmdLogin
	CmdLogout
	CmdWhoami
	CmdAuth
	CmdSessions
	CmdHistory
	CmdSend
	CmdChat
	CmdTUI
	CmdTranscripts
	CmdConfig
	CmdVersion
)

var commandNames = map[string]Command{
	"help":        CmdHelp,
	"signup":      CmdSignup,
	"register":    CmdSignup,
	"login":       CmdLogin,
	"logout":      CmdLogout,
	"whoami":      CmdWhoami,
	"auth":        CmdAuth,
	"sessions":    CmdSessions,
	"session":     CmdSessions,
	"history":     CmdHistory,
	"send":        CmdSend,
	"chat":        CmdChat,
	"tui":         CmdTUI,
	"transcripts": CmdTranscripts,
	"transcript":  CmdTranscripts,
	"config":      CmdConfig,
	"version":     CmdVersion,
}

func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c && validCommandName(name) {
			return name
		}
	}
	return "unknown"
}

func validCommandName(name string) bool {
	for _, n := range validCommands {
		if n == name {
			return true
		}
	}
	return false
}

// Globals are the flags accepted before or after any command.
type Globals struct {
	ConfigPath string
	JSON       bool
	BaseURL    string
	LogLevel   string
	NoColor    bool
	Quiet      bool
}

// Parse extracts global flags from argv and returns the command and its
// remaining arguments. No command means help.
func Parse(argv []string) (Command, Globals, []string, error) {
	var g Globals
	rest := make([]string, 0, len(argv))

	takeValue := func(i *int, arg, name string) (string, error) {
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(argv) {
			return "", ErrMissingArgument(name, "coca "+name+" VALUE")
		}
		*i++
		return argv[*i], nil
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if arg == "--" {
			rest = append(rest, argv[i:]...)
			break
		}

		var err error
		switch {
		case arg == "--config" || strings.HasPrefix(arg, "--config="):
			g.ConfigPath, err = takeValue(&i, arg, "--config")
		case arg == "--base-url" || strings.HasPrefix(arg, "--base-url="):
			g.BaseURL, err = takeValue(&i, arg, "--base-url")
		case arg == "--log-level" || strings.HasPrefix(arg, "--log-level="):
			g.LogLevel, err = takeValue(&i, arg, "--log-level")
		case arg == "--json":
			g.JSON = true
		case arg == "--no-color":
			g.NoColor = true
		case arg == "-q" || arg == "--quiet":
			g.Quiet = true
		case arg == "-h" || arg == "--help":
			if len(rest) == 0 {
				return CmdHelp, g, nil, nil
			}
			rest = append(rest, arg)
		case arg == "--version" && len(rest) == 0:
			return CmdVersion, g, nil, nil
		default:
			rest = append(rest, arg)
		}
		if err != nil {
			return CmdHelp, g, nil, err
		}
	}

	if len(rest) == 0 {
		return CmdHelp, g, nil, nil
	}
	name := strings.ToLower(rest[0])
	cmd, ok := commandNames[name]
	if !ok {
		reason := "unknown command"
		if s := SuggestCommand(name); s != "" {
			reason += fmt.Sprintf("; did you mean %q?", s)
		}
		return CmdHelp, g, nil, NewValidationErrorWithExample("command", rest[0], reason, "coca help")
	}
	return cmd, g, rest[1:], nil
}

const usageText = `coca - terminal client for the coca chat backend

Usage:
  coca <command> [arguments] [flags]

Account:
  signup [--email E]              Create an account
  login [--email E]               Sign in and store tokens
  logout                          End the session and clear stored tokens
  whoami                          Show the signed-in account
  auth refresh                    Exchange the refresh token now

Conversations:
  sessions [list]                 List sessions, most recent first
  sessions new                    Create a session
  sessions rm ID [--yes]          Delete a session
  history ID [--save]             Print a session's messages
  send ID "text"                  Stream a reply to stdout (Ctrl+C cancels)
  send --new "text"               Same, in a new session
  chat [ID]                       Interactive line-by-line chat
  tui [ID]                        Full-screen chat

Local:
  transcripts [list]              Saved transcripts
  transcripts show ID
  transcripts search QUERY
  transcripts export ID [--format md|json] [--output FILE]
  transcripts rm ID
  config [show|get K|set K V|path|keys]
  version

Global flags:
  --config FILE       Config file (TOML, YAML or JSON)
  --base-url URL      Backend URL (overrides server.base_url)
  --json              Machine-readable output
  --log-level LEVEL   debug, info, warn or error
  --no-color          Disable colours
  -q, --quiet         Less output

Password prompts read from the terminal; --password-stdin reads one line
from stdin instead.

Version: %s
`

// Usage returns the help text.
func Usage() string {
	return fmt.Sprintf(usageText, Version)
}

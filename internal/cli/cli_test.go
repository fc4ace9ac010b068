// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/config"
	"github.com/jeranaias/coca/internal/credstore"
	"github.com/jeranaias/coca/internal/server"
	"github.com/jeranaias/coca/internal/storage"
	"github.com/jeranaias/coca/internal/stream"
)

// =============================================================================
// ARG PARSER TESTS
// =============================================================================

func TestArgParser(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "subcommand with flag",
			args:    []string{"export", "--format", "json"},
			wantSub: "export",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "json", p.Flag("format"))
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"export", "--output=chat.md"},
			wantSub: "export",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "chat.md", p.Flag("output"))
			},
		},
		{
			name:    "trailing boolean flag",
			args:    []string{"rm", "3", "--yes"},
			wantSub: "rm",
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("yes"))
				assert.Equal(t, "3", p.Positional(1))
			},
		},
		{
			name:    "declared boolean does not swallow a value",
			args:    []string{"--new", "hello", "world"},
			bools:   []string{"new"},
			wantSub: "hello",
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("new"))
				assert.Equal(t, []string{"hello", "world"}, p.PositionalFrom(0))
			},
		},
		{
			name:    "undeclared flag takes the next word",
			args:    []string{"--email", "a@b.co"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "a@b.co", p.Flag("email"))
				assert.Equal(t, 0, p.PositionalCount())
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"3", "--", "--not-a-flag", "-x"},
			wantSub: "3",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "3 --not-a-flag -x", JoinPositionalArgs(p, 0))
				assert.False(t, p.HasFlag("not-a-flag"))
			},
		},
		{
			name:    "dash and negative numbers are positional",
			args:    []string{"3", "-", "-5"},
			wantSub: "3",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "-", p.Positional(1))
				assert.Equal(t, "-5", p.Positional(2))
			},
		},
		{
			name:    "explicit false",
			args:    []string{"--yes=false"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				assert.False(t, p.BoolFlag("yes"))
				assert.True(t, p.HasFlag("yes"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, tt.bools...)
			assert.Equal(t, tt.wantSub, p.Subcommand())
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_FlagOrDefault(t *testing.T) {
	p := NewArgParser([]string{"export", "--format", "json"})
	assert.Equal(t, "json", p.FlagOrDefault("format", "md"))
	assert.Equal(t, "-", p.FlagOrDefault("output", "-"))
}

func TestParseSessionID(t *testing.T) {
	id, err := ParseSessionID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc", "1.5"} {
		_, err := ParseSessionID(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, ExitUsageError, GetExitCode(err), bad)
	}
}

func TestParseBoolString(t *testing.T) {
	for _, s := range []string{"true", "YES", "y", "1", "on"} {
		b, err := ParseBoolString(s)
		require.NoError(t, err)
		assert.True(t, b, s)
	}
	for _, s := range []string{"false", "no", "N", "0", "off"} {
		b, err := ParseBoolString(s)
		require.NoError(t, err)
		assert.False(t, b, s)
	}
	_, err := ParseBoolString("maybe")
	assert.Error(t, err)
}

// =============================================================================
// COMMAND LINE PARSING TESTS
// =============================================================================

func TestParse(t *testing.T) {
	cmd, g, rest, err := Parse([]string{"--json", "send", "3", "hi", "--base-url", "http://x:1", "--log-level=debug"})
	require.NoError(t, err)
	assert.Equal(t, CmdSend, cmd)
	assert.True(t, g.JSON)
	assert.Equal(t, "http://x:1", g.BaseURL)
	assert.Equal(t, "debug", g.LogLevel)
	assert.Equal(t, []string{"3", "hi"}, rest)

	cmd, _, _, err = Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, CmdHelp, cmd)

	cmd, _, _, err = Parse([]string{"--version"})
	require.NoError(t, err)
	assert.Equal(t, CmdVersion, cmd)

	cmd, _, rest, err = Parse([]string{"register", "--email", "a@b.co"})
	require.NoError(t, err)
	assert.Equal(t, CmdSignup, cmd)
	assert.Equal(t, []string{"--email", "a@b.co"}, rest)

	cmd, g, _, err = Parse([]string{"-q", "--no-color", "--config", "/tmp/c.toml", "whoami"})
	require.NoError(t, err)
	assert.Equal(t, CmdWhoami, cmd)
	assert.True(t, g.Quiet)
	assert.True(t, g.NoColor)
	assert.Equal(t, "/tmp/c.toml", g.ConfigPath)
}

func TestParse_Errors(t *testing.T) {
	_, _, _, err := Parse([]string{"lgoin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "login"`)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, _, _, err = Parse([]string{"sessions", "--config"})
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestSuggestCommand(t *testing.T) {
	tests := map[string]string{
		"sesions":    "sessions",
		"histroy":    "history",
		"transcript": "transcripts",
		"snd":        "send",
		"login":      "",
		"x":          "",
		"qwertyuiop": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SuggestCommand(in), in)
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "signup", CmdSignup.String())
	assert.Equal(t, "transcripts", CmdTranscripts.String())
}

// =============================================================================
// EXIT CODE TESTS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", NewValidationError("id", "x", "bad"), ExitUsageError},
		{"empty message", ErrEmptyMessage, ExitUsageError},
		{"tty", &TTYRequiredError{Operation: "chat"}, ExitUsageError},
		{"login required", fmt.Errorf("list: %w", api.ErrLoginRequired), ExitAuthError},
		{"not logged in", ErrNotLoggedIn, ExitAuthError},
		{"api unauthorized", &api.APIError{Op: "login", Status: 401}, ExitAuthError},
		{"stream 401", &stream.StatusError{StatusCode: 401}, ExitAuthError},
		{"stream 500", &stream.StatusError{StatusCode: 500}, ExitGeneralError},
		{"api not found", &api.APIError{Op: "delete", Status: 404}, ExitNotFoundError},
		{"transcript not found", fmt.Errorf("load: %w", storage.ErrTranscriptNotFound), ExitNotFoundError},
		{"config", &ConfigError{Err: errors.New("bad toml")}, ExitConfigError},
		{"cancelled", context.Canceled, ExitInterrupted},
		{"stream cancelled", fmt.Errorf("%w: %w", stream.ErrCancelled, context.Canceled), ExitInterrupted},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"idle", stream.ErrIdleTimeout, ExitTimeoutError},
		{"reply error", &ReplyError{Reason: "model unavailable"}, ExitGeneralError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, api.ErrLoginRequired, false)
	assert.Contains(t, buf.String(), "coca login")

	buf.Reset()
	DisplayError(&buf, NewValidationErrorWithExample("format", "pdf", "unsupported", "md"), true)
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "validation_error", out["error_type"])
	assert.Equal(t, float64(ExitUsageError), out["exit_code"])
}

// =============================================================================
// TOKEN DESCRIPTION
// =============================================================================

func TestDescribeTokens(t *testing.T) {
	now := time.Now()
	exp := now.Add(-time.Minute)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		UID:              9,
		Email:            "ada@example.com",
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	data, err := describeTokens(credstore.Pair{AccessToken: token, RefreshToken: "r"}, now)
	require.NoError(t, err)
	assert.True(t, data.LoggedIn)
	assert.Equal(t, int64(9), data.UserID)
	assert.Equal(t, "ada@example.com", data.Email)
	assert.True(t, data.Expired)
	assert.True(t, data.CanRenew)

	data, err = describeTokens(credstore.Pair{}, now)
	require.NoError(t, err)
	assert.False(t, data.LoggedIn)

	_, err = describeTokens(credstore.Pair{AccessToken: "not-a-jwt"}, now)
	assert.Error(t, err)
}

// =============================================================================
// COMMANDS AGAINST THE DEVELOPMENT BACKEND
// =============================================================================

type testEnv struct {
	cfg   *config.Config
	creds credstore.Store
	srv   *server.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	devCfg := config.Default().DevServer
	devCfg.ReplyDelay = 0
	devCfg.RateLimit = 0
	srv := server.New(devCfg, server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Server.BaseURL = ts.URL
	cfg.Storage.TranscriptsDir = t.TempDir()
	cfg.UI.Markdown = false
	return &testEnv{cfg: cfg, creds: credstore.NewMemoryStore(), srv: srv}
}

// run executes one coca invocation and returns its exit code and output.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := &App{
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
		Config: e.cfg,
		Creds:  e.creds,
		ReadPassword: func(string) (string, error) {
			return "correct horse", nil
		},
	}
	code := a.Run(context.Background(), args)
	return code, stdout.String(), stderr.String()
}

func decodeJSON(t *testing.T, out string, data any) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.True(t, resp.Success)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

func TestCommandsAgainstBackend(t *testing.T) {
	env := newTestEnv(t)

	code, out, errOut := env.run(t, "", "signup", "--email", "ada@example.com")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "Account created")

	code, _, errOut = env.run(t, "", "signup", "--email", "ada@example.com")
	assert.Equal(t, ExitGeneralError, code)
	assert.Contains(t, errOut, "already registered")

	code, _, errOut = env.run(t, "", "login", "--email", "ada@example.com")
	require.Equal(t, ExitSuccess, code, errOut)

	code, out, _ = env.run(t, "", "--json", "whoami")
	require.Equal(t, ExitSuccess, code)
	var who WhoamiData
	decodeJSON(t, out, &who)
	assert.True(t, who.LoggedIn)
	assert.Equal(t, "ada@example.com", who.Email)
	assert.False(t, who.Expired)

	code, out, errOut = env.run(t, "", "--json", "sessions", "new")
	require.Equal(t, ExitSuccess, code, errOut)
	var sess api.Session
	decodeJSON(t, out, &sess)
	require.Positive(t, sess.SessionID)
	id := fmt.Sprint(sess.SessionID)

	code, out, errOut = env.run(t, "", "send", id, "hello", "world")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Equal(t, "You said: hello world\n", out)

	code, out, _ = env.run(t, "", "--json", "sessions")
	require.Equal(t, ExitSuccess, code)
	var sessions []api.Session
	decodeJSON(t, out, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, "hello world", sessions[0].Title)

	code, out, _ = env.run(t, "", "history", id, "--save")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "You said: hello world")

	code, out, _ = env.run(t, "", "transcripts")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "hello world")

	exportPath := filepath.Join(t.TempDir(), "chat.json")
	code, _, errOut = env.run(t, "", "transcripts", "export", id, "--format", "json", "--output", exportPath)
	require.Equal(t, ExitSuccess, code, errOut)
	raw, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var exported storage.Transcript
	require.NoError(t, json.Unmarshal(raw, &exported))
	assert.Len(t, exported.Messages, 2)

	code, _, _ = env.run(t, "", "transcripts", "export", id, "--format", "pdf")
	assert.Equal(t, ExitUsageError, code)

	code, _, errOut = env.run(t, "", "sessions", "rm", id, "--yes")
	require.Equal(t, ExitSuccess, code, errOut)

	code, _, _ = env.run(t, "", "history", id)
	assert.Equal(t, ExitNotFoundError, code)

	code, _, errOut = env.run(t, "", "logout")
	require.Equal(t, ExitSuccess, code, errOut)
	pair, err := credstore.LoadPair(context.Background(), env.creds)
	require.NoError(t, err)
	assert.True(t, pair.Empty())

	code, _, errOut = env.run(t, "", "sessions")
	assert.Equal(t, ExitAuthError, code)
	assert.Contains(t, errOut, "coca login")
}

func TestSendNewSessionFromStdin(t *testing.T) {
	env := newTestEnv(t)
	code, _, errOut := env.run(t, "", "signup", "--email", "bo@example.com")
	require.Equal(t, ExitSuccess, code, errOut)
	code, _, errOut = env.run(t, "", "login", "--email", "bo@example.com")
	require.Equal(t, ExitSuccess, code, errOut)

	code, out, errOut := env.run(t, "piped question\n", "--json", "send", "--new", "-")
	require.Equal(t, ExitSuccess, code, errOut)
	var data SendData
	decodeJSON(t, out, &data)
	assert.Positive(t, data.SessionID)
	assert.Positive(t, data.MessageID)
	assert.Equal(t, "You said: piped question", data.Content)
	assert.Equal(t, "completed", data.State)

	code, _, _ = env.run(t, "   ", "send", fmt.Sprint(data.SessionID))
	assert.Equal(t, ExitUsageError, code)
}

func TestSendAfterServerExpiresTokens(t *testing.T) {
	env := newTestEnv(t)
	code, _, errOut := env.run(t, "", "signup", "--email", "cy@example.com")
	require.Equal(t, ExitSuccess, code, errOut)
	code, _, errOut = env.run(t, "", "login", "--email", "cy@example.com")
	require.Equal(t, ExitSuccess, code, errOut)
	code, out, errOut := env.run(t, "", "--json", "sessions", "new")
	require.Equal(t, ExitSuccess, code, errOut)
	var sess api.Session
	decodeJSON(t, out, &sess)
	id := fmt.Sprint(sess.SessionID)
	before, err := credstore.LoadPair(context.Background(), env.creds)
	require.NoError(t, err)

	// The stored token still looks unexpired, so the streamed send is not
	// refreshed and fails with 401.
	env.srv.ExpireAccessTokens()
	code, _, errOut = env.run(t, "", "send", id, "hi")
	assert.Equal(t, ExitAuthError, code, errOut)

	code, _, errOut = env.run(t, "", "auth", "refresh")
	require.Equal(t, ExitSuccess, code, errOut)
	after, err := credstore.LoadPair(context.Background(), env.creds)
	require.NoError(t, err)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)

	code, out, errOut = env.run(t, "", "send", id, "hi")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Equal(t, "You said: hi\n", out)
}

func TestSignupPasswordStdin(t *testing.T) {
	env := newTestEnv(t)
	code, _, errOut := env.run(t, "short\n", "signup", "--email", "dee@example.com", "--password-stdin")
	assert.Equal(t, ExitGeneralError, code)
	assert.Contains(t, errOut, "validation failed")

	code, _, errOut = env.run(t, "long enough pw\n", "signup", "--email", "dee@example.com", "--password-stdin")
	require.Equal(t, ExitSuccess, code, errOut)
	code, _, errOut = env.run(t, "wrong password\n", "login", "--email", "dee@example.com", "--password-stdin")
	assert.Equal(t, ExitAuthError, code, errOut)
	code, _, errOut = env.run(t, "long enough pw\n", "login", "--email", "dee@example.com", "--password-stdin")
	require.Equal(t, ExitSuccess, code, errOut)
}

func TestDestructiveCommandsNeedConfirmation(t *testing.T) {
	env := newTestEnv(t)
	code, _, _ := env.run(t, "", "signup", "--email", "eve@example.com")
	require.Equal(t, ExitSuccess, code)
	code, _, _ = env.run(t, "", "login", "--email", "eve@example.com")
	require.Equal(t, ExitSuccess, code)
	code, out, _ := env.run(t, "", "--json", "sessions", "new")
	require.Equal(t, ExitSuccess, code)
	var sess api.Session
	decodeJSON(t, out, &sess)
	id := fmt.Sprint(sess.SessionID)

	code, _, errOut := env.run(t, "", "--json", "sessions", "rm", id)
	assert.Equal(t, ExitGeneralError, code)
	assert.Contains(t, errOut, "--yes")

	code, out, _ = env.run(t, "n\n", "sessions", "rm", id)
	require.Equal(t, ExitSuccess, code)
	assert.NotContains(t, out, "Deleted")

	code, out, _ = env.run(t, "y\n", "sessions", "rm", id)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Deleted session "+id)
}

// =============================================================================
// LOCAL COMMANDS
// =============================================================================

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coca.toml")
	require.NoError(t, config.SaveTOML(config.Default(), path))
	run := func(args ...string) (int, string, string) {
		var stdout, stderr bytes.Buffer
		a := &App{Stdin: strings.NewReader(""), Stdout: &stdout, Stderr: &stderr}
		code := a.Run(context.Background(), append([]string{"--config", path}, args...))
		return code, stdout.String(), stderr.String()
	}

	code, out, errOut := run("config", "set", "server.base_url", "http://chat.internal:9000")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "server.base_url")

	code, out, _ = run("config", "get", "server.base_url")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "http://chat.internal:9000\n", out)

	code, _, _ = run("config", "set", "dev_server.signing_key", "s3cret-key-value")
	require.Equal(t, ExitSuccess, code)
	code, out, _ = run("config", "get", "dev_server.signing_key")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "[REDACTED]\n", out)

	code, _, _ = run("config", "get", "server.nope")
	assert.Equal(t, ExitUsageError, code)

	code, out, _ = run("config", "path")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, path+"\n", out)

	code, out, _ = run("config", "keys")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "storage.max_transcripts")
}

func TestVersionJSON(t *testing.T) {
	var stdout bytes.Buffer
	a := &App{Stdout: &stdout, Stderr: io.Discard}
	require.Equal(t, ExitSuccess, a.Run(context.Background(), []string{"--json", "version"}))
	var v VersionData
	decodeJSON(t, stdout.String(), &v)
	assert.Equal(t, Version, v.Version)
}

func TestMessageContent(t *testing.T) {
	a := &App{Stdin: strings.NewReader("  from stdin \n")}
	got, err := a.messageContent([]string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	a = &App{Stdin: strings.NewReader("ignored")}
	got, err = a.messageContent([]string{"hello", "there"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)

	a = &App{Stdin: strings.NewReader("")}
	_, err = a.messageContent(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

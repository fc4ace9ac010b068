// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/term"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/config"
	"github.com/jeranaias/coca/internal/credstore"
	"github.com/jeranaias/coca/internal/logging"
	"github.com/jeranaias/coca/internal/storage"
)

// App carries everything a command needs. Streams and the password reader
// are fields so commands can be driven from tests.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Globals Globals

	// ReadPassword prompts for a secret without echo.
	ReadPassword func(prompt string) (string, error)

	// Config, Creds and Client may be preset; otherwise Setup builds them.
	Config *config.Config
	Creds  credstore.Store
	Client *api.Client

	log         *slog.Logger
	closers     []func() error
	transcripts *storage.TranscriptStore
	stdin       *bufio.Reader

	// loginRequired is set by the client's login-required hook.
	loginRequired atomic.Bool
}

// NewApp returns an App wired to the process's standard streams.
func NewApp() *App {
	a := &App{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
	a.ReadPassword = a.readTerminalPassword
	return a
}

// Run parses argv, runs the command and returns the exit code.
func Run(ctx context.Context, argv []string) int {
	return NewApp().Run(ctx, argv)
}

// Run parses argv, runs the command and returns the exit code.
func (a *App) Run(ctx context.Context, argv []string) int {
	cmd, globals, args, err := Parse(argv)
	a.Globals = globals
	if globals.NoColor {
		ForceColorsEnabled(false)
	}
	if err != nil {
		DisplayError(a.Stderr, err, globals.JSON)
		return GetExitCode(err)
	}
	defer a.Close()

	err = a.dispatch(ctx, cmd, args)
	if err != nil {
		DisplayError(a.Stderr, err, globals.JSON)
	}
	return GetExitCode(err)
}

func (a *App) dispatch(ctx context.Context, cmd Command, args []string) error {
	switch cmd {
	case CmdHelp:
		fmt.Fprint(a.Stdout, Usage())
		return nil
	case CmdVersion:
		return a.HandleVersion()
	case CmdConfig:
		return a.HandleConfig(args)
	}

	if err := a.Setup(); err != nil {
		return err
	}
	switch cmd {
	case CmdSignup:
		return a.HandleSignup(ctx, args)
	case CmdLogin:
		return a.HandleLogin(ctx, args)
	case CmdLogout:
		return a.HandleLogout(ctx)
	case CmdWhoami:
		return a.HandleWhoami(ctx)
	case CmdAuth:
		return a.HandleAuth(ctx, args)
	case CmdSessions:
		return a.HandleSessions(ctx, args)
	case CmdHistory:
		return a.HandleHistory(ctx, args)
	case CmdSend:
		return a.HandleSend(ctx, args)
	case CmdChat:
		return a.HandleChat(ctx, args)
	case CmdTUI:
		return a.HandleTUI(ctx, args)
	case CmdTranscripts:
		return a.HandleTranscripts(args)
	}
	return fmt.Errorf("unhandled command %v", cmd)
}

// =============================================================================
// SETUP
// =============================================================================

// LoadConfig loads configuration once, applying --config and --base-url.
func (a *App) LoadConfig() (*config.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}

	var (
		cfg *config.Config
		err error
	)
	if a.Globals.ConfigPath != "" {
		cfg, err = config.LoadFromPath(a.Globals.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if a.Globals.BaseURL != "" {
		cfg.Server.BaseURL = a.Globals.BaseURL
		if err := cfg.Validate(); err != nil {
			return nil, &ConfigError{Err: err}
		}
	}
	a.Config = cfg
	config.SetGlobal(cfg)
	return cfg, nil
}

// Setup builds the logger, credential store and API client.
func (a *App) Setup() error {
	cfg, err := a.LoadConfig()
	if err != nil {
		return err
	}

	if a.log == nil {
		logCfg := cfg.Logging
		switch {
		case a.Globals.LogLevel != "":
			logCfg.Level = a.Globals.LogLevel
		case logCfg.File == "":
			// Only warnings reach the terminal unless asked for.
			logCfg.Level = "warn"
		}
		if logCfg.File != "" {
			logger, closeLog, err := logging.Setup(logCfg)
			if err != nil {
				return &ConfigError{Err: err}
			}
			a.log = logger
			a.closers = append(a.closers, closeLog)
		} else {
			a.log = logging.New(logCfg, a.Stderr)
		}
	}

	if a.Creds == nil {
		store, closeStore, err := credstore.Open(cfg)
		if err != nil {
			return fmt.Errorf("failed to open credential store: %w", err)
		}
		a.Creds = store
		a.closers = append(a.closers, closeStore)
	}

	if a.Client == nil {
		a.Client = api.NewFromConfig(cfg, a.Creds,
			api.WithLogger(a.log),
			api.WithLoginRequired(func(context.Context) { a.loginRequired.Store(true) }),
		)
	}
	return nil
}

// Transcripts opens the local transcript store.
func (a *App) Transcripts() (*storage.TranscriptStore, error) {
	if a.transcripts != nil {
		return a.transcripts, nil
	}
	cfg, err := a.LoadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := cfg.ResolvedTranscriptsDir()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	ts, err := storage.NewTranscriptStore(dir, cfg.Storage.MaxTranscripts)
	if err != nil {
		return nil, err
	}
	a.transcripts = ts
	return ts, nil
}

// Close releases the credential store and log file.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// =============================================================================
// OUTPUT AND INPUT HELPERS
// =============================================================================

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Stdout, format, args...)
}

// info prints a status line unless --quiet or --json is set.
func (a *App) info(format string, args ...any) {
	if a.Globals.Quiet || a.Globals.JSON {
		return
	}
	fmt.Fprintf(a.Stderr, format+"\n", args...)
}

// readLine reads one line from Stdin, without the newline.
func (a *App) readLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(a.Stderr, prompt)
	}
	if a.stdin == nil {
		a.stdin = bufio.NewReader(a.Stdin)
	}
	line, err := a.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) readTerminalPassword(prompt string) (string, error) {
	if err := RequiresTTY("read a password"); err != nil {
		return "", fmt.Errorf("%w (use --password-stdin)", err)
	}
	fmt.Fprint(a.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// requireLogin fails early when no token is stored.
func (a *App) requireLogin(ctx context.Context) error {
	if !a.Client.Authenticated(ctx) {
		pair, err := credstore.LoadPair(ctx, a.Creds)
		if err != nil {
			return err
		}
		if pair.RefreshToken == "" {
			return ErrNotLoggedIn
		}
	}
	return nil
}

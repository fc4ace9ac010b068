// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config command implementation.
//
// Command: config [subcommand]
//   show (default)       Display the effective configuration (secrets redacted)
//   get <key>            Print one value, e.g. server.base_url
//   set <key> <value>    Change a value and save the TOML file
//   path                 Show the configuration file path
//   keys                 List every key

package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jeranaias/coca/internal/config"
)

// secretKeys are redacted by "config get".
var secretKeys = map[string]bool{
	"auth.passphrase":        true,
	"dev_server.signing_key": true,
}

// HandleConfig dispatches the config subcommands.
func (a *App) HandleConfig(args []string) error {
	p := NewArgParser(args)

	switch p.Subcommand() {
	case "", "show":
		cfg, err := a.LoadConfig()
		if err != nil {
			return err
		}
		if a.Globals.JSON {
			return a.outputJSON("config", redacted(cfg))
		}
		a.printf("%s\n", a.highlight(cfg.String(), "json"))
		return nil

	case "get":
		key := strings.ToLower(p.Positional(1))
		if key == "" {
			return ErrMissingArgument("key", "coca config get server.base_url")
		}
		cfg, err := a.LoadConfig()
		if err != nil {
			return err
		}
		v, err := cfg.Get(key)
		if err != nil {
			return NewValidationErrorWithExample("key", key, err.Error(), "coca config keys")
		}
		if secretKeys[key] && fmt.Sprint(v) != "" {
			v = "[REDACTED]"
		}
		if a.Globals.JSON {
			return a.outputJSON("config get", map[string]any{"key": key, "value": v})
		}
		a.printf("%v\n", v)
		return nil

	case "set":
		key, value := strings.ToLower(p.Positional(1)), JoinPositionalArgs(p, 2)
		if key == "" || p.PositionalCount() < 3 {
			return ErrMissingArgument("key and value", "coca config set server.base_url http://localhost:8080")
		}
		return a.setConfig(key, value)

	case "path":
		path, err := a.configPath()
		if err != nil {
			return &ConfigError{Err: err}
		}
		if a.Globals.JSON {
			return a.outputJSON("config path", map[string]string{"path": path})
		}
		a.printf("%s\n", path)
		return nil

	case "keys":
		keys := config.Keys()
		if a.Globals.JSON {
			return a.outputJSON("config keys", keys)
		}
		a.printf("%s\n", strings.Join(keys, "\n"))
		return nil

	default:
		return NewValidationErrorWithExample("config subcommand", p.Subcommand(),
			"must be show, get, set, path or keys", "coca config set ui.markdown false")
	}
}

func (a *App) configPath() (string, error) {
	if a.Globals.ConfigPath != "" {
		return a.Globals.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

func (a *App) setConfig(key, value string) error {
	path, err := a.configPath()
	if err != nil {
		return &ConfigError{Err: err}
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".json" || ext == ".yaml" || ext == ".yml" {
		return &ConfigError{Err: fmt.Errorf("config set only writes TOML; edit %s by hand", path)}
	}

	cfg, err := a.LoadConfig()
	if err != nil {
		return err
	}
	updated := cfg.Clone()
	if err := updated.Set(key, value); err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(), "coca config keys")
	}
	if err := updated.Validate(); err != nil {
		return &ConfigError{Err: err}
	}
	if a.Globals.ConfigPath == "" {
		if err := config.EnsureConfigDir(); err != nil {
			return &ConfigError{Err: err}
		}
	}
	if err := config.SaveTOML(updated, path); err != nil {
		return &ConfigError{Err: err}
	}
	a.Config = updated
	config.SetGlobal(updated)

	if a.Globals.JSON {
		return a.outputJSON("config set", map[string]string{"key": key, "path": path})
	}
	a.printf("%s %s updated in %s\n", SuccessStyle.Render("✓"), key, path)
	return nil
}

// redacted returns a copy of cfg safe to print.
func redacted(cfg *config.Config) *config.Config {
	safe := cfg.Clone()
	if safe.Auth.Passphrase != "" {
		safe.Auth.Passphrase = "[REDACTED]"
	}
	if safe.DevServer.SigningKey != "" {
		safe.DevServer.SigningKey = "[REDACTED]"
	}
	return safe
}

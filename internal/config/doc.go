// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for coca.
//
// # Key Types
//
//   - Config: all settings, grouped into server, auth, logging, ui, storage
//     and dev_server sections
//   - Duration: a time.Duration spelled "5s" in TOML, YAML and JSON
//   - ValidateErrors: every validation problem found in one error
//
// # Configuration Precedence
//
// Highest first:
//   - Environment variables (COCA_*)
//   - A .env file in the working directory (never overrides real variables)
//   - ~/.coca/config.toml, config.yaml or config.json (first found)
//   - Built-in defaults
//
// COCA_HOME replaces ~/.coca.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	client := api.NewClient(cfg.Server.BaseURL, store)
package config

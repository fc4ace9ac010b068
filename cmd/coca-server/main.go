// coca-server - in-memory development backend for the coca chat client.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/coca/internal/config"
	"github.com/jeranaias/coca/internal/logging"
	"github.com/jeranaias/coca/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "coca-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("coca-server", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (TOML, YAML or JSON)")
	addr := fs.String("addr", "", "listen address (overrides dev_server.addr)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *addr != "" {
		cfg.DevServer.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, closeLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DevServer.SigningKey == config.Default().DevServer.SigningKey {
		logger.Warn("using the built-in signing key; set dev_server.signing_key outside local testing")
	}
	return server.New(cfg.DevServer, server.WithLogger(logger)).ListenAndServe(ctx)
}

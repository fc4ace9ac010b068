// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"fmt"

	"github.com/jeranaias/coca/internal/config"
)

// Open builds the Store selected by cfg.Auth and returns it with a close
// func. A configured passphrase wraps the store in a Sealer.
func Open(cfg *config.Config) (Store, func() error, error) {
	var (
		store   Store
		closeFn = func() error { return nil }
	)

	switch cfg.Auth.Store {
	case config.StoreMemory:
		store = NewMemoryStore()
	case config.StoreSQLite, "":
		path, err := cfg.ResolvedStorePath()
		if err != nil {
			return nil, nil, err
		}
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		store = db
		closeFn = db.Close
	default:
		return nil, nil, fmt.Errorf("unknown credential store %q", cfg.Auth.Store)
	}

	if cfg.Auth.Passphrase != "" {
		store = NewSealer(store, cfg.Auth.Passphrase)
	}
	return store, closeFn, nil
}

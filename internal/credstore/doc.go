// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credstore keeps the access/refresh token pair between calls.
//
// Tokens live under the keys "access_token" and "refresh_token" in a Store.
// Two backends exist: MemoryStore for a single process and SQLiteStore for a
// file that survives restarts. A Sealer can wrap either one to encrypt values
// at rest.
//
// # Key Types
//
//   - Store: key/value persistence
//   - Pair: the access/refresh token pair
//   - Provider: what the HTTP client asks for tokens; StoreProvider adapts a
//     Store, and WithProvider/ProviderFrom carry one through a context
//
// # Usage
//
//	store, closeFn, err := credstore.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer closeFn()
//	pair, err := credstore.LoadPair(ctx, store)
package credstore

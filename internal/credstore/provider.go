// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"context"
)

// Provider hands out the current token pair and records replacements.
// Implementations must re-read their backing state on every call.
type Provider interface {
	Tokens(ctx context.Context) (Pair, error)
	Save(ctx context.Context, p Pair) error
	Clear(ctx context.Context) error
}

// StoreProvider is a Provider over a Store.
type StoreProvider struct {
	Store Store
}

// NewProvider returns a Provider reading and writing s.
func NewProvider(s Store) *StoreProvider {
	return &StoreProvider{Store: s}
}

// Tokens implements Provider.
func (p *StoreProvider) Tokens(ctx context.Context) (Pair, error) {
	return LoadPair(ctx, p.Store)
}

// Save implements Provider.
func (p *StoreProvider) Save(ctx context.Context, pair Pair) error {
	return SavePair(ctx, p.Store, pair)
}

// Clear implements Provider.
func (p *StoreProvider) Clear(ctx context.Context) error {
	return ClearPair(ctx, p.Store)
}

type providerKey struct{}

// WithProvider returns a context whose requests use p for credentials.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// ProviderFrom returns the Provider stored by WithProvider, if any.
func ProviderFrom(ctx context.Context) (Provider, bool) {
	p, ok := ctx.Value(providerKey{}).(Provider)
	return p, ok && p != nil
}

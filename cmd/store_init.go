package main

import (
	"context"

	"github.com/unieasy/places-cli/internal/store"
)

// initStore validates the store settings and opens a connection. The
// returned error is a *config.ValidationError or *store.ConnectError where
// that applies, so exitCode can classify it.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return store.Open(ctx, store.Options{
		Driver:   cfg.Store.Driver,
		DSN:      cfg.Store.DatabaseURL,
		MaxConns: cfg.Store.MaxConns,
	})
}

// Package kv is the string-keyed value store the application persists into.
// It plays the part browser local storage plays for a client-only app: a flat
// namespace of keys holding serialized blobs.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crudzocial/config"
	"crudzocial/crypto"
)

var ErrNotFound = errors.New("key not found")

// Store is implemented by every backend. Get returns ErrNotFound for a key
// that was never set or has been deleted; Delete of a missing key is not an
// error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend named by cfg.Driver and wraps it in a Sealed store
// when an encryption key is configured.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		store Store
		err   error
	)

	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		store, err = OpenSQLite(cfg.Path)
	case "bolt":
		store, err = OpenBolt(cfg.Path)
	case "redis":
		store, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	case "memory":
		store = NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.EncryptionKey != "" {
		store = NewSealed(store, crypto.DeriveKey(cfg.EncryptionKey))
	}
	return store, nil
}

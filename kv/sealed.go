package kv

import (
	"context"
	"fmt"

	"crudzocial/crypto"
)

// Sealed encrypts values with AES-GCM before handing them to the wrapped
// store. Keys stay in clear text.
type Sealed struct {
	inner Store
	key   []byte
}

func NewSealed(inner Store, key []byte) *Sealed {
	return &Sealed{inner: inner, key: key}
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	ciphertext, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.Decrypt(ciphertext, s.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plaintext, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	ciphertext, err := crypto.Encrypt(value, s.key)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, ciphertext)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *Sealed) Close() error {
	return s.inner.Close()
}

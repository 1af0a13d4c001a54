// Package cache provides a TTL-expiring envelope cache layered over a
// durable key-value store, plus the store backends it can run on.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when no value exists for a key.
var ErrNotFound = errors.New("cache: key not found")

// Entry is the envelope persisted for every cached value.
type Entry[T any] struct {
	Value     T         `json:"value"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is stale at now.
func (e *Entry[T]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Reader defines the interface for reading raw values from a store
type Reader interface {
	// Get returns the stored bytes for key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
}

// Writer defines the interface for writing raw values to a store
type Writer interface {
	// Set overwrites the value stored at key
	Set(ctx context.Context, key string, value []byte) error
}

// Remover defines idempotent deletion
type Remover interface {
	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	// Clear removes every key held by the store
	Clear(ctx context.Context) error
}

// Store is the durable key-value layer the expiring cache persists envelopes in.
// Implementations must be safe for concurrent use.
type Store interface {
	Reader
	Writer
	Remover
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Expiring wraps a Store with save/expiry timestamps. Expired entries are
// purged lazily by the first Get that observes them; there is no sweeper.
type Expiring struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*Expiring)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Expiring) { e.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Expiring) { e.logger = l }
}

// NewExpiring creates an expiring cache on top of store.
func NewExpiring(store Store, opts ...Option) *Expiring {
	e := &Expiring{
		store:  store,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Get returns the value cached at key. ok is false when the key is absent,
// expired or unreadable in the current envelope format; the latter two are
// deleted before returning. Store failures are returned unmodified.
func Get[T any](ctx context.Context, e *Expiring, key string) (value T, ok bool, err error) {
	raw, err := e.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		e.logger.Debug().Str("key", key).Msg("cache miss")
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}

	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		return value, false, e.store.Delete(ctx, key)
	}

	if entry.Expired(e.now()) {
		e.logger.Debug().Str("key", key).Time("expires_at", entry.ExpiresAt).Msg("cache entry expired")
		return value, false, e.store.Delete(ctx, key)
	}

	e.logger.Debug().Str("key", key).Msg("cache hit")
	return entry.Value, true, nil
}

// Set overwrites key with value, expiring ttl from now. A non-positive ttl
// writes an entry that is already expired.
func Set[T any](ctx context.Context, e *Expiring, key string, value T, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	now := e.now()
	entry := Entry[T]{
		Value:     value,
		SavedAt:   now,
		ExpiresAt: now.Add(ttl),
	}

	b, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := e.store.Set(ctx, key, b); err != nil {
		return err
	}

	e.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("cache set")
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (e *Expiring) Remove(ctx context.Context, key string) error {
	return e.store.Delete(ctx, key)
}

// Clear deletes every entry in the underlying store.
func (e *Expiring) Clear(ctx context.Context) error {
	return e.store.Clear(ctx)
}

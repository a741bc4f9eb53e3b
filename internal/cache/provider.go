package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the cache surface the escalation dispatcher relies on. The
// operation that matters is SetNX: a successful claim means this process is
// the one allowed to open the ticket. Implementations must be safe for
// concurrent use.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider stores nothing. Every SetNX claim succeeds, so dedupe falls
// back to at-least-once within a single process lifetime.
type NoopProvider struct{}

// Get reports a miss for every key.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX grants the claim without recording it.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del has nothing to delete.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }

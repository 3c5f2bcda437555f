// Package provider defines the byte store behind the parking tier.
//
// When the engine evicts an idle query it can park the query's pages and
// entities in a Provider, framed with the kind's invalidation epoch. Reopening
// the same query hydrates from the parked record while a fresh first page is
// fetched. Parked records are a warm cache, never a source of truth: any
// record that fails to decode or carries an old epoch is deleted on read.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes passed to Set. The "park:<ns>:" keyspace is owned by the engine.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl (<= 0 means the store's default).
	// ok=false with a nil error means the store refused the write under pressure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

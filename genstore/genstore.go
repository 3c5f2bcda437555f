// Package genstore keeps invalidation epochs: one monotonically increasing
// counter per resource kind. A kind-level invalidation bumps the kind's epoch;
// anything stamped with an older epoch (parked query records) is treated as
// stale and dropped on read.
//
// LocalGenStore is the default and lives in-process. RedisGenStore shares
// epochs between processes, so a parking tier shared through Redis is
// invalidated by any replica.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where epochs live.
type GenStore interface {
	// Snapshot returns the current epoch; missing => 0.
	Snapshot(ctx context.Context, kind string) (uint64, error)
	// SnapshotMany returns epochs for many kinds; missing => 0.
	SnapshotMany(ctx context.Context, kinds []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new epoch.
	Bump(ctx context.Context, kind string) (uint64, error)
	// Cleanup prunes epochs not bumped within retention (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources.
	Close(context.Context) error
}

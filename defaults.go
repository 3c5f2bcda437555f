package querycache

import "time"

const (
	defaultNamespace     = "querycache"
	defaultFetchTimeout  = 15 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultAuthRetries   = 1
	defaultQueryIdleTTL  = 5 * time.Minute
	defaultSweepInterval = time.Minute
	defaultParkTTL       = 10 * time.Minute
	defaultEpochSweep    = time.Hour
	defaultEpochRetain   = 30 * 24 * time.Hour
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

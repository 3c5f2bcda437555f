package querycache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: some are called with the
// engine lock held. Wrap slow sinks with hooks/async.
type Hooks interface {
	// A fetch response arrived for a generation that is no longer current
	// and was discarded.
	StaleResponse(queryKey string, gen uint64)

	// A fetch exceeded the engine's bounded wait.
	FetchTimeout(queryKey string, after time.Duration)

	// An optimistic mutation failed and was reverted.
	RolledBack(entity string, op string, err error)

	// An entity left the normalized map.
	// reason ∈ {"not_found", "deleted", "unreferenced"}
	EntityEvicted(entity string, reason string)

	// An idle query was evicted; parked reports whether it went to the parking tier.
	QueryEvicted(queryKey string, parked bool)

	// A parked record was refused or discarded.
	// reason ∈ {"corrupt", "epoch_mismatch", "key_mismatch", "decode_error", "provider_rejected", "provider_error"}
	ParkRejected(queryKey string, reason string)

	// A kind-level (ids == 0) or id-scoped invalidation was published.
	Invalidated(kind string, ids int)

	// A session refresh ran after an auth failure.
	AuthRefreshed(attempt int)
}

// NopHooks is the default.
type NopHooks struct{}

func (NopHooks) StaleResponse(string, uint64)       {}
func (NopHooks) FetchTimeout(string, time.Duration) {}
func (NopHooks) RolledBack(string, string, error)   {}
func (NopHooks) EntityEvicted(string, string)       {}
func (NopHooks) QueryEvicted(string, bool)          {}
func (NopHooks) ParkRejected(string, string)        {}
func (NopHooks) Invalidated(string, int)            {}
func (NopHooks) AuthRefreshed(int)                  {}

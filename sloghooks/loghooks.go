package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querycache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StaleEvery uint64
	EvictEvery uint64
	// Optional query key redactor. Query keys carry user ids; defaults to a
	// SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	staleCtr atomic.Uint64
	evictCtr atomic.Uint64
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) StaleResponse(queryKey string, gen uint64) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("querycache.stale_response",
		"query", h.redact(queryKey),
		"gen", gen)
}

func (h *Hooks) FetchTimeout(queryKey string, after time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.fetch_timeout",
		"query", h.redact(queryKey),
		"after", after)
}

func (h *Hooks) RolledBack(entity, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querycache.rolled_back",
		"entity", entity,
		"op", op,
		"err", err)
}

func (h *Hooks) EntityEvicted(entity, reason string) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("querycache.entity_evicted",
		"entity", entity,
		"reason", reason)
}

func (h *Hooks) QueryEvicted(queryKey string, parked bool) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("querycache.query_evicted",
		"query", h.redact(queryKey),
		"parked", parked)
}

func (h *Hooks) ParkRejected(queryKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Info("querycache.park_rejected",
		"query", h.redact(queryKey),
		"reason", reason)
}

func (h *Hooks) Invalidated(kind string, ids int) {
	if h.l == nil {
		return
	}
	h.l.Debug("querycache.invalidated",
		"kind", kind,
		"ids", ids)
}

func (h *Hooks) AuthRefreshed(attempt int) {
	if h.l == nil {
		return
	}
	h.l.Info("querycache.auth_refreshed",
		"attempt", attempt)
}

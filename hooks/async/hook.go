// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{StaleEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	eng, _ := querycache.New(querycache.Options{
//	    DataSource: api,
//	    Hooks:      hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/querycache"
)

// Hooks forwards events to inner on worker goroutines. Events are dropped
// when the queue is full.
type Hooks struct {
	inner   querycache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped uint64
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(inner querycache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	select {
	case h.q <- f:
		h.mu.RUnlock()
	default: // drop
		h.mu.RUnlock()
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

func (h *Hooks) StaleResponse(k string, g uint64) { h.try(func() { h.inner.StaleResponse(k, g) }) }
func (h *Hooks) EntityEvicted(e, r string)        { h.try(func() { h.inner.EntityEvicted(e, r) }) }
func (h *Hooks) QueryEvicted(k string, p bool)    { h.try(func() { h.inner.QueryEvicted(k, p) }) }
func (h *Hooks) ParkRejected(k, r string)         { h.try(func() { h.inner.ParkRejected(k, r) }) }
func (h *Hooks) Invalidated(kind string, n int)   { h.try(func() { h.inner.Invalidated(kind, n) }) }
func (h *Hooks) AuthRefreshed(attempt int)        { h.try(func() { h.inner.AuthRefreshed(attempt) }) }
func (h *Hooks) FetchTimeout(k string, after time.Duration) {
	h.try(func() { h.inner.FetchTimeout(k, after) })
}
func (h *Hooks) RolledBack(e, op string, err error) {
	h.try(func() { h.inner.RolledBack(e, op, err) })
}

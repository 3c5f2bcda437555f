package querycache

import (
	"context"
)

// Event is delivered to listeners after every publish. IDs is empty for a
// kind-level invalidation, in which case Epoch is the kind's new epoch.
type Event struct {
	Kind  string
	IDs   []string
	Epoch uint64
}

type listener struct {
	kind string
	fn   func(Event)
}

// Listen registers fn for events on kind ("" for every kind). fn runs on the
// publishing goroutine, after the engine lock is released. The returned
// function unregisters it.
func (e *Engine) Listen(kind string, fn func(Event)) (cancel func()) {
	e.mu.Lock()
	e.nextListen++
	id := e.nextListen
	e.listeners[id] = listener{kind: kind, fn: fn}
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Publish invalidates cached data for kind. With ids, only queries holding
// those entities re-project. Without ids, every query of that kind is marked
// stale, its in-flight fetch (if any) is superseded, and the kind's epoch is
// bumped so parked copies stop validating.
func (e *Engine) Publish(kind string, ids ...string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	var refetch []QueryKey
	if len(ids) > 0 {
		for _, id := range ids {
			e.markRefDirtyLocked(Ref{Kind: kind, ID: id})
		}
	} else {
		e.publishSeq[kind]++
		for _, st := range e.queries {
			if st.key.Kind != kind {
				continue
			}
			e.invalidateStateLocked(st)
			if e.refetchOnInvalidate && len(st.subs) > 0 {
				refetch = append(refetch, st.key.clone())
			}
		}
	}
	e.flushLocked()
	e.mu.Unlock()

	// bump only after marking: a sweep must not park pre-invalidation pages
	// under the new epoch
	var epoch uint64
	if len(ids) == 0 {
		var err error
		if epoch, err = e.gen.Bump(context.Background(), kind); err != nil {
			e.log.Warn("epoch bump failed", Fields{"kind": kind, "err": err})
		}
	}
	e.hooks.Invalidated(kind, len(ids))
	e.log.Debug("invalidated", Fields{"kind": kind, "ids": len(ids), "epoch": epoch})
	e.notify(Event{Kind: kind, IDs: append([]string(nil), ids...), Epoch: epoch})
	e.refetch(refetch)
}

// InvalidateQuery marks one query stale and supersedes its in-flight fetch.
// The next fetch (or a background refetch, when enabled) starts over.
func (e *Engine) InvalidateQuery(key QueryKey) {
	e.mu.Lock()
	st, ok := e.queries[key.String()]
	if !ok || e.closed {
		e.mu.Unlock()
		return
	}
	e.invalidateStateLocked(st)
	var refetch []QueryKey
	if e.refetchOnInvalidate && len(st.subs) > 0 {
		refetch = append(refetch, st.key.clone())
	}
	e.flushLocked()
	e.mu.Unlock()
	e.refetch(refetch)
}

func (e *Engine) invalidateStateLocked(st *queryState) {
	st.stale = true
	st.gen++
	if st.inflight {
		st.inflight = false
		if len(st.pages) > 0 {
			st.status = StatusSuccess
		} else {
			st.status = StatusIdle
		}
	}
	e.dirty[st.ks] = struct{}{}
}

func (e *Engine) notify(ev Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.listeners))
	for _, l := range e.listeners {
		if l.kind == "" || l.kind == ev.Kind {
			fns = append(fns, l.fn)
		}
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (e *Engine) refetch(keys []QueryKey) {
	if len(keys) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, key := range keys {
		e.wg.Add(1)
		go func(key QueryKey) {
			defer e.wg.Done()
			if err := e.Refresh(context.Background(), key); err != nil {
				e.log.Warn("background refetch failed", Fields{"query": key.String(), "err": err})
			}
		}(key)
	}
}

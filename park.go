package querycache

import (
	"context"

	"github.com/unkn0wn-root/querycache/internal/util"
	"github.com/unkn0wn-root/querycache/internal/wire"
)

// ParkedQuery is the payload of a parked record: the pages of one evicted
// query and the confirmed state of every entity they reference.
type ParkedQuery struct {
	Kind     string            `json:"kind" cbor:"kind" msgpack:"kind"`
	Params   map[string]string `json:"params,omitempty" cbor:"params,omitempty" msgpack:"params,omitempty"`
	Pages    []Page            `json:"pages" cbor:"pages" msgpack:"pages"`
	Entities []Entity          `json:"entities" cbor:"entities" msgpack:"entities"`
}

func (e *Engine) parkKey(ks string) string { return util.StorageKey("park:"+e.ns, ks) }

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ticker.C:
			e.Sweep(context.Background())
		case <-e.stopCh:
			return
		}
	}
}

type parkCandidate struct {
	st   *queryState
	rec  ParkedQuery
	seq  uint64
	used int64
}

// Sweep evicts queries that have no subscribers, no fetch in flight and were
// not used for QueryIdleTTL, then drops entities no remaining query
// references. With a parking provider, evicted queries that are not stale
// are parked under their kind's current epoch. It returns the number of
// evicted queries.
func (e *Engine) Sweep(ctx context.Context) int {
	cutoff := e.now().Add(-e.idleTTL)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	var cands []parkCandidate
	kinds := make(map[string]struct{})
	for _, st := range e.queries {
		if len(st.subs) > 0 || st.inflight || !st.lastUsed.Before(cutoff) {
			continue
		}
		c := parkCandidate{st: st, seq: e.publishSeq[st.key.Kind], used: st.lastUsed.UnixNano()}
		if e.parking != nil && !st.stale && len(st.pages) > 0 {
			c.rec = e.snapshotLocked(st)
			kinds[st.key.Kind] = struct{}{}
		}
		cands = append(cands, c)
	}
	e.mu.Unlock()
	if len(cands) == 0 {
		e.gcEntities()
		return 0
	}

	var epochs map[string]uint64
	if len(kinds) > 0 {
		list := make([]string, 0, len(kinds))
		for k := range kinds {
			list = append(list, k)
		}
		var err error
		if epochs, err = e.gen.SnapshotMany(ctx, list); err != nil {
			e.log.Warn("epoch snapshot failed; evicting without parking", Fields{"err": err})
			epochs = nil
		}
	}

	type parkJob struct {
		ks  string
		raw []byte
	}
	var jobs []parkJob
	evicted := 0

	e.mu.Lock()
	for _, c := range cands {
		st := c.st
		// touched, subscribed or refetched since the first pass
		if e.queries[st.ks] != st || len(st.subs) > 0 || st.inflight || st.lastUsed.UnixNano() != c.used {
			continue
		}
		parked := false
		if c.rec.Kind != "" && epochs != nil && !st.stale && e.publishSeq[st.key.Kind] == c.seq {
			payload, err := e.parkCodec.Encode(c.rec)
			if err != nil {
				e.log.Warn("park encode failed", Fields{"query": st.ks, "err": err})
			} else {
				jobs = append(jobs, parkJob{ks: st.ks, raw: wire.Encode(wire.Parked{
					Epoch:   epochs[st.key.Kind],
					Key:     st.ks,
					Payload: payload,
				})})
				parked = true
			}
		}
		e.dropStateLocked(st)
		evicted++
		e.hooks.QueryEvicted(st.ks, parked)
	}
	e.gcEntitiesLocked()
	e.mu.Unlock()

	for _, j := range jobs {
		ok, err := e.parking.Set(ctx, e.parkKey(j.ks), j.raw, e.parkTTL)
		switch {
		case err != nil:
			e.log.Warn("park write failed", Fields{"query": j.ks, "err": err})
			e.hooks.ParkRejected(j.ks, "provider_error")
		case !ok:
			e.hooks.ParkRejected(j.ks, "provider_rejected")
		}
	}
	if evicted > 0 {
		e.log.Debug("idle queries evicted", Fields{"evicted": evicted, "parked": len(jobs)})
	}
	return evicted
}

// snapshotLocked captures st's pages and the confirmed state of their
// entities. Optimistic changes are never parked.
func (e *Engine) snapshotLocked(st *queryState) ParkedQuery {
	rec := ParkedQuery{
		Kind:   st.key.Kind,
		Params: st.key.clone().Params,
		Pages:  make([]Page, len(st.pages)),
	}
	for i, pg := range st.pages {
		rec.Pages[i] = Page{Refs: append([]Ref(nil), pg.Refs...), NextCursor: pg.NextCursor}
		for _, ref := range pg.Refs {
			r, ok := e.entities[ref]
			if ch := e.pending[ref]; ch != nil {
				r, ok = ch.base, true
			}
			if ok && !r.removed {
				rec.Entities = append(rec.Entities, r.ent.Clone())
			}
		}
	}
	return rec
}

func (e *Engine) dropStateLocked(st *queryState) {
	for ref := range st.members {
		e.unlinkLocked(ref, st.ks)
	}
	st.gen++
	delete(e.queries, st.ks)
	delete(e.dirty, st.ks)
}

func (e *Engine) gcEntities() {
	e.mu.Lock()
	e.gcEntitiesLocked()
	e.mu.Unlock()
}

// gcEntitiesLocked drops entities that no query references and no pending
// mutation tracks.
func (e *Engine) gcEntitiesLocked() {
	for ref := range e.entities {
		if len(e.refs[ref]) > 0 || e.pending[ref] != nil {
			continue
		}
		delete(e.entities, ref)
		e.hooks.EntityEvicted(ref.String(), "unreferenced")
	}
}

// hydrate restores a parked copy of key when the engine has no state for it.
// The restored query is marked stale so the next fetch replaces its pages.
// Invalid records are deleted.
func (e *Engine) hydrate(ctx context.Context, key QueryKey) {
	if e.parking == nil {
		return
	}
	ks := key.String()
	e.mu.Lock()
	_, exists := e.queries[ks]
	seq := e.publishSeq[key.Kind]
	closed := e.closed
	e.mu.Unlock()
	if exists || closed {
		return
	}

	sk := e.parkKey(ks)
	raw, ok, err := e.parking.Get(ctx, sk)
	if err != nil {
		e.log.Warn("park read failed", Fields{"query": ks, "err": err})
		e.hooks.ParkRejected(ks, "provider_error")
		return
	}
	if !ok {
		return
	}
	reject := func(reason string) {
		_ = e.parking.Del(ctx, sk)
		e.hooks.ParkRejected(ks, reason)
		e.log.Debug("parked query rejected", Fields{"query": ks, "reason": reason})
	}

	p, err := wire.Decode(raw)
	if err != nil {
		reject("corrupt")
		return
	}
	if p.Key != ks {
		// hash collision with another key; leave its record alone
		e.hooks.ParkRejected(ks, "key_mismatch")
		return
	}
	cur, err := e.gen.Snapshot(ctx, key.Kind)
	if err != nil {
		e.log.Warn("epoch snapshot failed", Fields{"kind": key.Kind, "err": err})
		return
	}
	if cur != p.Epoch {
		reject("epoch_mismatch")
		return
	}
	rec, err := e.parkCodec.Decode(p.Payload)
	if err != nil {
		reject("decode_error")
		return
	}

	e.mu.Lock()
	if _, exists := e.queries[ks]; exists || e.closed || e.publishSeq[key.Kind] != seq {
		e.mu.Unlock()
		return
	}
	st := e.stateLocked(key)
	for _, ent := range rec.Entities {
		if ent.ID == "" {
			continue
		}
		if ent.Kind == "" {
			ent.Kind = key.Kind
		}
		if _, cached := e.entities[ent.Ref()]; !cached {
			e.entities[ent.Ref()] = record{ent: ent.Clone()}
		}
	}
	for _, pg := range rec.Pages {
		e.appendPageLocked(st, pg.Refs, pg.NextCursor)
	}
	st.status = StatusSuccess
	st.stale = true
	e.flushLocked()
	e.mu.Unlock()

	_ = e.parking.Del(ctx, sk)
	e.log.Debug("parked query restored", Fields{"query": ks, "pages": len(rec.Pages)})
}

package querycache

import "time"

// queryState is the engine's record for one QueryKey. Guarded by Engine.mu.
type queryState struct {
	key      QueryKey
	ks       string
	pages    []Page
	members  map[Ref]struct{}
	status   Status
	err      error
	stale    bool
	gen      uint64 // bumped whenever an in-flight response must be discarded
	inflight bool
	lastUsed time.Time
	subs     map[*Subscription]struct{}
}

func (st *queryState) hasMore() bool {
	n := len(st.pages)
	return n == 0 || st.pages[n-1].NextCursor != nil
}

func (st *queryState) cursor() *string {
	if n := len(st.pages); n > 0 {
		return st.pages[n-1].NextCursor
	}
	return nil
}

func (e *Engine) stateLocked(key QueryKey) *queryState {
	ks := key.String()
	if st, ok := e.queries[ks]; ok {
		st.lastUsed = e.now()
		return st
	}
	st := &queryState{
		key:      key.clone(),
		ks:       ks,
		members:  make(map[Ref]struct{}),
		status:   StatusIdle,
		lastUsed: e.now(),
	}
	e.queries[ks] = st
	return st
}

// appendPageLocked links refs into st as one new page. Refs already present
// in an earlier page (or earlier in this one) keep their first position.
func (e *Engine) appendPageLocked(st *queryState, refs []Ref, next *string) {
	page := Page{Refs: make([]Ref, 0, len(refs)), NextCursor: next}
	for _, ref := range refs {
		if _, dup := st.members[ref]; dup {
			continue
		}
		st.members[ref] = struct{}{}
		set := e.refs[ref]
		if set == nil {
			set = make(map[string]struct{}, 1)
			e.refs[ref] = set
		}
		set[st.ks] = struct{}{}
		page.Refs = append(page.Refs, ref)
	}
	st.pages = append(st.pages, page)
	e.dirty[st.ks] = struct{}{}
}

// resetPagesLocked unlinks every page of st. Entities stay in the map until
// the sweep finds them unreferenced.
func (e *Engine) resetPagesLocked(st *queryState) {
	for ref := range st.members {
		e.unlinkLocked(ref, st.ks)
	}
	st.members = make(map[Ref]struct{})
	st.pages = nil
	e.dirty[st.ks] = struct{}{}
}

func (e *Engine) unlinkLocked(ref Ref, ks string) {
	if set := e.refs[ref]; set != nil {
		delete(set, ks)
		if len(set) == 0 {
			delete(e.refs, ref)
		}
	}
}

// mergeLocked writes a server-provided entity into the normalized map, last
// write wins. Pending optimistic ops are replayed on top of it so they stay
// visible until their writes resolve.
func (e *Engine) mergeLocked(ent Entity) {
	ref := ent.Ref()
	if ch := e.pending[ref]; ch != nil {
		ch.base = record{ent: ent.Clone(), removed: ch.base.removed}
		ch.moved = true
		e.entities[ref] = ch.replay()
	} else {
		e.entities[ref] = record{ent: ent.Clone()}
	}
	e.markRefDirtyLocked(ref)
}

// patchConfirmedLocked applies p as confirmed server state.
func (e *Engine) patchConfirmedLocked(ref Ref, p Patch) bool {
	cur, ok := e.entities[ref]
	if !ok {
		return false
	}
	if ch := e.pending[ref]; ch != nil {
		ch.base = p.apply(ch.base)
		ch.moved = true
		e.entities[ref] = ch.replay()
	} else {
		e.entities[ref] = p.apply(cur)
	}
	e.markRefDirtyLocked(ref)
	return true
}

// evictEntityLocked drops ref from the map and from every page holding it.
func (e *Engine) evictEntityLocked(ref Ref, reason string) {
	_, cached := e.entities[ref]
	delete(e.entities, ref)
	delete(e.pending, ref)
	for ks := range e.refs[ref] {
		st, ok := e.queries[ks]
		if !ok {
			continue
		}
		delete(st.members, ref)
		for i := range st.pages {
			st.pages[i].Refs = removeRef(st.pages[i].Refs, ref)
		}
		e.dirty[ks] = struct{}{}
	}
	delete(e.refs, ref)
	if cached {
		e.hooks.EntityEvicted(ref.String(), reason)
	}
}

// deleteEntityLocked evicts ref after the server confirmed it is gone and
// tombstones it so writes still in flight cannot bring it back.
func (e *Engine) deleteEntityLocked(ref Ref, reason string) {
	e.evictEntityLocked(ref, reason)
	e.seq++
	e.deleted[ref] = e.seq
}

func removeRef(refs []Ref, ref Ref) []Ref {
	for i, r := range refs {
		if r == ref {
			return append(refs[:i:i], refs[i+1:]...)
		}
	}
	return refs
}

func (e *Engine) markRefDirtyLocked(ref Ref) {
	for ks := range e.refs[ref] {
		e.dirty[ks] = struct{}{}
	}
}

func (e *Engine) viewLocked(st *queryState) View {
	v := View{
		Key:     st.key.clone(),
		Status:  st.status,
		Err:     st.err,
		HasMore: st.hasMore(),
		Stale:   st.stale,
		Pages:   len(st.pages),
	}
	seen := make(map[Ref]struct{}, len(st.members))
	for _, pg := range st.pages {
		for _, ref := range pg.Refs {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			rec, ok := e.entities[ref]
			if !ok || rec.removed {
				continue
			}
			v.Items = append(v.Items, rec.ent.Clone())
		}
	}
	return v
}

// flushLocked pushes a fresh view to the subscribers of every dirty query.
func (e *Engine) flushLocked() {
	for ks := range e.dirty {
		delete(e.dirty, ks)
		st, ok := e.queries[ks]
		if !ok || len(st.subs) == 0 {
			continue
		}
		v := e.viewLocked(st)
		for sub := range st.subs {
			sub.pushLocked(v)
		}
	}
}

// Get returns the current view of key without fetching.
func (e *Engine) Get(key QueryKey) (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.queries[key.String()]
	if !ok {
		return View{Key: key.clone(), Status: StatusIdle, HasMore: true}, false
	}
	st.lastUsed = e.now()
	return e.viewLocked(st), true
}

// Entity returns the visible state of one cached entity. Optimistically
// removed entities report false.
func (e *Engine) Entity(ref Ref) (Entity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.entities[ref]
	if !ok || rec.removed {
		return Entity{}, false
	}
	return rec.ent.Clone(), true
}

// UpsertEntity merges server-side state pushed from outside a fetch (a
// detail endpoint, a realtime event). Every query holding it re-projects.
func (e *Engine) UpsertEntity(ent Entity) error {
	if ent.Kind == "" || ent.ID == "" {
		return &Error{Kind: KindValidation, Message: "entity kind and id are required"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mergeLocked(ent)
	e.flushLocked()
	return nil
}

// UpdateEntity applies p to a cached entity as confirmed state. It reports
// false when ref is not cached.
func (e *Engine) UpdateEntity(ref Ref, p Patch) (bool, error) {
	if err := p.validate(); err != nil {
		return false, &Error{Kind: KindValidation, Message: err.Error()}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ok := e.patchConfirmedLocked(ref, p)
	e.flushLocked()
	return ok, nil
}

// EvictEntity drops ref from the map and from every list, as if the server
// reported it gone.
func (e *Engine) EvictEntity(ref Ref) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evictEntityLocked(ref, "not_found")
	e.flushLocked()
}

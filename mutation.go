package querycache

import (
	"context"
	"fmt"
)

// MutationIntent describes one write. Patch is the optimistic change applied
// to the cached entity before the write is sent; the write itself carries Op
// and Payload. An empty ID with an empty Patch is a create.
type MutationIntent struct {
	Kind    string
	ID      string
	Op      string
	Patch   Patch
	Payload any

	// Invalidate and InvalidateKinds name the lists whose membership the
	// write changes. They are invalidated after the write succeeds.
	Invalidate      []QueryKey
	InvalidateKinds []string
}

func (in MutationIntent) validate() error {
	if in.Kind == "" {
		return fmt.Errorf("kind required")
	}
	if in.Op == "" {
		return fmt.Errorf("op required")
	}
	if in.ID == "" && len(in.Patch) > 0 {
		return fmt.Errorf("optimistic patch needs an entity id")
	}
	return in.Patch.validate()
}

type pendingOp struct {
	seq     uint64
	patch   Patch
	inverse Patch
	chain   *pendingChain
}

// pendingChain tracks the unresolved optimistic writes of one entity. base
// is the last confirmed state; the visible record is base with every
// pending patch replayed in submission order.
type pendingChain struct {
	base  record
	ops   []*pendingOp
	total int  // ops ever joined
	moved bool // base changed after the chain started
}

func (ch *pendingChain) replay() record {
	r := ch.base
	for _, op := range ch.ops {
		r = op.patch.apply(r)
	}
	return r
}

func (ch *pendingChain) drop(op *pendingOp) {
	for i, o := range ch.ops {
		if o == op {
			ch.ops = append(ch.ops[:i:i], ch.ops[i+1:]...)
			return
		}
	}
}

// Mutate applies the intent's patch to the cached entity, sends the write,
// and reconciles once it resolves:
//
//	success   server fields are merged; listed queries and kinds invalidate
//	conflict  treated as success without server fields
//	not found the entity is evicted from the map and every list
//	otherwise the patch is rolled back and a *MutationError returned
//
// Concurrent mutations of the same entity compose: each failure removes only
// its own change.
func (e *Engine) Mutate(ctx context.Context, in MutationIntent) (Entity, error) {
	ref := Ref{Kind: in.Kind, ID: in.ID}
	if err := in.validate(); err != nil {
		return Entity{}, &MutationError{Ref: ref, Op: in.Op, Err: &Error{Kind: KindValidation, Message: err.Error()}}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Entity{}, ErrClosed
	}
	e.seq++
	start := e.seq
	e.writing++
	var op *pendingOp
	if cur, ok := e.entities[ref]; ok && len(in.Patch) > 0 {
		ch := e.pending[ref]
		if ch == nil {
			ch = &pendingChain{base: cur.clone()}
			e.pending[ref] = ch
		}
		op = &pendingOp{seq: start, patch: in.Patch, inverse: in.Patch.invert(cur), chain: ch}
		ch.ops = append(ch.ops, op)
		ch.total++
		e.entities[ref] = in.Patch.apply(cur)
		e.markRefDirtyLocked(ref)
		e.flushLocked()
	}
	e.mu.Unlock()

	persisted, err := e.write(ctx, in)
	ce := Classify(err)

	e.mu.Lock()
	e.writing--
	var (
		out    Entity
		result error
		kinds  []string
		keys   []QueryKey
	)
	switch {
	case err == nil || ce.Kind == KindConflict:
		if ce != nil {
			e.log.Info("mutation conflict treated as success", Fields{"entity": ref.String(), "op": in.Op})
			persisted = nil
		}
		var live bool
		ref, live = e.confirmLocked(ref, start, op, in.Patch, persisted)
		kinds = append(kinds, in.InvalidateKinds...)
		keys = append(keys, in.Invalidate...)
		if in.Patch.removes() {
			e.deleteEntityLocked(ref, "deleted")
			kinds = appendKind(kinds, in.Kind)
		} else if rec, ok := e.entities[ref]; ok {
			out = rec.ent.Clone()
		} else if live {
			out = Entity{ID: ref.ID, Kind: ref.Kind, Fields: cloneFields(persisted)}
		}
	case ce.Kind == KindNotFound:
		e.deleteEntityLocked(ref, "not_found")
		result = &MutationError{Ref: ref, Op: in.Op, Err: ce}
	default:
		rolled := e.rollbackLocked(ref, op)
		if rolled {
			e.hooks.RolledBack(ref.String(), in.Op, ce)
		}
		e.log.Warn("mutation failed", Fields{"entity": ref.String(), "op": in.Op, "rolled_back": rolled, "err": ce})
		result = &MutationError{Ref: ref, Op: in.Op, RolledBack: rolled, Err: ce}
	}
	if e.writing == 0 {
		clear(e.deleted)
	}
	e.flushLocked()
	e.mu.Unlock()

	for _, k := range keys {
		e.InvalidateQuery(k)
	}
	for _, kind := range kinds {
		e.Publish(kind)
	}
	return out, result
}

func (e *Engine) write(ctx context.Context, in MutationIntent) (map[string]any, error) {
	var out map[string]any
	err := e.withAuth(ctx, func(ctx context.Context) error {
		v, err := bounded(ctx, e.writeTimeout, func(ctx context.Context) (map[string]any, error) {
			return e.src.WriteMutation(ctx, in.Kind, in.ID, in.Op, in.Payload)
		})
		out = v
		return err
	})
	return out, err
}

// confirmLocked folds a successful write into confirmed state and returns
// the ref it landed on (creates learn their id from the server). It reports
// false when the entity was deleted while the write, started at seq start,
// was in flight; the write's fields are then dropped.
func (e *Engine) confirmLocked(ref Ref, start uint64, op *pendingOp, p Patch, persisted map[string]any) (Ref, bool) {
	if ref.ID == "" {
		id, _ := persisted["id"].(string)
		if id == "" {
			return ref, true
		}
		ref.ID = id
	}
	if at, ok := e.deleted[ref]; ok && at > start {
		if _, cached := e.entities[ref]; !cached {
			e.log.Debug("write resolved for deleted entity", Fields{"entity": ref.String()})
			return ref, false
		}
	}

	ch := e.pending[ref]
	if op != nil && ch != nil && op.chain == ch {
		ch.drop(op)
		ch.base = mergeFields(p.apply(ch.base), persisted)
		ch.moved = true
		if len(ch.ops) == 0 {
			delete(e.pending, ref)
		}
		if _, ok := e.entities[ref]; ok {
			e.entities[ref] = ch.replay()
			e.markRefDirtyLocked(ref)
		}
		return ref, true
	}

	if len(persisted) == 0 {
		return ref, true
	}
	if ch != nil {
		ch.base = mergeFields(ch.base, persisted)
		ch.moved = true
		e.entities[ref] = ch.replay()
	} else if cur, ok := e.entities[ref]; ok {
		e.entities[ref] = mergeFields(cur, persisted)
	} else {
		e.entities[ref] = record{ent: Entity{ID: ref.ID, Kind: ref.Kind, Fields: cloneFields(persisted)}}
	}
	e.markRefDirtyLocked(ref)
	return ref, true
}

// rollbackLocked removes op's change from the visible entity. A chain that
// only ever held op restores op's inverse; otherwise the confirmed base is
// replayed with the ops still pending.
func (e *Engine) rollbackLocked(ref Ref, op *pendingOp) bool {
	ch := e.pending[ref]
	if op == nil || ch == nil || op.chain != ch {
		return false
	}
	if op.inverse == nil {
		panic("querycache: pending mutation without inverse patch")
	}
	ch.drop(op)
	if len(ch.ops) == 0 {
		delete(e.pending, ref)
	}
	cur, ok := e.entities[ref]
	if !ok {
		return false
	}
	if ch.total == 1 && !ch.moved {
		e.entities[ref] = op.inverse.apply(cur)
	} else {
		e.entities[ref] = ch.replay()
	}
	e.markRefDirtyLocked(ref)
	return true
}

func mergeFields(r record, fields map[string]any) record {
	if len(fields) == 0 {
		return r
	}
	out := r.clone()
	if out.ent.Fields == nil {
		out.ent.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if k == "id" || k == "kind" {
			continue
		}
		out.ent.Fields[k] = v
	}
	return out
}

func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func appendKind(kinds []string, kind string) []string {
	for _, k := range kinds {
		if k == kind {
			return kinds
		}
	}
	return append(kinds, kind)
}

package querycache

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type OpKind uint8

const (
	OpSet OpKind = iota + 1
	OpUnset
	OpInc
	OpToggle
	OpRemove
	OpRestore
)

// Op is one step of a Patch. Build ops with Set, Unset, Inc, Toggle, Remove.
type Op struct {
	Kind    OpKind
	Field   string
	Value   any
	Delta   int64
	Counter string // OpToggle: paired counter field
	On      bool   // OpToggle: target flag value
}

// Patch is an ordered list of ops applied atomically to one entity.
type Patch []Op

func Set(field string, v any) Op { return Op{Kind: OpSet, Field: field, Value: v} }

func Unset(field string) Op { return Op{Kind: OpUnset, Field: field} }

func Inc(field string, delta int64) Op { return Op{Kind: OpInc, Field: field, Delta: delta} }

// Toggle sets flag to on and moves counter by +1/-1 only when the flag
// actually flips. Flag and counter always change together, and replaying a
// toggle on a state that already has the target flag is a no-op.
func Toggle(flag, counter string, on bool) Op {
	return Op{Kind: OpToggle, Field: flag, Counter: counter, On: on}
}

// Remove hides the entity from every projection until the delete is
// confirmed (entity dropped) or rolled back.
func Remove() Op { return Op{Kind: OpRemove} }

func restore() Op { return Op{Kind: OpRestore} }

func (p Patch) validate() error {
	for i, op := range p {
		switch op.Kind {
		case OpSet, OpUnset, OpInc:
			if op.Field == "" {
				return fmt.Errorf("op %d: field required", i)
			}
		case OpToggle:
			if op.Field == "" {
				return fmt.Errorf("op %d: toggle flag required", i)
			}
			if op.Counter == op.Field {
				return fmt.Errorf("op %d: toggle counter must differ from flag", i)
			}
		case OpRemove, OpRestore:
		default:
			return fmt.Errorf("op %d: unknown kind %d", i, op.Kind)
		}
	}
	return nil
}

func (p Patch) removes() bool {
	for _, op := range p {
		if op.Kind == OpRemove {
			return true
		}
	}
	return false
}

// record is an entity plus its optimistic-delete marker.
type record struct {
	ent     Entity
	removed bool
}

func (r record) clone() record { return record{ent: r.ent.Clone(), removed: r.removed} }

// apply returns a new record; r is never mutated.
func (p Patch) apply(r record) record {
	out := r.clone()
	fields := out.ent.Fields
	if fields == nil {
		fields = make(map[string]any)
	}
	for _, op := range p {
		switch op.Kind {
		case OpSet:
			fields[op.Field] = op.Value
		case OpUnset:
			delete(fields, op.Field)
		case OpInc:
			fields[op.Field] = addDelta(fields[op.Field], op.Delta)
		case OpToggle:
			cur, _ := fields[op.Field].(bool)
			if cur == op.On {
				continue
			}
			fields[op.Field] = op.On
			if op.Counter != "" {
				d := int64(1)
				if !op.On {
					d = -1
				}
				fields[op.Counter] = addDelta(fields[op.Counter], d)
			}
		case OpRemove:
			out.removed = true
		case OpRestore:
			out.removed = false
		default:
			panic(fmt.Sprintf("querycache: unknown patch op %d", op.Kind))
		}
	}
	if len(fields) == 0 && r.ent.Fields == nil {
		fields = nil
	}
	out.ent.Fields = fields
	return out
}

// invert captures, from r, the value of every field p touches. Applying the
// result to p.apply(r) yields r again.
func (p Patch) invert(r record) Patch {
	inv := make(Patch, 0, len(p)+1)
	seen := make(map[string]struct{}, len(p))
	capture := func(field string) {
		if field == "" {
			return
		}
		if _, ok := seen[field]; ok {
			return
		}
		seen[field] = struct{}{}
		if v, ok := r.ent.Fields[field]; ok {
			inv = append(inv, Set(field, v))
		} else {
			inv = append(inv, Unset(field))
		}
	}
	removal := false
	for _, op := range p {
		switch op.Kind {
		case OpSet, OpUnset, OpInc:
			capture(op.Field)
		case OpToggle:
			capture(op.Field)
			capture(op.Counter)
		case OpRemove, OpRestore:
			removal = true
		}
	}
	if removal {
		if r.removed {
			inv = append(inv, Remove())
		} else {
			inv = append(inv, restore())
		}
	}
	return inv
}

// addDelta keeps the numeric type of v where it can. Missing or non-numeric
// values count as zero.
func addDelta(v any, d int64) any {
	switch n := v.(type) {
	case int:
		return n + int(d)
	case int32:
		return n + int32(d)
	case int64:
		return n + d
	case uint:
		return int64(n) + d
	case uint32:
		return int64(n) + d
	case uint64:
		return int64(n) + d
	case float32:
		return n + float32(d)
	case float64:
		return n + float64(d)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return json.Number(strconv.FormatInt(i+d, 10))
		}
		if f, err := n.Float64(); err == nil {
			return json.Number(strconv.FormatFloat(f+float64(d), 'f', -1, 64))
		}
		return json.Number(strconv.FormatInt(d, 10))
	default:
		return d
	}
}

package querycache

import (
	"github.com/unkn0wn-root/querycache/internal/util"
)

// QueryKey identifies one logical paginated list, e.g. posts-by-user(u1) is
// QueryKey{Kind: "posts", Params: {"user": "u1"}}.
type QueryKey struct {
	Kind   string
	Params map[string]string
}

// Key builds a QueryKey from alternating name/value pairs. A trailing name
// without a value is ignored.
func Key(kind string, kv ...string) QueryKey {
	k := QueryKey{Kind: kind}
	if len(kv) >= 2 {
		k.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			k.Params[kv[i]] = kv[i+1]
		}
	}
	return k
}

// String is canonical: keys with equal kind and params render identically.
func (k QueryKey) String() string { return util.CanonicalKey(k.Kind, k.Params) }

func (k QueryKey) clone() QueryKey {
	if k.Params == nil {
		return k
	}
	p := make(map[string]string, len(k.Params))
	for n, v := range k.Params {
		p[n] = v
	}
	return QueryKey{Kind: k.Kind, Params: p}
}

// Ref is the identity of an entity in the normalized map.
type Ref struct {
	Kind string `json:"kind" cbor:"kind" msgpack:"kind"`
	ID   string `json:"id" cbor:"id" msgpack:"id"`
}

func (r Ref) String() string { return r.Kind + "/" + r.ID }

// Entity is one normalized record. The engine reads ID and Kind only;
// Fields are opaque apart from what patches touch.
type Entity struct {
	ID     string         `json:"id" cbor:"id" msgpack:"id"`
	Kind   string         `json:"kind" cbor:"kind" msgpack:"kind"`
	Fields map[string]any `json:"fields,omitempty" cbor:"fields,omitempty" msgpack:"fields,omitempty"`
}

func (e Entity) Ref() Ref { return Ref{Kind: e.Kind, ID: e.ID} }

// Clone copies the top-level field map. Nested values are shared and must be
// treated as read-only.
func (e Entity) Clone() Entity {
	out := Entity{ID: e.ID, Kind: e.Kind}
	if e.Fields != nil {
		out.Fields = make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Page is one fetched slice of a query. A nil NextCursor marks the last page.
type Page struct {
	Refs       []Ref   `json:"refs" cbor:"refs" msgpack:"refs"`
	NextCursor *string `json:"nextCursor,omitempty" cbor:"nextCursor,omitempty" msgpack:"nextCursor,omitempty"`
}

// PageResult is the normalized form of one data source response.
type PageResult struct {
	Items      []Entity
	NextCursor *string
}

// Cursor is a convenience for building a non-nil cursor.
func Cursor(s string) *string { return &s }

type Status uint8

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoadingMore
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoadingMore:
		return "loadingMore"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// View is an immutable snapshot of one query as a subscriber sees it.
// Items are projected from the normalized map at snapshot time, deduplicated,
// in fetch order; removed entities are skipped.
type View struct {
	Key     QueryKey
	Items   []Entity
	Status  Status
	Err     error
	HasMore bool
	Stale   bool
	Pages   int
}

// IDs lists item ids in order.
func (v View) IDs() []string {
	out := make([]string, len(v.Items))
	for i, it := range v.Items {
		out[i] = it.ID
	}
	return out
}

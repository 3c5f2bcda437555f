package querycache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fetchCall struct {
	Kind   string
	Params map[string]string
	Cursor *string
}

func (c fetchCall) cursor() string {
	if c.Cursor == nil {
		return ""
	}
	return *c.Cursor
}

type writeCall struct {
	Kind    string
	ID      string
	Op      string
	Payload any
}

type fakeSource struct {
	mu      sync.Mutex
	fetches []fetchCall
	writes  []writeCall
	onFetch func(ctx context.Context, c fetchCall) (any, error)
	onWrite func(ctx context.Context, c writeCall) (map[string]any, error)
}

func (f *fakeSource) FetchPage(ctx context.Context, kind string, params map[string]string, cursor *string) (any, error) {
	c := fetchCall{Kind: kind, Params: params, Cursor: cursor}
	f.mu.Lock()
	f.fetches = append(f.fetches, c)
	fn := f.onFetch
	f.mu.Unlock()
	if fn == nil {
		return PageResult{}, nil
	}
	return fn(ctx, c)
}

func (f *fakeSource) WriteMutation(ctx context.Context, kind, id, op string, payload any) (map[string]any, error) {
	c := writeCall{Kind: kind, ID: id, Op: op, Payload: payload}
	f.mu.Lock()
	f.writes = append(f.writes, c)
	fn := f.onWrite
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, c)
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeSource) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeSource) lastFetch() fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[len(f.fetches)-1]
}

// pages serves fixed pages by cursor ("" is the first page).
func pages(byCursor map[string]PageResult) func(context.Context, fetchCall) (any, error) {
	return func(_ context.Context, c fetchCall) (any, error) {
		return byCursor[c.cursor()], nil
	}
}

func post(id string, kv ...any) Entity {
	e := Entity{ID: id, Kind: "posts", Fields: map[string]any{}}
	for i := 0; i+1 < len(kv); i += 2 {
		e.Fields[kv[i].(string)] = kv[i+1]
	}
	return e
}

func page(next *string, items ...Entity) PageResult {
	return PageResult{Items: items, NextCursor: next}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recHooks struct {
	NopHooks
	mu       sync.Mutex
	stale    int
	timeouts int
	rolled   []string
	evicted  []string
	queries  []bool
	rejected []string
	auth     int
}

func (h *recHooks) StaleResponse(string, uint64) { h.mu.Lock(); h.stale++; h.mu.Unlock() }

func (h *recHooks) FetchTimeout(string, time.Duration) { h.mu.Lock(); h.timeouts++; h.mu.Unlock() }

func (h *recHooks) RolledBack(entity, op string, _ error) {
	h.mu.Lock()
	h.rolled = append(h.rolled, entity+":"+op)
	h.mu.Unlock()
}

func (h *recHooks) EntityEvicted(entity, reason string) {
	h.mu.Lock()
	h.evicted = append(h.evicted, entity+":"+reason)
	h.mu.Unlock()
}

func (h *recHooks) QueryEvicted(_ string, parked bool) {
	h.mu.Lock()
	h.queries = append(h.queries, parked)
	h.mu.Unlock()
}

func (h *recHooks) ParkRejected(_ string, reason string) {
	h.mu.Lock()
	h.rejected = append(h.rejected, reason)
	h.mu.Unlock()
}

func (h *recHooks) AuthRefreshed(int) { h.mu.Lock(); h.auth++; h.mu.Unlock() }

func (h *recHooks) snapshot() recHooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recHooks{
		stale:    h.stale,
		timeouts: h.timeouts,
		rolled:   append([]string(nil), h.rolled...),
		evicted:  append([]string(nil), h.evicted...),
		queries:  append([]bool(nil), h.queries...),
		rejected: append([]string(nil), h.rejected...),
		auth:     h.auth,
	}
}

func newEngine(t *testing.T, src *fakeSource, mod ...func(*Options)) *Engine {
	t.Helper()
	opts := Options{DataSource: src, SweepInterval: -1}
	for _, m := range mod {
		m(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

// seed loads items into key as its first page.
func seed(t *testing.T, e *Engine, src *fakeSource, key QueryKey, items ...Entity) {
	t.Helper()
	src.mu.Lock()
	prev := src.onFetch
	src.onFetch = func(context.Context, fetchCall) (any, error) { return page(nil, items...), nil }
	src.mu.Unlock()
	require.NoError(t, e.StartQuery(context.Background(), key))
	src.mu.Lock()
	src.onFetch = prev
	src.mu.Unlock()
}

func ids(t *testing.T, e *Engine, key QueryKey) []string {
	t.Helper()
	v, ok := e.Get(key)
	require.True(t, ok, "query %s not cached", key)
	return v.IDs()
}

func mustEntity(t *testing.T, e *Engine, ref Ref) Entity {
	t.Helper()
	ent, ok := e.Entity(ref)
	require.True(t, ok, "entity %s not cached", ref)
	return ent
}

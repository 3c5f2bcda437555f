package querycache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/genstore"
	"github.com/unkn0wn-root/querycache/internal/wire"
)

type memProvider struct {
	mu     sync.Mutex
	m      map[string][]byte
	full   bool
	closes int
}

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false, nil
	}
	p.m[key] = append([]byte(nil), value...)
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

type closeCountingGenStore struct {
	genstore.GenStore
	closes int
}

func (g *closeCountingGenStore) Close(ctx context.Context) error {
	g.closes++
	return g.GenStore.Close(ctx)
}

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func decodeParked(t *testing.T, raw []byte) ParkedQuery {
	t.Helper()
	p, err := wire.Decode(raw)
	require.NoError(t, err)
	rec, err := codec.JSON[ParkedQuery]{}.Decode(p.Payload)
	require.NoError(t, err)
	return rec
}

type parkEnv struct {
	e     *Engine
	src   *fakeSource
	clk   *fakeClock
	park  *memProvider
	hooks *recHooks
}

func newParkEnv(t *testing.T, mod ...func(*Options)) parkEnv {
	env := parkEnv{src: &fakeSource{}, clk: newClock(), park: newMemProvider(), hooks: &recHooks{}}
	env.e = newEngine(t, env.src, append([]func(*Options){func(o *Options) {
		o.Clock = env.clk.Now
		o.Parking = env.park
		o.Hooks = env.hooks
		o.QueryIdleTTL = 5 * time.Minute
	}}, mod...)...)
	return env
}

func TestSweepEvictsIdleUnsubscribedQueries(t *testing.T) {
	env := newParkEnv(t, func(o *Options) { o.Parking = nil })
	ctx := context.Background()
	idle, watched := Key("posts", "user", "u1"), Key("posts")
	seed(t, env.e, env.src, idle, post("p1"), post("p2"))
	seed(t, env.e, env.src, watched, post("p2"))
	sub, err := env.e.Subscribe(ctx, watched)
	require.NoError(t, err)
	defer sub.Close()

	env.clk.Advance(4 * time.Minute)
	assert.Zero(t, env.e.Sweep(ctx))

	env.clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, env.e.Sweep(ctx))

	_, ok := env.e.Get(idle)
	assert.False(t, ok)
	_, ok = env.e.Get(watched)
	assert.True(t, ok)
	_, ok = env.e.Entity(Ref{Kind: "posts", ID: "p1"})
	assert.False(t, ok, "unreferenced entity kept")
	_, ok = env.e.Entity(Ref{Kind: "posts", ID: "p2"})
	assert.True(t, ok)

	h := env.hooks.snapshot()
	assert.Equal(t, []bool{false}, h.queries)
	assert.Equal(t, []string{"posts/p1:unreferenced"}, h.evicted)
}

func TestRecentlyReadQueriesSurviveSweep(t *testing.T) {
	env := newParkEnv(t)
	key := Key("posts")
	seed(t, env.e, env.src, key, post("p1"))

	env.clk.Advance(4 * time.Minute)
	env.e.Get(key)
	env.clk.Advance(4 * time.Minute)
	assert.Zero(t, env.e.Sweep(context.Background()))
}

func TestParkedQueryHydratesThenRefreshes(t *testing.T) {
	env := newParkEnv(t)
	ctx := context.Background()
	key := Key("posts", "user", "u1")
	seed(t, env.e, env.src, key, post("p1", "likes", 1), post("p2"))

	env.clk.Advance(6 * time.Minute)
	require.Equal(t, 1, env.e.Sweep(ctx))
	assert.Equal(t, 1, env.park.len())
	assert.Equal(t, []bool{true}, env.hooks.snapshot().queries)

	gate := make(chan struct{})
	env.src.mu.Lock()
	env.src.onFetch = func(context.Context, fetchCall) (any, error) {
		<-gate
		return page(nil, post("p3"), post("p1", "likes", 5)), nil
	}
	env.src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- env.e.StartQuery(ctx, key) }()
	require.Eventually(t, func() bool { return env.src.fetchCount() == 2 }, time.Second, time.Millisecond)

	// restored pages are visible while the first page reloads
	v, ok := env.e.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"p1", "p2"}, v.IDs())
	assert.True(t, v.Stale)
	assert.Equal(t, StatusLoading, v.Status)
	assert.Nil(t, env.src.lastFetch().Cursor)
	assert.Zero(t, env.park.len())

	close(gate)
	require.NoError(t, <-done)
	v, _ = env.e.Get(key)
	assert.False(t, v.Stale)
	assert.Equal(t, []string{"p3", "p1"}, v.IDs())
	assert.Equal(t, 5, v.Items[1].Fields["likes"])
}

func TestParkedRecordRejectedAfterKindInvalidation(t *testing.T) {
	env := newParkEnv(t)
	ctx := context.Background()
	key := Key("posts")
	seed(t, env.e, env.src, key, post("p1"))

	env.clk.Advance(6 * time.Minute)
	require.Equal(t, 1, env.e.Sweep(ctx))
	env.e.Publish("posts")

	env.src.mu.Lock()
	env.src.onFetch = pages(map[string]PageResult{"": page(nil, post("p2"))})
	env.src.mu.Unlock()
	require.NoError(t, env.e.StartQuery(ctx, key))

	assert.Equal(t, []string{"p2"}, ids(t, env.e, key))
	assert.Equal(t, []string{"epoch_mismatch"}, env.hooks.snapshot().rejected)
	assert.Zero(t, env.park.len())
}

func TestCorruptParkedRecordIsDeleted(t *testing.T) {
	env := newParkEnv(t)
	key := Key("posts")
	sk := env.e.parkKey(key.String())
	_, _ = env.park.Set(context.Background(), sk, []byte("garbage"), 0)

	require.NoError(t, env.e.StartQuery(context.Background(), key))
	assert.Equal(t, []string{"corrupt"}, env.hooks.snapshot().rejected)
	assert.Zero(t, env.park.len())
}

func TestStaleOrPendingStateIsNotParkedOptimistically(t *testing.T) {
	env := newParkEnv(t)
	ctx := context.Background()
	stale, pending := Key("posts", "tab", "a"), Key("jobs")
	seed(t, env.e, env.src, stale, post("p1"))
	seed(t, env.e, env.src, pending, Entity{ID: "j1", Kind: "jobs", Fields: map[string]any{"saved": false}})

	env.e.InvalidateQuery(stale)

	gate := make(chan struct{})
	env.src.mu.Lock()
	env.src.onWrite = func(context.Context, writeCall) (map[string]any, error) {
		<-gate
		return nil, nil
	}
	env.src.mu.Unlock()
	done := make(chan error, 1)
	go func() {
		_, err := env.e.Mutate(ctx, SetField("jobs", "j1", "saved", true))
		done <- err
	}()
	require.Eventually(t, func() bool { return env.src.writeCount() == 1 }, time.Second, time.Millisecond)

	env.clk.Advance(6 * time.Minute)
	require.Equal(t, 2, env.e.Sweep(ctx))
	assert.ElementsMatch(t, []bool{false, true}, env.hooks.snapshot().queries)
	close(gate)
	require.NoError(t, <-done)

	// the parked jobs record carries the confirmed value, not the optimistic one
	raw, ok, err := env.park.Get(ctx, env.e.parkKey(pending.String()))
	require.NoError(t, err)
	require.True(t, ok)
	rec := decodeParked(t, raw)
	require.Len(t, rec.Entities, 1)
	assert.Equal(t, false, rec.Entities[0].Fields["saved"])
}

func TestProviderRefusalIsReported(t *testing.T) {
	env := newParkEnv(t)
	env.park.full = true
	seed(t, env.e, env.src, Key("posts"), post("p1"))

	env.clk.Advance(6 * time.Minute)
	require.Equal(t, 1, env.e.Sweep(context.Background()))
	assert.Equal(t, []string{"provider_rejected"}, env.hooks.snapshot().rejected)
}

func TestParkingWithMsgpackCodec(t *testing.T) {
	env := newParkEnv(t, func(o *Options) { o.ParkingCodec = codec.Msgpack[ParkedQuery]{} })
	ctx := context.Background()
	key := Key("posts", "user", "u1")
	seed(t, env.e, env.src, key, post("p1", "text", "hi"))

	env.clk.Advance(6 * time.Minute)
	require.Equal(t, 1, env.e.Sweep(ctx))

	gate := make(chan struct{})
	env.src.mu.Lock()
	env.src.onFetch = func(context.Context, fetchCall) (any, error) { <-gate; return page(nil), nil }
	env.src.mu.Unlock()
	done := make(chan error, 1)
	go func() { done <- env.e.StartQuery(ctx, key) }()
	require.Eventually(t, func() bool { return env.src.fetchCount() == 2 }, time.Second, time.Millisecond)

	v, _ := env.e.Get(key)
	require.Equal(t, []string{"p1"}, v.IDs())
	assert.Equal(t, "hi", v.Items[0].Fields["text"])
	close(gate)
	require.NoError(t, <-done)
}

func TestCloseReleasesStoresOnce(t *testing.T) {
	park := newMemProvider()
	epochs := &closeCountingGenStore{GenStore: genstore.NewLocalGenStore(time.Hour, time.Hour)}
	e, err := New(Options{DataSource: &fakeSource{}, Parking: park, GenStore: epochs, SweepInterval: -1})
	require.NoError(t, err)

	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))

	assert.Equal(t, 1, park.closes)
	assert.Equal(t, 1, epochs.closes)
}

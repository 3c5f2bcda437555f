// Package querycache is a client-side query and cache engine for paginated,
// mutable social data (feeds, profiles, follower lists, bookmarks, comments).
// Entities are stored once, normalized by (kind, id); every paginated query
// holds only references, so a change to an entity shows up in every list
// that contains it.
//
// Components:
//   - Resource cache: the normalized entity map plus per-query state.
//   - Pagination: StartQuery, FetchNext, Refresh, Retry with cursor tracking,
//     request coalescing and per-query generations that discard superseded
//     responses.
//   - Mutations: optimistic patches with exact rollback, composed per entity
//     so concurrent writes resolve in any order.
//   - Invalidation: Publish(kind, ids...) marks queries stale and bumps the
//     kind's epoch in a GenStore (local or Redis).
//   - Subscriptions: latest-wins channels of immutable Views.
//   - Parking: idle queries can be evicted to a provider.Provider (Ristretto,
//     BigCache, Redis) and restored while their kind's epoch is unchanged.
//
// Keys:
//
//	posts?user=u1      - canonical query key (params sorted)
//	park:<ns>:<hash>   - parked query record
//	epoch:<ns>:<kind>  - kind epoch (RedisGenStore)
//
// Typical use:
//
//	eng, _ := querycache.New(querycache.Options{DataSource: api})
//	sub, _ := eng.Subscribe(ctx, querycache.Key("posts", "user", "u1"))
//	for v := range sub.Updates() { render(v) }
//	_ = eng.FetchNext(ctx, sub.Key())
//	_, err := eng.Mutate(ctx, querycache.Like("posts", "p1", true))
package querycache

package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares kind epochs across processes and survives restarts.
// With a TTL, epoch keys expire when a kind stays quiet; readers then see
// epoch 0 and records parked under a higher epoch self-heal.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
}

var _ GenStore = (*RedisGenStore)(nil)

func NewRedisGenStore(client redis.UniversalClient, namespace string) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace}
}

// NewRedisGenStoreWithTTL refreshes ttl on every bump. ttl <= 0 disables expiry.
func NewRedisGenStoreWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace, ttl: ttl}
}

func (s *RedisGenStore) key(kind string) string { return "epoch:" + s.ns + ":" + kind }

func (s *RedisGenStore) Snapshot(ctx context.Context, kind string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis epoch parse: %w", err)
	}
	return u, nil
}

func (s *RedisGenStore) SnapshotMany(ctx context.Context, kinds []string) (map[string]uint64, error) {
	if len(kinds) == 0 {
		return map[string]uint64{}, nil
	}
	keys := make([]string, len(kinds))
	for i, k := range kinds {
		keys[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(kinds))
	for i, v := range vals {
		var str string
		switch vv := v.(type) {
		case nil:
			out[kinds[i]] = 0
			continue
		case string:
			str = vv
		case []byte:
			str = string(vv)
		default:
			str = fmt.Sprint(vv)
		}
		u, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis epoch parse at %s: %w", kinds[i], err)
		}
		out[kinds[i]] = u
	}
	return out, nil
}

// Bump pipelines INCR + EXPIRE when a TTL is configured.
func (s *RedisGenStore) Bump(ctx context.Context, kind string) (uint64, error) {
	k := s.key(kind)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

func (s *RedisGenStore) Cleanup(time.Duration) {}

func (s *RedisGenStore) Close(context.Context) error { return s.rdb.Close() }

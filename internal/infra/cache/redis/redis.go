// Package redis implements cache.Store on Redis, one value per record plus a
// sorted-set index keyed by store time so Cleanup can sweep by age.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickerhub/tickerd/internal/infra/cache"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

const indexKey = "cache:index"

// Store implements cache.Store on a Redis connection.
type Store struct {
	rdb *redis.Client
}

// NewStore connects and pings the Redis instance.
func NewStore(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func recordKey(namespace, key string) string {
	return fmt.Sprintf("cache:%s:%s", namespace, key)
}

func (s *Store) Put(ctx context.Context, namespace, key string, payload []byte) error {
	rec := cache.Record{
		Namespace: namespace,
		Key:       key,
		Payload:   payload,
		StoredAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	// stored_at never moves backward; best-effort check without a WATCH,
	// the same last-writer-wins window every backend accepts.
	if prev, rerr := s.read(ctx, namespace, key); rerr == nil && prev != nil && prev.StoredAt.After(rec.StoredAt) {
		return nil
	}

	rkey := recordKey(namespace, key)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, rkey, data, 0)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(rec.StoredAt.UnixNano()), Member: rkey})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache record: %w", err)
	}
	return nil
}

func (s *Store) GetFresh(ctx context.Context, namespace, key string, ttl time.Duration) (*cache.Record, error) {
	rec, err := s.read(ctx, namespace, key)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Age(time.Now()) >= ttl {
		return nil, nil
	}
	return rec, nil
}

func (s *Store) GetStale(ctx context.Context, namespace, key string) (*cache.Record, error) {
	return s.read(ctx, namespace, key)
}

func (s *Store) read(ctx context.Context, namespace, key string) (*cache.Record, error) {
	data, err := s.rdb.Get(ctx, recordKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache record: %w", err)
	}
	var rec cache.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// Unparseable entries count as absent; Cleanup will reap them.
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).UnixNano()
	max := fmt.Sprintf("(%d", cutoff)

	members, err := s.rdb.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache index: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := s.rdb.TxPipeline()
	for _, m := range members {
		pipe.Del(ctx, m)
	}
	pipe.ZRemRangeByScore(ctx, indexKey, "-inf", max)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete expired cache records: %w", err)
	}
	return len(members), nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

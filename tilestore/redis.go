package tilestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/tilekey"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares payloads between processes. Entries expire after TTL; zero keeps them.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(addr string, db int, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) redisKey(kind fetch.Kind, key tilekey.Key) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, key)
}

func (s *RedisStore) Get(ctx context.Context, kind fetch.Kind, key tilekey.Key) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(kind, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, kind fetch.Kind, key tilekey.Key, data []byte) error {
	if err := s.client.Set(ctx, s.redisKey(kind, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package indexer

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records in Redis under a key prefix, so that several
// indexers can share one server.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key []byte) string {
	return s.prefix + string(key)
}

func (s *RedisStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *RedisStore) Has(ctx context.Context, key []byte) (bool, error) {
	count, err := s.client.Exists(ctx, s.redisKey(key)).Result()
	return count > 0, err
}

func (s *RedisStore) WriteBatch(ctx context.Context, entries []entry) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.Set(ctx, s.redisKey(e.key), e.value, 0)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

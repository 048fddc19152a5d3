// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache"
	flag "github.com/spf13/pflag"
)

type BigCacheConfig struct {
	Enable     bool          `koanf:"enable"`
	Expiration time.Duration `koanf:"expiration"`
}

var DefaultBigCacheConfig = BigCacheConfig{
	Expiration: time.Hour,
}

func BigCacheConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultBigCacheConfig.Enable, "keep encoded records in an off-heap cache in front of the record store")
	f.Duration(prefix+".expiration", DefaultBigCacheConfig.Expiration, "how long an encoded record stays in the off-heap cache")
}

// BigCacheStore fronts a Store with a bigcache of encoded records. Writes go
// to the base store first and are cached only once the batch has landed.
type BigCacheStore struct {
	base   Store
	config BigCacheConfig
	cache  *bigcache.BigCache
}

var _ Store = (*BigCacheStore)(nil)

func NewBigCacheStore(config BigCacheConfig, base Store) (*BigCacheStore, error) {
	cache, err := bigcache.NewBigCache(bigcache.DefaultConfig(config.Expiration))
	if err != nil {
		return nil, err
	}
	return &BigCacheStore{
		base:   base,
		config: config,
		cache:  cache,
	}, nil
}

func (s *BigCacheStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if data, err := s.cache.Get(string(key)); err == nil {
		return data, nil
	}
	data, err := s.base.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(string(key), data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BigCacheStore) Has(ctx context.Context, key []byte) (bool, error) {
	if _, err := s.cache.Get(string(key)); err == nil {
		return true, nil
	}
	return s.base.Has(ctx, key)
}

func (s *BigCacheStore) WriteBatch(ctx context.Context, entries []entry) error {
	if err := s.base.WriteBatch(ctx, entries); err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.cache.Set(string(e.key), e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *BigCacheStore) Close() error {
	if err := s.cache.Close(); err != nil {
		return err
	}
	return s.base.Close()
}

func (s *BigCacheStore) String() string {
	return fmt.Sprintf("BigCacheStore(%+v)", s.config)
}

// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"

	"github.com/offchainlabs/rollupcore/util/redisutil"
)

var ErrNotFound = errors.New("record not found")

type entry struct {
	key   []byte
	value []byte
}

// Store persists indexer records. WriteBatch applies all entries or none.
type Store interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Has(ctx context.Context, key []byte) (bool, error)
	WriteBatch(ctx context.Context, entries []entry) error
	Close() error
}

// DBStore keeps records in an ethdb key-value store.
type DBStore struct {
	db ethdb.KeyValueStore
}

var _ Store = (*DBStore)(nil)

func NewDBStore(db ethdb.KeyValueStore) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(_ context.Context, key []byte) ([]byte, error) {
	has, err := s.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrNotFound
	}
	return s.db.Get(key)
}

func (s *DBStore) Has(_ context.Context, key []byte) (bool, error) {
	return s.db.Has(key)
}

func (s *DBStore) WriteBatch(_ context.Context, entries []entry) error {
	batch := s.db.NewBatch()
	for _, e := range entries {
		if err := batch.Put(e.key, e.value); err != nil {
			return err
		}
	}
	return batch.Write()
}

func (s *DBStore) Close() error {
	return s.db.Close()
}

// NewStore opens the backend selected by config, behind a bigcache when one
// is enabled.
func NewStore(config *Config) (Store, error) {
	base, err := newBaseStore(config)
	if err != nil {
		return nil, err
	}
	if !config.BigCache.Enable {
		return base, nil
	}
	cached, err := NewBigCacheStore(config.BigCache, base)
	if err != nil {
		return nil, errors.Join(err, base.Close())
	}
	return cached, nil
}

func newBaseStore(config *Config) (Store, error) {
	switch config.Backend {
	case "memory":
		return NewDBStore(memorydb.New()), nil
	case "leveldb":
		db, err := leveldb.New(config.Path, config.LevelDBCache, config.LevelDBHandles, "rollupcore/indexer/", false)
		if err != nil {
			return nil, fmt.Errorf("error opening leveldb at %s: %w", config.Path, err)
		}
		return NewDBStore(db), nil
	case "redis":
		client, err := redisutil.RedisClientFromURL(config.RedisURL)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, errors.New("redis backend requires redis-url")
		}
		return NewRedisStore(client, config.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown indexer backend %q", config.Backend)
	}
}

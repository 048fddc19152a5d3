// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package indexer

import (
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
)

type Config struct {
	Enable         bool           `koanf:"enable"`
	Backend        string         `koanf:"backend"`
	Path           string         `koanf:"path"`
	LevelDBCache   int            `koanf:"leveldb-cache"`
	LevelDBHandles int            `koanf:"leveldb-handles"`
	RedisURL       string         `koanf:"redis-url"`
	RedisPrefix    string         `koanf:"redis-prefix"`
	CacheSize      int            `koanf:"cache-size"`
	BigCache       BigCacheConfig `koanf:"bigcache"`
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "memory":
	case "leveldb":
		if c.Path == "" {
			return errors.New("leveldb backend requires a path")
		}
	case "redis":
		if c.RedisURL == "" {
			return errors.New("redis backend requires redis-url")
		}
	default:
		return fmt.Errorf("unknown indexer backend %q", c.Backend)
	}
	if c.CacheSize <= 0 {
		return errors.New("cache-size must be positive")
	}
	if c.BigCache.Enable && c.BigCache.Expiration <= 0 {
		return errors.New("bigcache expiration must be positive")
	}
	return nil
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultConfig.Enable, "enable the event indexer")
	f.String(prefix+".backend", DefaultConfig.Backend, "record store, either memory, leveldb, or redis")
	f.String(prefix+".path", DefaultConfig.Path, "leveldb directory")
	f.Int(prefix+".leveldb-cache", DefaultConfig.LevelDBCache, "leveldb cache size in MB")
	f.Int(prefix+".leveldb-handles", DefaultConfig.LevelDBHandles, "leveldb open file handles")
	f.String(prefix+".redis-url", DefaultConfig.RedisURL, "redis url, redis:// or redis+sentinel://")
	f.String(prefix+".redis-prefix", DefaultConfig.RedisPrefix, "prefix of every redis key written")
	f.Int(prefix+".cache-size", DefaultConfig.CacheSize, "number of records kept in the read cache")
	BigCacheConfigAddOptions(prefix+".bigcache", f)
}

var DefaultConfig = Config{
	Enable:         false,
	Backend:        "memory",
	Path:           "",
	LevelDBCache:   16,
	LevelDBHandles: 16,
	RedisURL:       "",
	RedisPrefix:    "rollupcore.indexer.",
	CacheSize:      1024,
	BigCache:       DefaultBigCacheConfig,
}

var TestConfig = Config{
	Enable:         true,
	Backend:        "memory",
	LevelDBCache:   16,
	LevelDBHandles: 16,
	RedisPrefix:    "test.",
	CacheSize:      16,
	BigCache:       BigCacheConfig{Expiration: time.Minute},
}

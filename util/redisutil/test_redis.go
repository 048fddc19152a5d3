// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package redisutil

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// ExternalRedisEnv names a redis URL that tests use instead of an in-process
// server. Its database is flushed before each use.
const ExternalRedisEnv = "ROLLUPCORE_TEST_REDIS"

// CreateTestRedis returns the URL of an empty redis database that lives
// until the test ends or ctx is cancelled, whichever comes first.
func CreateTestRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	if external := os.Getenv(ExternalRedisEnv); external != "" {
		client, err := RedisClientFromURL(external)
		require.NoError(t, err)
		require.NoError(t, client.FlushDB(ctx).Err())
		require.NoError(t, client.Close())
		return external
	}
	server := miniredis.NewMiniRedis()
	require.NoError(t, server.Start())
	stop := context.AfterFunc(ctx, server.Close)
	t.Cleanup(func() {
		if stop() {
			server.Close()
		}
	})
	return "redis://" + server.Addr() + "/0"
}

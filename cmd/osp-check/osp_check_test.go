// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/osp"
)

func TestGenerateThenCheck(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.json")

	config, err := parseOspCheck([]string{"--vectors", path, "--generate", "--steps", "5"})
	require.NoError(t, err)
	require.NoError(t, run(ctx, config))

	vectors, err := osp.LoadProofVectors(path)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	config, err = parseOspCheck([]string{"--vectors", path})
	require.NoError(t, err)
	require.NoError(t, run(ctx, config))

	// Vectors recorded against one inbox size do not verify against another.
	config, err = parseOspCheck([]string{"--vectors", path, "--max-inbox-messages", "2"})
	require.NoError(t, err)
	require.Error(t, run(ctx, config))

	vectors[3].After[0] ^= 0xff
	data, err := json.Marshal(vectors)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	config, err = parseOspCheck([]string{"--vectors", path})
	require.NoError(t, err)
	require.Error(t, run(ctx, config))
}

func TestVectorsFlagRequired(t *testing.T) {
	_, err := parseOspCheck([]string{"--generate"})
	require.Error(t, err)
}

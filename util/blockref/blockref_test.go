// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package blockref

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArtificialBlockReference(t *testing.T) {
	ref := NewArtificialBlockReference(10)
	require.Equal(t, uint64(10), ref.Get())
	require.Equal(t, uint64(15), ref.Add(5))
	ref.Set(math.MaxUint64 - 1)
	require.Equal(t, uint64(math.MaxUint64), ref.Add(5))
}

func TestArtificialBlockReferenceConcurrentAdd(t *testing.T) {
	ref := NewArtificialBlockReference(0)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ref.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(1600), ref.Get())
}

func TestBlockReferenceFunc(t *testing.T) {
	var ref BlockReference = BlockReferenceFunc(func() uint64 { return 42 })
	require.Equal(t, uint64(42), ref.Get())
}

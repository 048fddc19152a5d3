// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package blockref supplies the host ledger's current block height to code
// that compares it against stored deadlines.
package blockref

import (
	"sync/atomic"

	"github.com/offchainlabs/rollupcore/util/arbmath"
)

type BlockReference interface {
	Get() uint64
}

// BlockReferenceFunc adapts a function returning the current height.
type BlockReferenceFunc func() uint64

func (f BlockReferenceFunc) Get() uint64 {
	return f()
}

// ArtificialBlockReference is a manually advanced block height, safe for
// concurrent use.
type ArtificialBlockReference struct {
	current atomic.Uint64
}

func NewArtificialBlockReference(start uint64) *ArtificialBlockReference {
	ref := &ArtificialBlockReference{}
	ref.current.Store(start)
	return ref
}

func (abr *ArtificialBlockReference) Get() uint64 {
	return abr.current.Load()
}

func (abr *ArtificialBlockReference) Set(newVal uint64) {
	abr.current.Store(newVal)
}

// Add advances the height, saturating instead of wrapping.
func (abr *ArtificialBlockReference) Add(delta uint64) uint64 {
	for {
		old := abr.current.Load()
		next := arbmath.SaturatingUAdd(old, delta)
		if abr.current.CompareAndSwap(old, next) {
			return next
		}
	}
}

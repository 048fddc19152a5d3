// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package osp defines the boundary to the single-step execution verifier and
// ships a reference block machine with a matching verifier.
package osp

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrMalformedProof = errors.New("malformed one step proof")
	ErrProofMismatch  = errors.New("proof does not match the before state")
)

// ExecutionContext is fixed for the lifetime of a challenge and determines
// how a single step executes.
type ExecutionContext struct {
	MaxInboxMessages uint64
	ModuleRoot       common.Hash
}

// Verifier computes the state hash after executing the step at index step
// from the before state hash, given a proof blob. Implementations must be
// deterministic and must report unparseable proofs as errors.
type Verifier interface {
	VerifyOneStep(
		ctx context.Context,
		execCtx ExecutionContext,
		step uint64,
		before common.Hash,
		proof []byte,
	) (common.Hash, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, execCtx ExecutionContext, step uint64, before common.Hash, proof []byte) (common.Hash, error)

func (f VerifierFunc) VerifyOneStep(ctx context.Context, execCtx ExecutionContext, step uint64, before common.Hash, proof []byte) (common.Hash, error) {
	return f(ctx, execCtx, step, before, proof)
}

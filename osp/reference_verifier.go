// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package osp

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/protocol"
)

// ReferenceVerifier checks steps of the ReferenceMachine. A proof is the RLP
// encoded execution state preimage of the before hash.
type ReferenceVerifier struct {
	machine ReferenceMachine
}

var _ Verifier = (*ReferenceVerifier)(nil)

func NewReferenceVerifier() *ReferenceVerifier {
	return &ReferenceVerifier{}
}

func (v *ReferenceVerifier) VerifyOneStep(
	ctx context.Context,
	execCtx ExecutionContext,
	step uint64,
	before common.Hash,
	proof []byte,
) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	var state protocol.ExecutionState
	if err := rlp.DecodeBytes(proof, &state); err != nil {
		return common.Hash{}, errors.Wrapf(ErrMalformedProof, "step %d: %v", step, err)
	}
	stateHash, err := state.BlockStateHash()
	if err != nil {
		return common.Hash{}, errors.Wrapf(ErrMalformedProof, "step %d: %v", step, err)
	}
	if stateHash != before {
		return common.Hash{}, errors.Wrapf(ErrProofMismatch, "step %d: proof hashes to %v, expected %v", step, stateHash, before)
	}
	after := v.machine.Step(execCtx, state)
	return after.BlockStateHash()
}

// ProveStep builds the proof of the step executed from state.
func ProveStep(state protocol.ExecutionState) ([]byte, error) {
	return rlp.EncodeToBytes(&state)
}

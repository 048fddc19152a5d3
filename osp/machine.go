// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package osp

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/rollupcore/protocol"
)

// ReferenceMachine is a deterministic block producer. Each step executes one
// block, reading the next inbox message while any remain below the context's
// message limit. Errored and too-far states never change.
type ReferenceMachine struct{}

func (ReferenceMachine) Step(execCtx ExecutionContext, state protocol.ExecutionState) protocol.ExecutionState {
	if !state.CanAdvance() {
		return state
	}
	prevHash := state.GlobalState.Hash()
	next := state
	g := &next.GlobalState
	if g.PosInBatch > 0 {
		g.Batch++
		g.PosInBatch = 0
	}
	if g.Batch < execCtx.MaxInboxMessages {
		g.Batch++
		g.SendRoot = crypto.Keccak256Hash([]byte("Send root:"), g.SendRoot.Bytes(), binary.BigEndian.AppendUint64(nil, g.Batch))
	}
	g.BlockHash = crypto.Keccak256Hash([]byte("Block:"), execCtx.ModuleRoot.Bytes(), prevHash.Bytes())
	next.MachineStatus = protocol.MachineStatusFinished
	return next
}

// Run executes n steps from start.
func (m ReferenceMachine) Run(execCtx ExecutionContext, start protocol.ExecutionState, n uint64) protocol.ExecutionState {
	state := start
	for i := uint64(0); i < n; i++ {
		next := m.Step(execCtx, state)
		if next == state {
			break
		}
		state = next
	}
	return state
}

// HashAtStep returns the block state hash after n steps from start.
func (m ReferenceMachine) HashAtStep(execCtx ExecutionContext, start protocol.ExecutionState, n uint64) (common.Hash, error) {
	state := m.Run(execCtx, start, n)
	return state.BlockStateHash()
}

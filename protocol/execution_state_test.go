// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestRequiredBatches(t *testing.T) {
	type testCase struct {
		name     string
		state    ExecutionState
		expected uint64
	}
	testCases := []testCase{
		{"finished at batch start", ExecutionState{GlobalState: GoGlobalState{Batch: 3}, MachineStatus: MachineStatusFinished}, 3},
		{"finished mid batch", ExecutionState{GlobalState: GoGlobalState{Batch: 3, PosInBatch: 2}, MachineStatus: MachineStatusFinished}, 4},
		{"errored at batch start", ExecutionState{GlobalState: GoGlobalState{Batch: 3}, MachineStatus: MachineStatusErrored}, 4},
		{"saturates", ExecutionState{GlobalState: GoGlobalState{Batch: ^uint64(0), PosInBatch: 1}, MachineStatus: MachineStatusFinished}, ^uint64(0)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.state.RequiredBatches())
		})
	}
}

func TestBlockStateHash(t *testing.T) {
	g := GoGlobalState{BlockHash: common.HexToHash("0x01"), Batch: 1}
	finished, err := BlockStateHash(MachineStatusFinished, g.Hash())
	require.NoError(t, err)
	errored, err := BlockStateHash(MachineStatusErrored, g.Hash())
	require.NoError(t, err)
	require.NotEqual(t, finished, errored)

	tooFarA, err := BlockStateHash(MachineStatusTooFar, g.Hash())
	require.NoError(t, err)
	tooFarB, err := BlockStateHash(MachineStatusTooFar, common.Hash{})
	require.NoError(t, err)
	require.Equal(t, tooFarA, tooFarB)

	_, err = BlockStateHash(MachineStatusRunning, g.Hash())
	require.ErrorIs(t, err, ErrNoBlockStateHash)
}

func TestAssertionCommitments(t *testing.T) {
	before := ExecutionState{MachineStatus: MachineStatusFinished}
	a := Assertion{
		BeforeState: before,
		AfterState:  ExecutionState{GlobalState: GoGlobalState{Batch: 1}, MachineStatus: MachineStatusFinished},
		NumBlocks:   10,
	}
	b := a
	require.False(t, a.Conflicts(&b))
	require.Equal(t, a.Hash(), b.Hash())

	b.NumBlocks = 11
	require.True(t, a.Conflicts(&b))
	require.NotEqual(t, a.Hash(), b.Hash())

	parent := common.HexToHash("0xaa")
	require.NotEqual(t,
		NodeHash(parent, a.Hash(), common.Hash{}),
		NodeHash(parent, a.Hash(), common.HexToHash("0x01")),
	)
	require.NotEqual(t, ConfirmHash(common.Hash{}, common.HexToHash("0x01")), ConfirmHash(common.HexToHash("0x01"), common.Hash{}))
}

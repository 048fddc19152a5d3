// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package protocol holds the value types describing a point in chain execution
// and the commitments the rollup core builds from them.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var ErrNoBlockStateHash = errors.New("machine status has no block state hash")

type GoGlobalState struct {
	BlockHash  common.Hash
	SendRoot   common.Hash
	Batch      uint64
	PosInBatch uint64
}

const globalStatePrefix = "Global state:"

// Hash commits to the prefix, both roots, and the inbox position as
// big-endian words.
func (s GoGlobalState) Hash() common.Hash {
	data := make([]byte, 0, len(globalStatePrefix)+2*common.HashLength+16)
	data = append(data, globalStatePrefix...)
	data = append(data, s.BlockHash[:]...)
	data = append(data, s.SendRoot[:]...)
	data = binary.BigEndian.AppendUint64(data, s.Batch)
	data = binary.BigEndian.AppendUint64(data, s.PosInBatch)
	return crypto.Keccak256Hash(data)
}

func (s GoGlobalState) String() string {
	return fmt.Sprintf("GlobalState{block=%v, send=%v, batch=%d, pos=%d}", s.BlockHash, s.SendRoot, s.Batch, s.PosInBatch)
}

type MachineStatus uint8

const (
	MachineStatusRunning  MachineStatus = 0
	MachineStatusFinished MachineStatus = 1
	MachineStatusErrored  MachineStatus = 2
	MachineStatusTooFar   MachineStatus = 3
)

func (s MachineStatus) String() string {
	switch s {
	case MachineStatusRunning:
		return "running"
	case MachineStatusFinished:
		return "finished"
	case MachineStatusErrored:
		return "errored"
	case MachineStatusTooFar:
		return "too far"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type ExecutionState struct {
	GlobalState   GoGlobalState
	MachineStatus MachineStatus
}

// CanAdvance reports whether another block can be executed on top of this state.
// A finished machine hands its global state to the next block; errored and
// too-far states are frozen.
func (s *ExecutionState) CanAdvance() bool {
	return s.MachineStatus == MachineStatusFinished
}

// RequiredBatches is the number of inbox messages that must exist for this
// state to be reachable. A state partway into a message, or an errored one,
// has consumed the message at its position.
func (s *ExecutionState) RequiredBatches() uint64 {
	pos := s.GlobalState
	consumedCurrent := s.MachineStatus == MachineStatusErrored || pos.PosInBatch > 0
	if consumedCurrent && pos.Batch != math.MaxUint64 {
		return pos.Batch + 1
	}
	return pos.Batch
}

// BlockStateHash returns the commitment used for this state in challenge segments.
func (s *ExecutionState) BlockStateHash() (common.Hash, error) {
	return BlockStateHash(s.MachineStatus, s.GlobalState.Hash())
}

// BlockStateHash commits to a machine status and a global state hash.
func BlockStateHash(status MachineStatus, globalStateHash common.Hash) (common.Hash, error) {
	switch status {
	case MachineStatusFinished:
		return crypto.Keccak256Hash([]byte("Block state:"), globalStateHash.Bytes()), nil
	case MachineStatusErrored:
		return crypto.Keccak256Hash([]byte("Block state, errored:"), globalStateHash.Bytes()), nil
	case MachineStatusTooFar:
		return crypto.Keccak256Hash([]byte("Block state, too far:")), nil
	default:
		return common.Hash{}, errors.Wrapf(ErrNoBlockStateHash, "status %v", status)
	}
}

// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Assertion is a claimed transition from BeforeState to AfterState over NumBlocks blocks.
type Assertion struct {
	BeforeState ExecutionState
	AfterState  ExecutionState
	NumBlocks   uint64
}

func executionStateBytes(s *ExecutionState) []byte {
	h := s.GlobalState.Hash()
	return append(h.Bytes(), byte(s.MachineStatus))
}

func (a *Assertion) Hash() common.Hash {
	return crypto.Keccak256Hash(
		executionStateBytes(&a.BeforeState),
		executionStateBytes(&a.AfterState),
		binary.BigEndian.AppendUint64(nil, a.NumBlocks),
	)
}

// Conflicts reports whether two assertions claim different outcomes.
func (a *Assertion) Conflicts(other *Assertion) bool {
	return a.AfterState != other.AfterState || a.NumBlocks != other.NumBlocks
}

func (a *Assertion) String() string {
	return fmt.Sprintf("Assertion{before=%v/%v, after=%v/%v, blocks=%d}",
		a.BeforeState.GlobalState, a.BeforeState.MachineStatus,
		a.AfterState.GlobalState, a.AfterState.MachineStatus,
		a.NumBlocks,
	)
}

// NodeHash is the commitment for a node in the assertion tree.
func NodeHash(parentHash common.Hash, assertionHash common.Hash, inboxAcc common.Hash) common.Hash {
	return crypto.Keccak256Hash(parentHash.Bytes(), assertionHash.Bytes(), inboxAcc.Bytes())
}

// ConfirmHash is the data recorded when a node gets confirmed.
func ConfirmHash(blockHash common.Hash, sendRoot common.Hash) common.Hash {
	return crypto.Keccak256Hash(blockHash.Bytes(), sendRoot.Bytes())
}

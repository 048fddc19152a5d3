// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package indexer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
)

// NodeRecord is a node as reconstructed from the event feed.
type NodeRecord struct {
	NodeNum        uint64
	ParentNum      uint64
	NodeHash       common.Hash
	Assertion      protocol.Assertion
	InboxAcc       common.Hash
	InboxMaxCount  uint64
	DeadlineBlock  uint64
	CreatedAtBlock uint64
	RequiredStake  *big.Int
	Creator        common.Address
	Status         uint8
	Pruned         bool
	Forced         bool
	Challenges     []uint64
}

func (n *NodeRecord) NodeStatus() rollup.NodeStatus {
	return rollup.NodeStatus(n.Status)
}

type ChallengeRecord struct {
	Index          uint64
	AsserterNode   uint64
	ChallengerNode uint64
	Asserter       common.Address
	Challenger     common.Address
	NumBlocks      uint64
	StartedAtBlock uint64
	Bisections     uint64
	SegmentStart   uint64
	SegmentLength  uint64
	AwaitsOneStep  bool
	ProvenStep     uint64
	Proven         bool
	Resolved       bool
	Winner         common.Address
	Loser          common.Address
	Resolution     uint8
}

type StakerRecord struct {
	Address          common.Address
	Amount           *big.Int
	LatestStakedNode uint64
	Staked           bool
	Zombie           bool
	Challenges       []uint64
}

// Head summarizes the tree and counts the events applied so far.
type Head struct {
	EventCount        uint64
	LatestConfirmed   uint64
	LatestNodeCreated uint64
	ChallengeCount    uint64
	Paused            bool
}

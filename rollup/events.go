// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/protocol"
)

// Event is published for every committed state change, in emission order.
type Event interface {
	IsEvent()
}

type genericEvent struct{}

func (genericEvent) IsEvent() {}

type NodeCreated struct {
	genericEvent
	NodeNum        uint64
	ParentNum      uint64
	NodeHash       common.Hash
	ParentHash     common.Hash
	ExecutionHash  common.Hash
	Assertion      protocol.Assertion
	InboxAcc       common.Hash
	InboxMaxCount  uint64
	DeadlineBlock  uint64
	CreatedAtBlock uint64
	RequiredStake  *big.Int
	Creator        common.Address
	Forced         bool
}

type NodeDeadlineExtended struct {
	genericEvent
	NodeNum     uint64
	OldDeadline uint64
	NewDeadline uint64
}

type NodeConfirmed struct {
	genericEvent
	NodeNum   uint64
	BlockHash common.Hash
	SendRoot  common.Hash
	Forced    bool
}

type NodeRejected struct {
	genericEvent
	NodeNum uint64
	// Pruned is set when the node was rejected because a conflicting
	// sibling branch got confirmed.
	Pruned bool
}

type StakerCreated struct {
	genericEvent
	Staker common.Address
	Index  uint64
}

type StakeChanged struct {
	genericEvent
	Staker    common.Address
	OldAmount *big.Int
	NewAmount *big.Int
}

type StakerMoved struct {
	genericEvent
	Staker   common.Address
	FromNode uint64
	ToNode   uint64
}

type StakerWithdrawn struct {
	genericEvent
	Staker common.Address
	Amount *big.Int
}

type FundsWithdrawn struct {
	genericEvent
	Addr   common.Address
	Amount *big.Int
}

type BalanceSet struct {
	genericEvent
	Addr       common.Address
	OldBalance *big.Int
	NewBalance *big.Int
}

type StakerZombified struct {
	genericEvent
	Staker           common.Address
	LatestStakedNode uint64
}

type ZombieRemoved struct {
	genericEvent
	Staker common.Address
}

type ChallengeStarted struct {
	genericEvent
	Index          uint64
	AsserterNode   uint64
	ChallengerNode uint64
	Asserter       common.Address
	Challenger     common.Address
	NumBlocks      uint64
	Segments       []common.Hash
	StateHash      common.Hash
	LastMoveBlock  uint64
	AsserterTime   uint64
	ChallengerTime uint64
}

type Bisected struct {
	genericEvent
	challenge.Bisection
}

type OneStepProven struct {
	genericEvent
	Index uint64
	Step  uint64
	Mover common.Address
}

type ChallengeResolved struct {
	genericEvent
	challenge.Result
}

type Paused struct {
	genericEvent
}

type Resumed struct {
	genericEvent
}

type ValidatorSet struct {
	genericEvent
	Validator common.Address
	Allowed   bool
}

type ParamsChanged struct {
	genericEvent
	Params Params
}

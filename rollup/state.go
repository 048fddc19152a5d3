// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

type NodeStatus uint8

const (
	StatusPending NodeStatus = iota
	StatusConfirmed
	StatusRejected
)

func (s NodeStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// NoNode marks an absent child or sibling link. Genesis is never a child, so
// node 0 can double as the sentinel.
const NoNode uint64 = 0

// Node is an entry of the assertion tree. Nodes live in an arena indexed by
// NodeNum; children of a node form a linked list through NextSiblingNum.
type Node struct {
	NodeNum                     uint64
	NodeHash                    common.Hash
	ParentNum                   uint64
	Assertion                   protocol.Assertion
	InboxAcc                    common.Hash
	ConfirmData                 common.Hash
	DeadlineBlock               uint64
	DeadlineExtended            bool
	NoChildConfirmedBeforeBlock uint64
	CreatedAtBlock              uint64
	FirstChildBlock             uint64
	StakerCount                 uint64
	ChildStakerCount            uint64
	PeakStakerCount             uint64
	FirstChildNum               uint64
	LatestChildNum              uint64
	NextSiblingNum              uint64
	ChildCount                  uint64
	InboxMaxCount               uint64
	RequiredStake               *big.Int
	ChallengeHash               common.Hash
	Status                      NodeStatus
}

func (n *Node) Clone() *Node {
	cp := *n
	cp.RequiredStake = arbmath.BigCopy(n.RequiredStake)
	return &cp
}

func (n *Node) String() string {
	return fmt.Sprintf("Node{num=%d, parent=%d, status=%v, deadline=%d, stakers=%d}", n.NodeNum, n.ParentNum, n.Status, n.DeadlineBlock, n.StakerCount)
}

// Staker is an active stake. Stakers reference nodes by number only.
type Staker struct {
	Address          common.Address
	AmountStaked     *big.Int
	Index            uint64
	LatestStakedNode uint64
	CurrentChallenge uint64
	IsStaked         bool
}

func (s *Staker) Clone() *Staker {
	cp := *s
	cp.AmountStaked = arbmath.BigCopy(s.AmountStaked)
	return &cp
}

// Zombie is what is left of a staker that lost a challenge: its address and
// the node up to which its path entries still have to be cleaned up.
type Zombie struct {
	StakerAddress    common.Address
	LatestStakedNode uint64
}

// State is the complete shared ledger. It is only mutated through
// transactions, which operate on a private copy.
type State struct {
	Params     Params
	Paused     bool
	Validators map[common.Address]bool

	Nodes             []*Node
	LatestConfirmed   uint64
	FirstUnresolved   uint64
	LatestNodeCreated uint64

	Stakers     map[common.Address]*Staker
	StakerList  []common.Address
	Zombies     []Zombie
	NodeStakers map[uint64]map[common.Address]bool

	Balances               map[common.Address]*big.Int
	WithdrawableFunds      map[common.Address]*big.Int
	TotalWithdrawableFunds *big.Int

	Challenges *challenge.Manager
}

func cloneBalances(m map[common.Address]*big.Int) map[common.Address]*big.Int {
	cp := make(map[common.Address]*big.Int, len(m))
	for addr, amount := range m {
		cp[addr] = arbmath.BigCopy(amount)
	}
	return cp
}

func (s *State) Clone() *State {
	cp := &State{
		Params:                 s.Params.Clone(),
		Paused:                 s.Paused,
		Validators:             make(map[common.Address]bool, len(s.Validators)),
		Nodes:                  make([]*Node, len(s.Nodes)),
		LatestConfirmed:        s.LatestConfirmed,
		FirstUnresolved:        s.FirstUnresolved,
		LatestNodeCreated:      s.LatestNodeCreated,
		Stakers:                make(map[common.Address]*Staker, len(s.Stakers)),
		StakerList:             make([]common.Address, len(s.StakerList)),
		Zombies:                make([]Zombie, len(s.Zombies)),
		NodeStakers:            make(map[uint64]map[common.Address]bool, len(s.NodeStakers)),
		Balances:               cloneBalances(s.Balances),
		WithdrawableFunds:      cloneBalances(s.WithdrawableFunds),
		TotalWithdrawableFunds: arbmath.BigCopy(s.TotalWithdrawableFunds),
		Challenges:             s.Challenges.Clone(),
	}
	for addr, allowed := range s.Validators {
		cp.Validators[addr] = allowed
	}
	for i, n := range s.Nodes {
		cp.Nodes[i] = n.Clone()
	}
	for addr, staker := range s.Stakers {
		cp.Stakers[addr] = staker.Clone()
	}
	copy(cp.StakerList, s.StakerList)
	copy(cp.Zombies, s.Zombies)
	for nodeNum, stakers := range s.NodeStakers {
		m := make(map[common.Address]bool, len(stakers))
		for addr := range stakers {
			m[addr] = true
		}
		cp.NodeStakers[nodeNum] = m
	}
	return cp
}

func (s *State) node(nodeNum uint64) (*Node, bool) {
	if nodeNum >= uint64(len(s.Nodes)) {
		return nil, false
	}
	return s.Nodes[nodeNum], true
}

func (s *State) nodeHasStaker(nodeNum uint64, addr common.Address) bool {
	return s.NodeStakers[nodeNum][addr]
}

func (s *State) balance(addr common.Address) *big.Int {
	if b, ok := s.Balances[addr]; ok {
		return b
	}
	return common.Big0
}

func (s *State) withdrawable(addr common.Address) *big.Int {
	if b, ok := s.WithdrawableFunds[addr]; ok {
		return b
	}
	return common.Big0
}

// TotalStaked sums the stake of every active staker.
func (s *State) TotalStaked() *big.Int {
	total := new(big.Int)
	for _, staker := range s.Stakers {
		total.Add(total, staker.AmountStaked)
	}
	return total
}

// TotalValue is the sum of balances, stakes and withdrawable funds. Only
// explicit balance changes from outside the protocol move it.
func (s *State) TotalValue() *big.Int {
	total := s.TotalStaked()
	for _, b := range s.Balances {
		total.Add(total, b)
	}
	return total.Add(total, s.TotalWithdrawableFunds)
}

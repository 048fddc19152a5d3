// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"

	"github.com/offchainlabs/rollupcore/util/arbmath"
)

// Tenth-of-a-doubling steps of the stake escalation curve.
var (
	escalationNumerators   = [10]uint64{1, 122971, 128977, 80017, 207329, 114243, 314252, 129988, 224562, 162163}
	escalationDenominators = [10]uint64{1, 114736, 112281, 64994, 157126, 80782, 207329, 80017, 128977, 86901}
)

const maxEscalationDoublings = 255

// requiredStakeAt is the stake needed to create a node at block now. It
// starts doubling every confirm period once the first unresolved node is
// past its deadline without having been settled.
func (s *State) requiredStakeAt(now uint64) *big.Int {
	baseStake := s.Params.BaseStake
	if !s.hasUnresolved() {
		return new(big.Int).Set(baseStake)
	}
	deadline := s.Nodes[s.FirstUnresolved].DeadlineBlock
	if now < deadline {
		return new(big.Int).Set(baseStake)
	}
	age := new(big.Int).SetUint64(now - deadline)
	periodsPassed := age.Mul(age, big.NewInt(10))
	periodsPassed.Div(periodsPassed, arbmath.UintToBig(s.Params.ConfirmPeriodBlocks))
	step := new(big.Int).Mod(periodsPassed, big.NewInt(10)).Uint64()
	doublings := new(big.Int).Div(periodsPassed, big.NewInt(10))
	if !doublings.IsUint64() || doublings.Uint64() > maxEscalationDoublings {
		doublings.SetUint64(maxEscalationDoublings)
	}
	multiplier := new(big.Int).Lsh(big.NewInt(1), uint(doublings.Uint64()))
	multiplier.Mul(multiplier, arbmath.UintToBig(escalationNumerators[step]))
	multiplier.Div(multiplier, arbmath.UintToBig(escalationDenominators[step]))
	if multiplier.Sign() == 0 {
		multiplier.SetUint64(1)
	}
	return multiplier.Mul(multiplier, baseStake)
}

// nodeMinimumStake is what a staker must keep behind nodeNum. The stake
// recorded at node creation is shared among the most stakers the node ever
// had, so the minimum never grows as stakers join.
func (s *State) nodeMinimumStake(nodeNum uint64) *big.Int {
	baseStake := s.Params.BaseStake
	node, ok := s.node(nodeNum)
	if !ok || node.RequiredStake == nil {
		return new(big.Int).Set(baseStake)
	}
	share := arbmath.BigDivCeilByUint(node.RequiredStake, arbmath.MaxInt(node.PeakStakerCount, 1))
	return arbmath.BigMax(baseStake, share)
}

// CurrentRequiredStake returns the stake a new node would require right now.
func (r *Rollup) CurrentRequiredStake(tx *ActiveTx) *big.Int {
	tx.verifyRead()
	return tx.state.requiredStakeAt(tx.now)
}

// NodeMinimumStake returns the least stake a staker on nodeNum may reduce to.
func (r *Rollup) NodeMinimumStake(tx *ActiveTx, nodeNum uint64) *big.Int {
	tx.verifyRead()
	return tx.state.nodeMinimumStake(nodeNum)
}

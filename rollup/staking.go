// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/util/arbmath"
)

// stakeOnNode moves a staker one step down its path. The entries on the
// nodes it leaves behind are kept; they are what makes NOT_ALL_STAKED work.
func (r *Rollup) stakeOnNode(tx *ActiveTx, staker *Staker, nodeNum uint64) error {
	if err := tx.state.addStaker(nodeNum, staker.Address, tx.now); err != nil {
		return err
	}
	from := staker.LatestStakedNode
	staker.LatestStakedNode = nodeNum
	tx.emit(&StakerMoved{Staker: staker.Address, FromNode: from, ToNode: nodeNum})
	return nil
}

func (r *Rollup) setStake(tx *ActiveTx, staker *Staker, amount *big.Int) {
	old := staker.AmountStaked
	staker.AmountStaked = new(big.Int).Set(amount)
	tx.emit(&StakeChanged{Staker: staker.Address, OldAmount: arbmath.BigCopy(old), NewAmount: new(big.Int).Set(amount)})
}

func (r *Rollup) increaseWithdrawable(tx *ActiveTx, addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	s := tx.state
	s.WithdrawableFunds[addr] = arbmath.BigAdd(s.withdrawable(addr), amount)
	s.TotalWithdrawableFunds = arbmath.BigAdd(s.TotalWithdrawableFunds, amount)
}

// createStaker registers a new stake on the latest confirmed node.
func (r *Rollup) createStaker(tx *ActiveTx, addr common.Address, amount *big.Int) (*Staker, error) {
	s := tx.state
	if err := r.deductFromBalance(tx, addr, amount); err != nil {
		return nil, err
	}
	staker := &Staker{
		Address:          addr,
		AmountStaked:     new(big.Int),
		Index:            uint64(len(s.StakerList)),
		LatestStakedNode: s.LatestConfirmed,
		IsStaked:         true,
	}
	s.Stakers[addr] = staker
	s.StakerList = append(s.StakerList, addr)
	if err := s.addStaker(s.LatestConfirmed, addr, tx.now); err != nil {
		return nil, err
	}
	tx.emit(&StakerCreated{Staker: addr, Index: staker.Index})
	r.setStake(tx, staker, amount)
	return staker, nil
}

// deleteStaker drops the staker record, swapping the last entry of the
// staker list into its slot.
func (s *State) deleteStaker(addr common.Address) {
	staker := s.Stakers[addr]
	last := len(s.StakerList) - 1
	moved := s.StakerList[last]
	s.StakerList[staker.Index] = moved
	s.Stakers[moved].Index = staker.Index
	s.StakerList = s.StakerList[:last]
	delete(s.Stakers, addr)
}

// withdrawStaker removes a staker and makes its whole stake withdrawable.
func (r *Rollup) withdrawStaker(tx *ActiveTx, staker *Staker) error {
	s := tx.state
	if s.nodeHasStaker(s.LatestConfirmed, staker.Address) {
		if err := s.removeStaker(s.LatestConfirmed, staker.Address); err != nil {
			return err
		}
	}
	amount := staker.AmountStaked
	r.increaseWithdrawable(tx, staker.Address, amount)
	r.setStake(tx, staker, common.Big0)
	s.deleteStaker(staker.Address)
	tx.emit(&StakerWithdrawn{Staker: staker.Address, Amount: new(big.Int).Set(amount)})
	return nil
}

func requireUnchallenged(staker *Staker) error {
	if staker.CurrentChallenge != 0 {
		return errors.Wrapf(ErrInChallenge, "%v in challenge %d", staker.Address, staker.CurrentChallenge)
	}
	return nil
}

func (s *State) requireNotZombie(addr common.Address) error {
	if s.isZombie(addr) {
		return errors.Wrapf(ErrStakerIsZombie, "%v", addr)
	}
	return nil
}

// NewStake stakes amount from the sender's balance on the latest confirmed node.
func (r *Rollup) NewStake(tx *ActiveTx, sender common.Address, amount *big.Int) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	if _, ok := s.Stakers[sender]; ok {
		return errors.Wrapf(ErrAlreadyStaked, "%v", sender)
	}
	if err := s.requireNotZombie(sender); err != nil {
		return err
	}
	required := s.requiredStakeAt(tx.now)
	if amount.Cmp(required) < 0 {
		return errors.Wrapf(ErrNotEnoughStake, "%s < %s", amount.String(), required.String())
	}
	if _, err := r.createStaker(tx, sender, amount); err != nil {
		return err
	}
	log.Info("new stake", "staker", sender, "amount", amount, "node", s.LatestConfirmed)
	return nil
}

// checkStakeTarget validates moving staker onto an existing unresolved node.
func (s *State) checkStakeTarget(latestStakedNode uint64, nodeNum uint64) (*Node, error) {
	if !s.isUnresolved(nodeNum) {
		return nil, errors.Wrapf(
			ErrNodeNumOutOfRange, "node %d outside [%d, %d]", nodeNum, s.FirstUnresolved, s.LatestNodeCreated,
		)
	}
	node := s.Nodes[nodeNum]
	if node.Status != StatusPending {
		return nil, errors.Wrapf(ErrNodeNotPending, "node %d is %v", nodeNum, node.Status)
	}
	if node.ParentNum != latestStakedNode {
		return nil, errors.Wrapf(ErrNotStakedPrev, "staked on %d, parent %d", latestStakedNode, node.ParentNum)
	}
	return node, nil
}

// NewStakeOnExistingNode creates a stake and places it on nodeNum, a child of
// the latest confirmed node. The deposit must cover both the current required
// stake and the node's minimum.
func (r *Rollup) NewStakeOnExistingNode(tx *ActiveTx, sender common.Address, amount *big.Int, nodeNum uint64) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	if _, ok := s.Stakers[sender]; ok {
		return errors.Wrapf(ErrAlreadyStaked, "%v", sender)
	}
	if err := s.requireNotZombie(sender); err != nil {
		return err
	}
	if _, err := s.checkStakeTarget(s.LatestConfirmed, nodeNum); err != nil {
		return err
	}
	required := arbmath.BigMax(s.requiredStakeAt(tx.now), s.nodeMinimumStake(nodeNum))
	if amount.Cmp(required) < 0 {
		return errors.Wrapf(ErrNotEnoughStake, "%s < %s", amount.String(), required.String())
	}
	staker, err := r.createStaker(tx, sender, amount)
	if err != nil {
		return err
	}
	return r.stakeOnNode(tx, staker, nodeNum)
}

// StakeOnExistingNode moves the sender's stake onto nodeNum, which must be a
// child of the node it is currently staked on.
func (r *Rollup) StakeOnExistingNode(tx *ActiveTx, sender common.Address, nodeNum uint64) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	staker, err := s.requireLiveStaker(sender)
	if err != nil {
		return err
	}
	if _, err := s.checkStakeTarget(staker.LatestStakedNode, nodeNum); err != nil {
		return err
	}
	minimum := s.nodeMinimumStake(nodeNum)
	if staker.AmountStaked.Cmp(minimum) < 0 {
		return errors.Wrapf(ErrNotEnoughStake, "%s < %s", staker.AmountStaked.String(), minimum.String())
	}
	return r.stakeOnNode(tx, staker, nodeNum)
}

// AddToDeposit adds amount from the sender's balance to stakerAddr's stake.
func (r *Rollup) AddToDeposit(tx *ActiveTx, sender common.Address, stakerAddr common.Address, amount *big.Int) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	staker, err := tx.state.requireLiveStaker(stakerAddr)
	if err != nil {
		return err
	}
	if err := requireUnchallenged(staker); err != nil {
		return err
	}
	if err := r.deductFromBalance(tx, sender, amount); err != nil {
		return err
	}
	r.setStake(tx, staker, arbmath.BigAdd(staker.AmountStaked, amount))
	return nil
}

// ReduceStakeTo lowers the sender's stake to target, which may not undercut
// the minimum of the node it is staked on. The difference becomes withdrawable.
func (r *Rollup) ReduceStakeTo(tx *ActiveTx, sender common.Address, target *big.Int) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	staker, err := s.requireLiveStaker(sender)
	if err != nil {
		return err
	}
	if err := requireUnchallenged(staker); err != nil {
		return err
	}
	if target.Cmp(staker.AmountStaked) > 0 {
		return errors.Wrapf(ErrTooLittleStake, "target %s above stake %s", target.String(), staker.AmountStaked.String())
	}
	minimum := s.nodeMinimumStake(staker.LatestStakedNode)
	if target.Cmp(minimum) < 0 {
		return errors.Wrapf(ErrTooLittleStake, "target %s below node minimum %s", target.String(), minimum.String())
	}
	r.increaseWithdrawable(tx, sender, arbmath.BigSub(staker.AmountStaked, target))
	r.setStake(tx, staker, target)
	return nil
}

// ReduceDeposit is ReduceStakeTo under the name validators know it by.
func (r *Rollup) ReduceDeposit(tx *ActiveTx, sender common.Address, target *big.Int) error {
	return r.ReduceStakeTo(tx, sender, target)
}

// ReturnOldDeposit refunds a staker whose latest node has been confirmed or
// lies behind the confirmed chain. Anyone may trigger it.
func (r *Rollup) ReturnOldDeposit(tx *ActiveTx, sender common.Address, stakerAddr common.Address) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	staker, err := s.requireLiveStaker(stakerAddr)
	if err != nil {
		return err
	}
	if staker.LatestStakedNode > s.LatestConfirmed {
		return errors.Wrapf(ErrTooRecent, "staked on %d, latest confirmed %d", staker.LatestStakedNode, s.LatestConfirmed)
	}
	if err := requireUnchallenged(staker); err != nil {
		return err
	}
	log.Info("returning old deposit", "staker", stakerAddr, "amount", staker.AmountStaked)
	return r.withdrawStaker(tx, staker)
}

// WithdrawStakerFunds moves the sender's withdrawable funds to its balance.
func (r *Rollup) WithdrawStakerFunds(tx *ActiveTx, sender common.Address) (*big.Int, error) {
	if err := r.requireUserOp(tx, sender); err != nil {
		return nil, err
	}
	s := tx.state
	amount := new(big.Int).Set(s.withdrawable(sender))
	if amount.Sign() == 0 {
		return nil, errors.Wrapf(ErrNoFundsToWithdraw, "%v", sender)
	}
	delete(s.WithdrawableFunds, sender)
	s.TotalWithdrawableFunds = arbmath.BigSub(s.TotalWithdrawableFunds, amount)
	r.AddToBalance(tx, sender, amount)
	tx.emit(&FundsWithdrawn{Addr: sender, Amount: new(big.Int).Set(amount)})
	return amount, nil
}

// Staker returns a copy of the stake held by addr.
func (r *Rollup) Staker(tx *ActiveTx, addr common.Address) (*Staker, bool) {
	tx.verifyRead()
	staker, ok := tx.state.Stakers[addr]
	if !ok {
		return nil, false
	}
	return staker.Clone(), true
}

func (r *Rollup) IsStaked(tx *ActiveTx, addr common.Address) bool {
	tx.verifyRead()
	staker, ok := tx.state.Stakers[addr]
	return ok && staker.IsStaked
}

func (r *Rollup) StakerCount(tx *ActiveTx) uint64 {
	tx.verifyRead()
	return uint64(len(tx.state.StakerList))
}

func (r *Rollup) StakerAddress(tx *ActiveTx, index uint64) (common.Address, error) {
	tx.verifyRead()
	if index >= uint64(len(tx.state.StakerList)) {
		return common.Address{}, errors.Errorf("staker index %d out of range", index)
	}
	return tx.state.StakerList[index], nil
}

func (r *Rollup) WithdrawableFunds(tx *ActiveTx, addr common.Address) *big.Int {
	tx.verifyRead()
	return new(big.Int).Set(tx.state.withdrawable(addr))
}

func (r *Rollup) NodeHasStaker(tx *ActiveTx, nodeNum uint64, addr common.Address) bool {
	tx.verifyRead()
	return tx.state.nodeHasStaker(nodeNum, addr)
}

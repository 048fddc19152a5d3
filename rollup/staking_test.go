// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/protocol"
)

func TestRequiredStakeEscalation(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	c.stake(alice, 100)
	c.createNode(alice, 0, c.honestAssertion(0, 1))
	deadline := c.node(1).DeadlineBlock
	require.Equal(t, uint64(21), deadline)
	state := c.rollup.Snapshot()

	for _, tc := range []struct {
		now      uint64
		expected int64
	}{
		{1, 100},
		{deadline - 1, 100},
		{deadline, 100},
		{deadline + 2, 100},
		{deadline + 20, 200},
		{deadline + 30, 200},
		{deadline + 40, 400},
		{deadline + 60, 800},
	} {
		require.Equal(t, tc.expected, state.requiredStakeAt(tc.now).Int64(), "block %d", tc.now)
	}

	capped := new(big.Int).Lsh(big.NewInt(100), maxEscalationDoublings)
	require.Equal(t, 0, capped.Cmp(state.requiredStakeAt(deadline+1_000_000)))

	// Without unresolved nodes there is nothing to escalate.
	c.ref.Set(deadline + 40)
	c.mustTx(func(tx *ActiveTx) error {
		require.Equal(t, int64(400), c.rollup.CurrentRequiredStake(tx).Int64())
		return c.rollup.ConfirmNextNode(tx, alice)
	})
	c.call(func(tx *ActiveTx) error {
		require.Equal(t, int64(100), c.rollup.CurrentRequiredStake(tx).Int64())
		return nil
	})
}

func TestEscalatedStakeGatesNewNodes(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup
	c.stake(alice, 100)
	c.stake(bob, 100)
	c.createNode(alice, 0, c.honestAssertion(0, 1))
	c.ref.Set(c.node(1).DeadlineBlock + 40)

	lying := c.lyingAssertion(0, 1)
	c.failTx(ErrNotEnoughStake, func(tx *ActiveTx) error {
		_, err := r.CreateNode(tx, bob, 0, lying, 1)
		return err
	})
	c.failTx(ErrNotEnoughStake, func(tx *ActiveTx) error {
		return r.NewStake(tx, carol, big.NewInt(399))
	})
	c.mustTx(func(tx *ActiveTx) error {
		return r.AddToDeposit(tx, carol, bob, big.NewInt(300))
	})
	require.Equal(t, uint64(2), c.createNode(bob, 0, lying))
	node := c.node(2)
	require.Equal(t, int64(400), node.RequiredStake.Int64())

	// The node minimum is the creation stake shared among its peak stakers.
	c.call(func(tx *ActiveTx) error {
		require.Equal(t, int64(400), r.NodeMinimumStake(tx, 2).Int64())
		return nil
	})
	c.failTx(ErrNotEnoughStake, func(tx *ActiveTx) error {
		return r.NewStakeOnExistingNode(tx, carol, big.NewInt(399), 2)
	})
	c.mustTx(func(tx *ActiveTx) error {
		return r.NewStakeOnExistingNode(tx, carol, big.NewInt(400), 2)
	})
	c.call(func(tx *ActiveTx) error {
		require.Equal(t, int64(200), r.NodeMinimumStake(tx, 2).Int64())
		return nil
	})
	c.mustTx(func(tx *ActiveTx) error {
		return r.ReduceDeposit(tx, carol, big.NewInt(200))
	})
	require.Equal(t, int64(200), c.staker(carol).AmountStaked.Int64())
}

func TestStakeOnExistingNodeMeetsEscalatedRequirement(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup
	c.stake(alice, 100)
	nodeNum := c.createNode(alice, 0, c.honestAssertion(0, 1))
	c.ref.Set(c.node(nodeNum).DeadlineBlock + 40)

	var required int64
	c.call(func(tx *ActiveTx) error {
		require.Equal(t, int64(100), r.NodeMinimumStake(tx, nodeNum).Int64())
		required = r.CurrentRequiredStake(tx).Int64()
		return nil
	})
	require.Equal(t, int64(400), required)

	c.failTx(ErrNotEnoughStake, func(tx *ActiveTx) error {
		return r.NewStakeOnExistingNode(tx, bob, big.NewInt(required-1), nodeNum)
	})
	c.mustTx(func(tx *ActiveTx) error {
		return r.NewStakeOnExistingNode(tx, bob, big.NewInt(required), nodeNum)
	})
	require.Equal(t, required, c.staker(bob).AmountStaked.Int64())
	require.Equal(t, nodeNum, c.staker(bob).LatestStakedNode)
}

func TestStakeLifecycle(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup

	c.failTx(ErrNotEnoughStake, func(tx *ActiveTx) error {
		return r.NewStake(tx, alice, big.NewInt(99))
	})
	c.failTx(ErrInsufficientValue, func(tx *ActiveTx) error {
		return r.NewStake(tx, alice, big.NewInt(10_001))
	})
	c.stake(alice, 100)
	c.failTx(ErrAlreadyStaked, func(tx *ActiveTx) error {
		return r.NewStake(tx, alice, big.NewInt(100))
	})
	evs := c.drainEvents()
	require.Equal(t, []*StakerCreated{{Staker: alice, Index: 0}}, eventsOfType[*StakerCreated](evs))
	changed := eventsOfType[*StakeChanged](evs)
	require.Len(t, changed, 1)
	require.Equal(t, int64(100), changed[0].NewAmount.Int64())

	c.stake(bob, 150)
	c.stake(carol, 200)
	c.call(func(tx *ActiveTx) error {
		require.Equal(t, uint64(3), r.StakerCount(tx))
		require.Equal(t, int64(9_900), r.Balance(tx, alice).Int64())
		require.True(t, r.NodeHasStaker(tx, 0, bob))
		return nil
	})

	c.mustTx(func(tx *ActiveTx) error {
		return r.AddToDeposit(tx, alice, carol, big.NewInt(50))
	})
	require.Equal(t, int64(250), c.staker(carol).AmountStaked.Int64())
	c.failTx(ErrNotStaked, func(tx *ActiveTx) error {
		return r.AddToDeposit(tx, alice, owner, big.NewInt(50))
	})

	// Withdrawing swaps the last staker into the freed slot.
	c.mustTx(func(tx *ActiveTx) error {
		return r.ReturnOldDeposit(tx, carol, alice)
	})
	state := r.Snapshot()
	require.Equal(t, []common.Address{carol, bob}, state.StakerList)
	require.Equal(t, uint64(0), state.Stakers[carol].Index)
	require.Equal(t, uint64(1), state.Stakers[bob].Index)
	require.Equal(t, int64(100), state.WithdrawableFunds[alice].Int64())
	require.Equal(t, uint64(2), state.Nodes[0].StakerCount)
	withdrawn := eventsOfType[*StakerWithdrawn](c.drainEvents())
	require.Len(t, withdrawn, 1)
	require.Equal(t, int64(100), withdrawn[0].Amount.Int64())

	// Staking onto an existing node moves the stake along the path.
	c.createNode(bob, 0, c.honestAssertion(0, 1))
	c.failTx(ErrNotStakedPrev, func(tx *ActiveTx) error {
		return r.StakeOnExistingNode(tx, bob, 1)
	})
	c.mustTx(func(tx *ActiveTx) error {
		return r.StakeOnExistingNode(tx, carol, 1)
	})
	state = r.Snapshot()
	require.Equal(t, uint64(1), state.Stakers[carol].LatestStakedNode)
	require.True(t, state.nodeHasStaker(0, carol))
	require.True(t, state.nodeHasStaker(1, carol))
	require.Equal(t, uint64(2), state.Nodes[1].StakerCount)
	require.Equal(t, uint64(2), state.Nodes[0].ChildStakerCount)
	moved := eventsOfType[*StakerMoved](c.drainEvents())
	require.Equal(t, &StakerMoved{Staker: carol, FromNode: 0, ToNode: 1}, moved[len(moved)-1])

	c.failTx(ErrTooRecent, func(tx *ActiveTx) error {
		return r.ReturnOldDeposit(tx, carol, carol)
	})
}

func TestWithdrawRequiresFunds(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup
	c.failTx(ErrNoFundsToWithdraw, func(tx *ActiveTx) error {
		_, err := r.WithdrawStakerFunds(tx, alice)
		return err
	})
	c.stake(alice, 300)
	c.mustTx(func(tx *ActiveTx) error {
		return r.ReduceStakeTo(tx, alice, big.NewInt(100))
	})
	c.drainEvents()
	c.mustTx(func(tx *ActiveTx) error {
		amount, err := r.WithdrawStakerFunds(tx, alice)
		if err != nil {
			return err
		}
		require.Equal(t, int64(200), amount.Int64())
		return nil
	})
	state := r.Snapshot()
	require.Equal(t, int64(9_900), state.Balances[alice].Int64())
	require.Zero(t, state.TotalWithdrawableFunds.Sign())
	funds := eventsOfType[*FundsWithdrawn](c.drainEvents())
	require.Len(t, funds, 1)
	require.Equal(t, alice, funds[0].Addr)
	require.Equal(t, protocol.EconomicViolation, CategoryOf(ErrNoFundsToWithdraw))
}

func TestChallengedStakeIsFrozen(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup
	setUpDispute(t, c, 1)
	c.openChallenge()

	c.failTx(ErrInChallenge, func(tx *ActiveTx) error {
		return r.AddToDeposit(tx, carol, alice, big.NewInt(1))
	})
	c.failTx(ErrInChallenge, func(tx *ActiveTx) error {
		return r.ReduceStakeTo(tx, alice, big.NewInt(100))
	})
}

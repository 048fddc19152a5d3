// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/blockref"
)

func TestFailedTxLeavesNoTrace(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup
	c.failTx(ErrNotEnoughStake, func(tx *ActiveTx) error {
		// Changes made before the failing check are dropped too.
		r.SetBalance(tx, carol, big.NewInt(1))
		return r.NewStake(tx, alice, big.NewInt(1))
	})
	c.call(func(tx *ActiveTx) error {
		require.Equal(t, int64(10_000), r.Balance(tx, carol).Int64())
		return nil
	})
}

func TestSnapshotIsIndependent(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	c.stake(alice, 100)
	snap := c.rollup.Snapshot()
	snap.Stakers[alice].AmountStaked.SetInt64(1)
	snap.Nodes[0].StakerCount = 42
	require.Equal(t, int64(100), c.staker(alice).AmountStaked.Int64())
	require.Equal(t, uint64(1), c.node(0).StakerCount)
}

func TestCallIsReadOnly(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup
	require.Panics(t, func() {
		_ = r.Call(context.Background(), func(tx *ActiveTx) error {
			r.SetBalance(tx, alice, big.NewInt(1))
			return nil
		})
	})
	require.Panics(t, func() {
		_ = r.Call(context.Background(), func(tx *ActiveTx) error {
			return r.NewStake(tx, alice, big.NewInt(100))
		})
	})

	var leaked *ActiveTx
	c.call(func(tx *ActiveTx) error {
		leaked = tx
		return nil
	})
	require.Panics(t, func() {
		r.Balance(leaked, alice)
	})

	// The lock is released after a panic.
	c.stake(alice, 100)
}

func TestNestedTransactionsAreRejected(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup
	c.mustTx(func(tx *ActiveTx) error {
		err := r.Call(tx.Context(), func(*ActiveTx) error { return nil })
		require.ErrorIs(t, err, ErrReentrantCall)
		err = r.Tx(tx.Context(), func(*ActiveTx) error { return nil })
		require.ErrorIs(t, err, ErrReentrantCall)
		requireCategory(t, err, protocol.StateViolation)
		return nil
	})
	c.call(func(tx *ActiveTx) error {
		err := r.Call(tx.Context(), func(*ActiveTx) error { return nil })
		require.ErrorIs(t, err, ErrReentrantCall)
		return nil
	})
}

func TestVerifierCannotReenter(t *testing.T) {
	var target *Rollup
	reentrant := osp.VerifierFunc(func(
		ctx context.Context, execCtx osp.ExecutionContext, step uint64, before common.Hash, proof []byte,
	) (common.Hash, error) {
		err := target.Tx(ctx, func(tx *ActiveTx) error {
			target.SetBalance(tx, carol, big.NewInt(0))
			return nil
		})
		return common.Hash{}, err
	})
	c := newTestChain(t, chainOpts{messages: 1, verifier: reentrant})
	target = c.rollup
	setUpDispute(t, c, 1)
	index := c.openChallenge()
	chal := c.challenge(index)
	c.failTx(challenge.ErrOneStepProofRejected, func(tx *ActiveTx) error {
		return c.rollup.OneStepProveExecution(tx, alice, index, chal.Selection(0), []byte{1})
	})
	c.call(func(tx *ActiveTx) error {
		require.Equal(t, int64(10_000), c.rollup.Balance(tx, carol).Int64())
		return nil
	})
}

func TestConcurrentTransactionsSerialize(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	r := c.rollup
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			return r.Tx(context.Background(), func(tx *ActiveTx) error {
				r.AddToBalance(tx, owner, big.NewInt(1))
				return nil
			})
		})
		g.Go(func() error {
			return r.Call(context.Background(), func(tx *ActiveTx) error {
				r.Balance(tx, owner)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	c.call(func(tx *ActiveTx) error {
		require.Equal(t, int64(32), r.Balance(tx, owner).Int64())
		return nil
	})
	require.Len(t, eventsOfType[*BalanceSet](c.drainEvents()), 32)
}

func TestTxSamplesBlockOnce(t *testing.T) {
	c := newTestChain(t, chainOpts{messages: 1})
	c.ref.Set(7)
	c.mustTx(func(tx *ActiveTx) error {
		c.ref.Set(9)
		require.Equal(t, uint64(7), tx.Now())
		return nil
	})
}

func TestConfigValidate(t *testing.T) {
	cfg := TestConfig
	require.NoError(t, cfg.Validate())
	params := cfg.Params()
	require.Equal(t, owner, params.Owner)
	require.Equal(t, owner, params.LoserStakeEscrow)
	require.Equal(t, int64(100), params.BaseStake.Int64())
	require.Equal(t, common.HexToHash("0xabc"), params.ModuleRoot)

	for _, mod := range []func(*Config){
		func(c *Config) { c.ConfirmPeriodBlocks = 0 },
		func(c *Config) { c.MaxBisectionDegree = 1 },
		func(c *Config) { c.BaseStake = "lots" },
		func(c *Config) { c.BaseStake = "-1" },
		func(c *Config) { c.Owner = "nobody" },
		func(c *Config) { c.LoserStakeEscrow = "0x12" },
		func(c *Config) { c.Validators = []string{"validator"} },
	} {
		cfg := TestConfig
		mod(&cfg)
		require.Error(t, cfg.Validate())
	}

	cfg = DefaultConfig
	cfg.Validators = []string{alice.Hex()}
	cfg.LoserStakeEscrow = carol.Hex()
	require.NoError(t, cfg.Validate())
	require.Equal(t, carol, cfg.Params().LoserStakeEscrow)
	r, err := NewRollup(&cfg, blockref.BlockReferenceFunc(func() uint64 { return 0 }), emptyInbox{}, osp.NewReferenceVerifier())
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Call(context.Background(), func(tx *ActiveTx) error {
		require.True(t, r.IsValidator(tx, alice))
		require.False(t, r.IsValidator(tx, bob))
		genesis, err := r.Node(tx, 0)
		require.NoError(t, err)
		require.Equal(t, uint64(1), genesis.InboxMaxCount)
		require.Equal(t, StatusConfirmed, genesis.Status)
		require.Equal(t, protocol.ConfirmHash(common.Hash{}, common.Hash{}), genesis.ConfirmData)
		return nil
	}))

	_, err = NewRollup(&cfg, blockref.BlockReferenceFunc(func() uint64 { return 0 }), emptyInbox{}, nil)
	require.Error(t, err)
}

type emptyInbox struct{}

func (emptyInbox) MessageCount() uint64 { return 0 }

func (emptyInbox) Accumulator(index uint64) (common.Hash, error) {
	return common.Hash{}, ErrInboxPastEnd
}

// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/inbox"
	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/util/blockref"
)

var (
	alice = common.BytesToAddress([]byte("alice"))
	bob   = common.BytesToAddress([]byte("bob"))
)

type testSetup struct {
	t      *testing.T
	ctx    context.Context
	rollup *rollup.Rollup
	ref    *blockref.ArtificialBlockReference
}

func newTestSetup(t *testing.T, messages int, maxDegree uint64) *testSetup {
	t.Helper()
	ib := inbox.NewInbox()
	for i := 0; i < messages; i++ {
		ib.Append([]byte(fmt.Sprintf("message %d", i)))
	}
	ref := blockref.NewArtificialBlockReference(1)
	cfg := rollup.TestConfig
	cfg.MaxBisectionDegree = maxDegree
	r, err := rollup.NewRollup(&cfg, ref, ib, osp.NewReferenceVerifier())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	s := &testSetup{t: t, ctx: context.Background(), rollup: r, ref: ref}
	s.tx(func(tx *rollup.ActiveTx) error {
		r.SetBalance(tx, alice, big.NewInt(10_000))
		r.SetBalance(tx, bob, big.NewInt(10_000))
		return nil
	})
	return s
}

func (s *testSetup) tx(clo func(tx *rollup.ActiveTx) error) {
	s.t.Helper()
	require.NoError(s.t, s.rollup.Tx(s.ctx, clo))
}

func (s *testSetup) call(clo func(tx *rollup.ActiveTx) error) {
	s.t.Helper()
	require.NoError(s.t, s.rollup.Call(s.ctx, clo))
}

func (s *testSetup) newStaker(addr common.Address, strategy string) *Staker {
	s.t.Helper()
	cfg := TestConfig
	cfg.Strategy = strategy
	if addr != (common.Address{}) {
		cfg.Address = addr.Hex()
	}
	st, err := NewStaker(s.rollup, ReferenceExecution{}, cfg)
	require.NoError(s.t, err)
	return st
}

func (s *testSetup) node(nodeNum uint64) *rollup.Node {
	s.t.Helper()
	var node *rollup.Node
	s.call(func(tx *rollup.ActiveTx) error {
		var err error
		node, err = s.rollup.Node(tx, nodeNum)
		return err
	})
	return node
}

func (s *testSetup) staker(addr common.Address) *rollup.Staker {
	s.t.Helper()
	var staker *rollup.Staker
	s.call(func(tx *rollup.ActiveTx) error {
		staker, _ = s.rollup.Staker(tx, addr)
		return nil
	})
	return staker
}

// lyingNode stakes addr if needed and creates a child of parentNum whose
// final block hash is wrong.
func (s *testSetup) lyingNode(addr common.Address, parentNum uint64, numBlocks uint64) uint64 {
	s.t.Helper()
	var nodeNum uint64
	s.tx(func(tx *rollup.ActiveTx) error {
		if !s.rollup.IsStaked(tx, addr) {
			if err := s.rollup.NewStake(tx, addr, s.rollup.CurrentRequiredStake(tx)); err != nil {
				return err
			}
		}
		parent, err := s.rollup.Node(tx, parentNum)
		if err != nil {
			return err
		}
		execCtx := osp.ExecutionContext{MaxInboxMessages: parent.InboxMaxCount, ModuleRoot: s.rollup.Params(tx).ModuleRoot}
		before := parent.Assertion.AfterState
		assertion := protocol.Assertion{
			BeforeState: before,
			AfterState:  osp.ReferenceMachine{}.Run(execCtx, before, numBlocks),
			NumBlocks:   numBlocks,
		}
		assertion.AfterState.GlobalState.BlockHash = common.HexToHash("0xbad")
		nodeNum, err = s.rollup.CreateNode(tx, addr, parentNum, assertion, parent.InboxMaxCount)
		return err
	})
	return nodeNum
}

// lyingBackend agrees with the honest trace before step from and claims
// made up hashes after it, ending at the hash of the lying assertion.
type lyingBackend struct {
	honest ChallengeBackend
	from   uint64
	endPos uint64
	end    common.Hash
}

func (b *lyingBackend) GetHashAtStep(ctx context.Context, position uint64) (common.Hash, error) {
	if position < b.from {
		return b.honest.GetHashAtStep(ctx, position)
	}
	if position == b.endPos {
		return b.end, nil
	}
	return common.BytesToHash([]byte(fmt.Sprintf("lie %d", position))), nil
}

func (b *lyingBackend) GetProofAt(ctx context.Context, position uint64) ([]byte, error) {
	return b.honest.GetProofAt(ctx, position)
}

func (s *testSetup) liarManager(addr common.Address, index uint64, from uint64) *ChallengeManager {
	s.t.Helper()
	var chal *challenge.Challenge
	var node *rollup.Node
	s.call(func(tx *rollup.ActiveTx) error {
		var ok bool
		chal, ok = s.rollup.Challenge(tx, index)
		require.True(s.t, ok)
		var err error
		node, err = s.rollup.Node(tx, chal.ChallengerNode)
		return err
	})
	honest, err := NewExecutionChallengeBackend(ReferenceExecution{}, chal.ExecCtx, node.Assertion.BeforeState, 16)
	require.NoError(s.t, err)
	end, err := node.Assertion.AfterState.BlockStateHash()
	require.NoError(s.t, err)
	backend := &lyingBackend{honest: honest, from: from, endPos: node.Assertion.NumBlocks, end: end}
	return NewChallengeManagerWithBackend(s.rollup, addr, index, backend)
}

func (s *testSetup) challengeExists(index uint64) bool {
	s.t.Helper()
	var ok bool
	s.call(func(tx *rollup.ActiveTx) error {
		_, ok = s.rollup.Challenge(tx, index)
		return nil
	})
	return ok
}

// openDispute has the honest staker alice create node 1 over all four
// messages and bob a lying sibling, then lets alice open the challenge.
func openDispute(t *testing.T, s *testSetup) (*Staker, uint64) {
	t.Helper()
	honest := s.newStaker(alice, "makeNodes")
	require.NoError(t, honest.Act(s.ctx))
	node1 := s.node(1)
	require.Equal(t, rollup.StatusPending, node1.Status)
	require.Equal(t, uint64(4), node1.Assertion.NumBlocks)
	require.Equal(t, uint64(1), s.staker(alice).LatestStakedNode)

	s.ref.Add(2)
	require.Equal(t, uint64(2), s.lyingNode(bob, 0, 4))

	require.NoError(t, honest.Act(s.ctx))
	index := s.staker(alice).CurrentChallenge
	require.NotZero(t, index)
	require.Equal(t, index, s.staker(bob).CurrentChallenge)
	return honest, index
}

func TestHonestStakerWinsByOneStepProof(t *testing.T) {
	s := newTestSetup(t, 4, 2)
	honest, index := openDispute(t, s)
	liar := s.liarManager(bob, index, 3)

	myTurn, err := liar.IsMyTurn(s.ctx)
	require.NoError(t, err)
	require.False(t, myTurn)

	// alice bisects [0, 4] into [0, 2, 4]
	require.NoError(t, honest.Act(s.ctx))
	state, err := liar.GetChallengeState(s.ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2, 4}, segmentPositions(state))

	// bob disputes [2, 4] and splits it into [2, 3, 4]
	moved, err := liar.Act(s.ctx)
	require.NoError(t, err)
	require.True(t, moved)
	state, err = liar.GetChallengeState(s.ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 3, 4}, segmentPositions(state))
	require.Equal(t, challenge.PhaseAwaitingOneStepProof, state.challenge.Phase())

	// alice proves step 2
	require.NoError(t, honest.Act(s.ctx))
	require.False(t, s.challengeExists(index))
	aliceInfo := s.staker(alice)
	require.Zero(t, aliceInfo.CurrentChallenge)
	require.Equal(t, int64(150), aliceInfo.AmountStaked.Int64())
	require.Nil(t, s.staker(bob))
	s.call(func(tx *rollup.ActiveTx) error {
		require.Equal(t, uint64(1), s.rollup.ZombieCount(tx))
		return nil
	})

	s.ref.Add(100)
	require.NoError(t, honest.Act(s.ctx))
	s.call(func(tx *rollup.ActiveTx) error {
		require.Equal(t, uint64(1), s.rollup.LatestConfirmed(tx))
		return nil
	})
	require.Equal(t, rollup.StatusRejected, s.node(2).Status)
	require.Equal(t, uint64(1), s.staker(alice).LatestStakedNode)
}

func TestHonestStakerTimesOutSilentOpponent(t *testing.T) {
	s := newTestSetup(t, 4, 2)
	honest, index := openDispute(t, s)

	require.NoError(t, honest.Act(s.ctx))
	require.True(t, s.challengeExists(index))

	s.ref.Add(1000)
	require.NoError(t, honest.Act(s.ctx))
	require.False(t, s.challengeExists(index))
	require.Zero(t, s.staker(alice).CurrentChallenge)

	require.NoError(t, honest.Act(s.ctx))
	s.call(func(tx *rollup.ActiveTx) error {
		require.Equal(t, uint64(1), s.rollup.LatestConfirmed(tx))
		return nil
	})
}

func TestWatchtowerNeverStakes(t *testing.T) {
	s := newTestSetup(t, 2, challenge.DefaultMaxBisectionDegree)
	require.Equal(t, uint64(1), s.lyingNode(bob, 0, 2))

	watchtower := s.newStaker(common.Address{}, "watchtower")
	require.Equal(t, WatchtowerStrategy, watchtower.Strategy())
	for i := 0; i < 3; i++ {
		require.NoError(t, watchtower.Act(s.ctx))
	}
	s.call(func(tx *rollup.ActiveTx) error {
		require.Equal(t, uint64(1), s.rollup.StakerCount(tx))
		require.Equal(t, uint64(1), s.rollup.LatestNodeCreated(tx))
		return nil
	})
}

func TestDefensiveStakerChallengesWrongNode(t *testing.T) {
	s := newTestSetup(t, 2, challenge.DefaultMaxBisectionDegree)
	defensive := s.newStaker(alice, "defensive")

	// Nothing to defend against yet.
	require.NoError(t, defensive.Act(s.ctx))
	require.Nil(t, s.staker(alice))

	s.ref.Add(1)
	require.Equal(t, uint64(1), s.lyingNode(bob, 0, 2))

	// The first round notices the wrong node, the second stakes against it.
	require.NoError(t, defensive.Act(s.ctx))
	require.Nil(t, s.staker(alice))
	require.NoError(t, defensive.Act(s.ctx))

	aliceInfo := s.staker(alice)
	require.NotNil(t, aliceInfo)
	require.Equal(t, uint64(2), aliceInfo.LatestStakedNode)
	require.NotZero(t, aliceInfo.CurrentChallenge)
	require.Equal(t, aliceInfo.CurrentChallenge, s.staker(bob).CurrentChallenge)

	var chal *challenge.Challenge
	s.call(func(tx *rollup.ActiveTx) error {
		var ok bool
		chal, ok = s.rollup.Challenge(tx, aliceInfo.CurrentChallenge)
		require.True(t, ok)
		return nil
	})
	require.Equal(t, uint64(1), chal.AsserterNode)
	require.Equal(t, uint64(2), chal.ChallengerNode)
}

func TestStakerRunsInBackground(t *testing.T) {
	s := newTestSetup(t, 2, challenge.DefaultMaxBisectionDegree)
	st := s.newStaker(alice, "makeNodes")
	st.Start(s.ctx)
	defer st.StopAndWait()

	require.Eventually(t, func() bool {
		return s.rollup.Snapshot().LatestNodeCreated >= 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(1), s.staker(alice).LatestStakedNode)
}

func segmentPositions(state *ChallengeState) []uint64 {
	positions := make([]uint64, len(state.Segments))
	for i, segment := range state.Segments {
		positions[i] = segment.Position
	}
	return positions
}

func TestRetryBackoff(t *testing.T) {
	var b retryBackoff
	var waits []time.Duration
	for i := 0; i < 8; i++ {
		wait, capped := b.next()
		require.Equal(t, wait == time.Minute, capped)
		waits = append(waits, wait)
	}
	require.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, time.Minute, time.Minute,
	}, waits)

	b.reset()
	wait, capped := b.next()
	require.Equal(t, time.Second, wait)
	require.False(t, capped)
}

// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

// CreateChallenge opens a challenge between two stakers on conflicting
// siblings. stakers[0] backs nodeNums[0], the older node, and moves first.
// If the younger node was created after both clocks would already have run
// out, its staker loses on the spot and the returned index is zero.
func (r *Rollup) CreateChallenge(
	tx *ActiveTx,
	sender common.Address,
	stakers [2]common.Address,
	nodeNums [2]uint64,
) (uint64, error) {
	if err := r.requireUserOp(tx, sender); err != nil {
		return 0, err
	}
	s := tx.state
	if nodeNums[0] >= nodeNums[1] {
		return 0, errors.Wrapf(ErrWrongOrder, "%d >= %d", nodeNums[0], nodeNums[1])
	}
	if nodeNums[1] > s.LatestNodeCreated {
		return 0, errors.Wrapf(ErrNotProposed, "node %d", nodeNums[1])
	}
	if nodeNums[0] <= s.LatestConfirmed {
		return 0, errors.Wrapf(ErrAlreadyConfirmed, "node %d", nodeNums[0])
	}
	node1, node2 := s.Nodes[nodeNums[0]], s.Nodes[nodeNums[1]]
	if node1.ParentNum != node2.ParentNum {
		return 0, errors.Wrapf(ErrDiffPrev, "parents %d and %d", node1.ParentNum, node2.ParentNum)
	}
	if !node1.Assertion.Conflicts(&node2.Assertion) {
		return 0, errors.Wrapf(ErrSameAssertion, "nodes %d and %d", nodeNums[0], nodeNums[1])
	}
	staker1, ok := s.Stakers[stakers[0]]
	if !ok || !staker1.IsStaked || !s.nodeHasStaker(nodeNums[0], stakers[0]) {
		return 0, errors.Wrapf(ErrStaker1NotStaked, "%v on node %d", stakers[0], nodeNums[0])
	}
	staker2, ok := s.Stakers[stakers[1]]
	if !ok || !staker2.IsStaked || !s.nodeHasStaker(nodeNums[1], stakers[1]) {
		return 0, errors.Wrapf(ErrStaker2NotStaked, "%v on node %d", stakers[1], nodeNums[1])
	}
	if err := requireUnchallenged(staker1); err != nil {
		return 0, err
	}
	if err := requireUnchallenged(staker2); err != nil {
		return 0, err
	}
	if node1.Status != StatusPending || node2.Status != StatusPending {
		return 0, errors.Wrapf(ErrNodeNotPending, "nodes %d (%v) and %d (%v)", nodeNums[0], node1.Status, nodeNums[1], node2.Status)
	}

	parent := s.Nodes[node1.ParentNum]
	commonEnd := parent.FirstChildBlock + (node1.DeadlineBlock - node1.CreatedAtBlock) + s.Params.ExtraChallengeTimeBlocks
	if commonEnd < node2.CreatedAtBlock {
		log.Info("challenger node created too late", "node", nodeNums[1], "commonEnd", commonEnd, "created", node2.CreatedAtBlock)
		r.completeChallenge(tx, staker1, staker2)
		tx.emit(&ChallengeResolved{Result: challenge.Result{
			AsserterNode:   nodeNums[0],
			ChallengerNode: nodeNums[1],
			Asserter:       stakers[0],
			Challenger:     stakers[1],
			Winner:         stakers[0],
			Loser:          stakers[1],
			Resolution:     challenge.ResolvedByLateChallenger,
		}})
		return 0, nil
	}

	index, err := s.Challenges.CreateChallenge(challenge.CreateParams{
		AsserterNode:       nodeNums[0],
		ChallengerNode:     nodeNums[1],
		Asserter:           stakers[0],
		Challenger:         stakers[1],
		StartState:         node2.Assertion.BeforeState,
		EndState:           node2.Assertion.AfterState,
		NumBlocks:          node2.Assertion.NumBlocks,
		AsserterTimeLeft:   commonEnd - node1.CreatedAtBlock,
		ChallengerTimeLeft: commonEnd - node2.CreatedAtBlock,
		ExecCtx: osp.ExecutionContext{
			MaxInboxMessages: parent.InboxMaxCount,
			ModuleRoot:       s.Params.ModuleRoot,
		},
	}, tx.now)
	if err != nil {
		return 0, err
	}
	staker1.CurrentChallenge = index
	staker2.CurrentChallenge = index
	s.updateChallengeHash(nodeNums[0])
	s.updateChallengeHash(nodeNums[1])

	c, _ := s.Challenges.Challenge(index)
	tx.emit(&ChallengeStarted{
		Index:          index,
		AsserterNode:   nodeNums[0],
		ChallengerNode: nodeNums[1],
		Asserter:       stakers[0],
		Challenger:     stakers[1],
		NumBlocks:      c.SegmentsLength,
		Segments:       c.Segments,
		StateHash:      c.StateHash,
		LastMoveBlock:  c.LastMoveBlock,
		AsserterTime:   c.Current.TimeLeft,
		ChallengerTime: c.Next.TimeLeft,
	})
	return index, nil
}

// BisectExecution submits the sender's next partition of the disputed segment.
func (r *Rollup) BisectExecution(
	tx *ActiveTx,
	sender common.Address,
	index uint64,
	selection challenge.SegmentSelection,
	newSegments []common.Hash,
) error {
	tx.verifyReadWrite()
	if err := r.requireUnpaused(tx); err != nil {
		return err
	}
	bisection, err := tx.state.Challenges.BisectExecution(sender, index, selection, newSegments, tx.now)
	if err != nil {
		return err
	}
	tx.emit(&Bisected{Bisection: *bisection})
	return nil
}

// OneStepProveExecution settles a single-step segment through the verifier.
// A rejected proof leaves the challenge untouched.
func (r *Rollup) OneStepProveExecution(
	tx *ActiveTx,
	sender common.Address,
	index uint64,
	selection challenge.SegmentSelection,
	proof []byte,
) error {
	tx.verifyReadWrite()
	if err := r.requireUnpaused(tx); err != nil {
		return err
	}
	step, _, err := challenge.ExtractChallengeSegment(&selection)
	if err != nil {
		return err
	}
	res, err := tx.state.Challenges.OneStepProveExecution(tx.ctx, sender, index, selection, proof, tx.now)
	if err != nil {
		return err
	}
	tx.emit(&OneStepProven{Index: index, Step: step, Mover: sender})
	return r.applyResult(tx, res)
}

// Timeout ends a challenge whose current responder ran out of time. Anyone
// may call it.
func (r *Rollup) Timeout(tx *ActiveTx, sender common.Address, index uint64) error {
	tx.verifyReadWrite()
	if err := r.requireUnpaused(tx); err != nil {
		return err
	}
	res, err := tx.state.Challenges.Timeout(index, tx.now)
	if err != nil {
		return err
	}
	log.Info("challenge timed out", "challenge", index, "sender", sender, "winner", res.Winner)
	return r.applyResult(tx, res)
}

// applyResult writes the outcome of a finished challenge back into the ledger.
func (r *Rollup) applyResult(tx *ActiveTx, res *challenge.Result) error {
	s := tx.state
	if res.Winner == (common.Address{}) {
		for _, addr := range []common.Address{res.Asserter, res.Challenger} {
			if staker, ok := s.Stakers[addr]; ok && staker.CurrentChallenge == res.Index {
				staker.CurrentChallenge = 0
			}
		}
	} else {
		winner, ok := s.Stakers[res.Winner]
		if !ok {
			return errors.Wrapf(ErrNotStaked, "winner %v", res.Winner)
		}
		loser, ok := s.Stakers[res.Loser]
		if !ok {
			return errors.Wrapf(ErrNotStaked, "loser %v", res.Loser)
		}
		r.completeChallenge(tx, winner, loser)
	}
	s.updateChallengeHash(res.AsserterNode)
	s.updateChallengeHash(res.ChallengerNode)
	tx.emit(&ChallengeResolved{Result: *res})
	return nil
}

// completeChallenge pays out the loser's stake and turns it into a zombie.
// Any excess of the loser's stake over the winner's is refunded first; half
// of the remainder goes to the winner and the rest to the loser stake escrow.
func (r *Rollup) completeChallenge(tx *ActiveTx, winner *Staker, loser *Staker) {
	s := tx.state
	remaining := new(big.Int).Set(loser.AmountStaked)
	if remaining.Cmp(winner.AmountStaked) > 0 {
		refund := arbmath.BigSub(remaining, winner.AmountStaked)
		r.increaseWithdrawable(tx, loser.Address, refund)
		remaining.Set(winner.AmountStaked)
	}
	amountWon := new(big.Int).Div(remaining, big.NewInt(2))
	r.setStake(tx, winner, arbmath.BigAdd(winner.AmountStaked, amountWon))
	remaining.Sub(remaining, amountWon)
	winner.CurrentChallenge = 0
	r.increaseWithdrawable(tx, s.Params.LoserStakeEscrow, remaining)
	r.setStake(tx, loser, common.Big0)
	r.turnIntoZombie(tx, loser)
}

// Challenge returns a copy of an unresolved challenge.
func (r *Rollup) Challenge(tx *ActiveTx, index uint64) (*challenge.Challenge, bool) {
	tx.verifyRead()
	return tx.state.Challenges.Challenge(index)
}

func (r *Rollup) CurrentResponder(tx *ActiveTx, index uint64) (common.Address, error) {
	tx.verifyRead()
	return tx.state.Challenges.CurrentResponder(index)
}

func (r *Rollup) ActiveChallenges(tx *ActiveTx) []uint64 {
	tx.verifyRead()
	return tx.state.Challenges.ActiveChallenges()
}

// MaxBisectionDegree is the number of segments a bisection must use for
// ranges at least that long.
func (r *Rollup) MaxBisectionDegree(tx *ActiveTx) uint64 {
	tx.verifyRead()
	return tx.state.Challenges.MaxDegree()
}

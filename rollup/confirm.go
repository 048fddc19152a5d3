// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/protocol"
)

// confirmNode makes nodeNum the latest confirmed node and rejects every
// pending node that is not below it.
func (r *Rollup) confirmNode(tx *ActiveTx, nodeNum uint64, forced bool) {
	s := tx.state
	node := s.Nodes[nodeNum]
	node.Status = StatusConfirmed
	s.LatestConfirmed = nodeNum
	after := node.Assertion.AfterState.GlobalState
	tx.emit(&NodeConfirmed{NodeNum: nodeNum, BlockHash: after.BlockHash, SendRoot: after.SendRoot, Forced: forced})
	r.pruneConflicting(tx, nodeNum)
	s.advanceFirstUnresolved()
	log.Info("confirmed node", "node", nodeNum, "blockHash", after.BlockHash, "forced", forced)
}

// ConfirmNextNode confirms the first unresolved node once its deadline has
// passed and every live staker on a sibling branch has been eliminated.
func (r *Rollup) ConfirmNextNode(tx *ActiveTx, sender common.Address) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	if !s.hasUnresolved() {
		return errors.Wrap(ErrNoNode, "no unresolved node")
	}
	nodeNum := s.FirstUnresolved
	node := s.Nodes[nodeNum]
	if node.ParentNum != s.LatestConfirmed {
		return errors.Wrapf(ErrInvalidPrev, "node %d has parent %d, latest confirmed %d", nodeNum, node.ParentNum, s.LatestConfirmed)
	}
	if tx.now < node.DeadlineBlock {
		return errors.Wrapf(ErrBeforeDeadline, "node %d deadline %d, now %d", nodeNum, node.DeadlineBlock, tx.now)
	}
	parent := s.Nodes[node.ParentNum]
	if tx.now < parent.NoChildConfirmedBeforeBlock {
		return errors.Wrapf(ErrChildTooRecent, "no child of %d before %d", parent.NodeNum, parent.NoChildConfirmedBeforeBlock)
	}
	if node.ChallengeHash != (common.Hash{}) {
		return errors.Wrapf(ErrInChallenge, "node %d", nodeNum)
	}
	r.removeOldZombies(tx, 0)
	stakedZombies := s.countStakedZombies(nodeNum)
	if node.StakerCount <= stakedZombies {
		return errors.Wrapf(ErrNoStakers, "node %d", nodeNum)
	}
	liveOnChildren := parent.ChildStakerCount - s.countZombiesStakedOnChildren(parent.NodeNum)
	liveOnNode := node.StakerCount - stakedZombies
	if liveOnChildren != liveOnNode {
		return errors.Wrapf(ErrNotAllStaked, "%d live stakers on node %d, %d on siblings", liveOnNode, nodeNum, liveOnChildren-liveOnNode)
	}
	r.confirmNode(tx, nodeNum, false)
	return nil
}

// RejectNextNode rejects the first unresolved node. A node hanging off an
// older confirmed node is rejected outright. A child of the latest confirmed
// node can only be rejected after its deadline, once nobody but zombies backs
// it, and when stakerToRefund proves that a competing branch exists.
func (r *Rollup) RejectNextNode(tx *ActiveTx, sender common.Address, stakerToRefund common.Address) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	if !s.hasUnresolved() {
		return errors.Wrap(ErrNoNode, "no unresolved node")
	}
	nodeNum := s.FirstUnresolved
	node := s.Nodes[nodeNum]
	if node.ParentNum == s.LatestConfirmed {
		staker, ok := s.Stakers[stakerToRefund]
		if !ok || !staker.IsStaked || !s.nodeHasStaker(s.LatestConfirmed, stakerToRefund) {
			return errors.Wrapf(ErrNotStaked, "%v not staked on latest confirmed", stakerToRefund)
		}
		if !s.isUnresolved(staker.LatestStakedNode) {
			return errors.Wrapf(ErrStakerNotUnresolved, "%v staked on %d", stakerToRefund, staker.LatestStakedNode)
		}
		if s.nodeHasStaker(nodeNum, stakerToRefund) {
			return errors.Wrapf(ErrStakedOnTarget, "%v on node %d", stakerToRefund, nodeNum)
		}
		if tx.now < node.DeadlineBlock {
			return errors.Wrapf(ErrBeforeDeadline, "node %d deadline %d, now %d", nodeNum, node.DeadlineBlock, tx.now)
		}
		parent := s.Nodes[node.ParentNum]
		if tx.now < parent.NoChildConfirmedBeforeBlock {
			return errors.Wrapf(ErrChildTooRecent, "no child of %d before %d", parent.NodeNum, parent.NoChildConfirmedBeforeBlock)
		}
		r.removeOldZombies(tx, 0)
		if node.StakerCount != s.countStakedZombies(nodeNum) {
			return errors.Wrapf(ErrHasStakers, "node %d", nodeNum)
		}
	}
	r.rejectNode(tx, nodeNum, false)
	r.pruneDescendants(tx, nodeNum)
	s.advanceFirstUnresolved()
	log.Info("rejected node", "node", nodeNum, "sender", sender)
	return nil
}

// ForceConfirmNode confirms a child of the latest confirmed node without
// deadline or staker checks. Owner only, while paused.
func (r *Rollup) ForceConfirmNode(
	tx *ActiveTx,
	sender common.Address,
	nodeNum uint64,
	blockHash common.Hash,
	sendRoot common.Hash,
) error {
	if err := r.requireAdminOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	node, err := s.requireNode(nodeNum)
	if err != nil {
		return err
	}
	if node.Status != StatusPending {
		return errors.Wrapf(ErrNodeNotPending, "node %d is %v", nodeNum, node.Status)
	}
	if node.ParentNum != s.LatestConfirmed {
		return errors.Wrapf(ErrInvalidPrev, "node %d has parent %d, latest confirmed %d", nodeNum, node.ParentNum, s.LatestConfirmed)
	}
	if node.ConfirmData != protocol.ConfirmHash(blockHash, sendRoot) {
		return errors.Wrapf(ErrConfirmData, "node %d", nodeNum)
	}
	r.confirmNode(tx, nodeNum, true)
	return nil
}

// Node returns a copy of node nodeNum.
func (r *Rollup) Node(tx *ActiveTx, nodeNum uint64) (*Node, error) {
	tx.verifyRead()
	node, err := tx.state.requireNode(nodeNum)
	if err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// Children returns the children of nodeNum in creation order.
func (r *Rollup) Children(tx *ActiveTx, nodeNum uint64) ([]uint64, error) {
	tx.verifyRead()
	if _, err := tx.state.requireNode(nodeNum); err != nil {
		return nil, err
	}
	return tx.state.children(nodeNum), nil
}

func (r *Rollup) LatestConfirmed(tx *ActiveTx) uint64 {
	tx.verifyRead()
	return tx.state.LatestConfirmed
}

func (r *Rollup) FirstUnresolved(tx *ActiveTx) uint64 {
	tx.verifyRead()
	return tx.state.FirstUnresolved
}

func (r *Rollup) LatestNodeCreated(tx *ActiveTx) uint64 {
	tx.verifyRead()
	return tx.state.LatestNodeCreated
}

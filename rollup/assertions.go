// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

// requireLiveStaker returns the active stake of addr. Addresses that lost a
// challenge and have not been cleaned up yet are reported as zombies.
func (s *State) requireLiveStaker(addr common.Address) (*Staker, error) {
	if staker, ok := s.Stakers[addr]; ok && staker.IsStaked {
		return staker, nil
	}
	if s.isZombie(addr) {
		return nil, errors.Wrapf(ErrStakerIsZombie, "%v", addr)
	}
	return nil, errors.Wrapf(ErrNotStaked, "%v", addr)
}

// requireParent checks that a new node may be attached below parentNum.
func (s *State) requireParent(parentNum uint64) (*Node, error) {
	parent, err := s.requireNode(parentNum)
	if err != nil {
		return nil, err
	}
	if parent.Status == StatusRejected {
		return nil, errors.Wrapf(ErrPrevRejected, "node %d", parentNum)
	}
	return parent, nil
}

// checkTransition validates the assertion against its parent: it must
// execute at least one block from the parent's final state and must not
// move backwards through the inbox.
func checkTransition(parent *Node, assertion *protocol.Assertion) error {
	if assertion.NumBlocks == 0 {
		return ErrEmptyAssertion
	}
	before, after := &assertion.BeforeState, &assertion.AfterState
	if before.MachineStatus != protocol.MachineStatusFinished {
		return errors.Wrapf(ErrBadPrevStatus, "before status %v", before.MachineStatus)
	}
	if after.MachineStatus != protocol.MachineStatusFinished && after.MachineStatus != protocol.MachineStatusErrored {
		return errors.Wrapf(ErrBadAfterStatus, "after status %v", after.MachineStatus)
	}
	if *before != parent.Assertion.AfterState {
		return errors.Wrapf(ErrPrevStateHash, "node %d", parent.NodeNum)
	}
	if after.GlobalState.Batch < before.GlobalState.Batch {
		return errors.Wrapf(ErrInboxBackwards, "%d < %d", after.GlobalState.Batch, before.GlobalState.Batch)
	}
	if after.GlobalState.Batch == before.GlobalState.Batch && after.GlobalState.PosInBatch < before.GlobalState.PosInBatch {
		return errors.Wrapf(
			ErrInboxPosInMsgBackwards, "%d < %d", after.GlobalState.PosInBatch, before.GlobalState.PosInBatch,
		)
	}
	return nil
}

// inboxAccumulator checks the assertion reads no further than the inbox and
// returns the accumulator committing to the messages it consumed.
func (r *Rollup) inboxAccumulator(assertion *protocol.Assertion) (common.Hash, uint64, error) {
	required := assertion.AfterState.RequiredBatches()
	available := r.inbox.MessageCount()
	if required > available {
		return common.Hash{}, 0, errors.Wrapf(ErrInboxPastEnd, "requires %d messages, inbox has %d", required, available)
	}
	if required == 0 {
		return common.Hash{}, available, nil
	}
	acc, err := r.inbox.Accumulator(required - 1)
	if err != nil {
		return common.Hash{}, 0, err
	}
	return acc, available, nil
}

// appendNode links a validated node below parent and returns it.
func (r *Rollup) appendNode(
	tx *ActiveTx,
	parent *Node,
	assertion protocol.Assertion,
	inboxAcc common.Hash,
	inboxMaxCount uint64,
) *Node {
	s := tx.state
	now := tx.now
	nodeNum := s.LatestNodeCreated + 1

	deadline := arbmath.MaxInt(arbmath.SaturatingUAdd(now, s.Params.ConfirmPeriodBlocks), parent.DeadlineBlock)
	if parent.ChildCount == 1 {
		first := s.Nodes[parent.FirstChildNum]
		if !first.DeadlineExtended {
			old := first.DeadlineBlock
			first.DeadlineBlock = arbmath.SaturatingUAdd(old, s.Params.ExtraChallengeTimeBlocks)
			first.DeadlineExtended = true
			tx.emit(&NodeDeadlineExtended{NodeNum: first.NodeNum, OldDeadline: old, NewDeadline: first.DeadlineBlock})
		}
	}
	if parent.ChildCount > 0 {
		deadline = arbmath.MaxInt(deadline, s.Nodes[parent.LatestChildNum].DeadlineBlock)
	}

	execHash := assertion.Hash()
	node := &Node{
		NodeNum:        nodeNum,
		NodeHash:       protocol.NodeHash(parent.NodeHash, execHash, inboxAcc),
		ParentNum:      parent.NodeNum,
		Assertion:      assertion,
		InboxAcc:       inboxAcc,
		ConfirmData:    protocol.ConfirmHash(assertion.AfterState.GlobalState.BlockHash, assertion.AfterState.GlobalState.SendRoot),
		DeadlineBlock:  deadline,
		CreatedAtBlock: now,
		InboxMaxCount:  inboxMaxCount,
		RequiredStake:  s.requiredStakeAt(now),
		Status:         StatusPending,
	}
	s.Nodes = append(s.Nodes, node)
	s.LatestNodeCreated = nodeNum

	if parent.FirstChildNum == NoNode {
		parent.FirstChildNum = nodeNum
		parent.FirstChildBlock = now
	} else {
		s.Nodes[parent.LatestChildNum].NextSiblingNum = nodeNum
	}
	parent.LatestChildNum = nodeNum
	parent.ChildCount++
	s.bumpChildConfirmFloor(parent, now)
	return node
}

func (r *Rollup) emitNodeCreated(tx *ActiveTx, node *Node, creator common.Address, forced bool) {
	parent := tx.state.Nodes[node.ParentNum]
	tx.emit(&NodeCreated{
		NodeNum:        node.NodeNum,
		ParentNum:      node.ParentNum,
		NodeHash:       node.NodeHash,
		ParentHash:     parent.NodeHash,
		ExecutionHash:  node.Assertion.Hash(),
		Assertion:      node.Assertion,
		InboxAcc:       node.InboxAcc,
		InboxMaxCount:  node.InboxMaxCount,
		DeadlineBlock:  node.DeadlineBlock,
		CreatedAtBlock: node.CreatedAtBlock,
		RequiredStake:  arbmath.BigCopy(node.RequiredStake),
		Creator:        creator,
		Forced:         forced,
	})
}

// CreateNode creates a child of parentNum carrying the assertion and moves
// the sender's stake onto it.
func (r *Rollup) CreateNode(
	tx *ActiveTx,
	sender common.Address,
	parentNum uint64,
	assertion protocol.Assertion,
	expectedPrevInboxMaxCount uint64,
) (uint64, error) {
	if err := r.requireUserOp(tx, sender); err != nil {
		return 0, err
	}
	s := tx.state
	staker, err := s.requireLiveStaker(sender)
	if err != nil {
		return 0, err
	}
	parent, err := s.requireParent(parentNum)
	if err != nil {
		return 0, err
	}
	if staker.LatestStakedNode != parentNum {
		return 0, errors.Wrapf(ErrNotStakedPrev, "staked on %d, parent %d", staker.LatestStakedNode, parentNum)
	}
	if parent.InboxMaxCount != expectedPrevInboxMaxCount {
		return 0, errors.Wrapf(ErrPrevInboxMaxCount, "expected %d, node has %d", expectedPrevInboxMaxCount, parent.InboxMaxCount)
	}
	if tx.now < parent.CreatedAtBlock || tx.now-parent.CreatedAtBlock < s.Params.MinimumAssertionPeriod {
		return 0, errors.Wrapf(ErrTimeDelta, "parent created at %d, now %d", parent.CreatedAtBlock, tx.now)
	}
	if err := checkTransition(parent, &assertion); err != nil {
		return 0, err
	}
	after := &assertion.AfterState
	if after.MachineStatus != protocol.MachineStatusErrored && after.GlobalState.Batch < parent.InboxMaxCount {
		return 0, errors.Wrapf(ErrTooSmall, "consumed %d of %d messages", after.GlobalState.Batch, parent.InboxMaxCount)
	}
	inboxAcc, inboxMaxCount, err := r.inboxAccumulator(&assertion)
	if err != nil {
		return 0, err
	}
	required := s.requiredStakeAt(tx.now)
	if staker.AmountStaked.Cmp(required) < 0 {
		return 0, errors.Wrapf(ErrNotEnoughStake, "%s < %s", staker.AmountStaked.String(), required.String())
	}

	node := r.appendNode(tx, parent, assertion, inboxAcc, inboxMaxCount)
	r.emitNodeCreated(tx, node, sender, false)
	if err := r.stakeOnNode(tx, staker, node.NodeNum); err != nil {
		return 0, err
	}
	log.Info(
		"created node",
		"node", node.NodeNum,
		"parent", parentNum,
		"staker", sender,
		"blocks", assertion.NumBlocks,
		"deadline", node.DeadlineBlock,
	)
	return node.NodeNum, nil
}

// ForceCreateNode appends a node without a backing stake. Only the owner may
// call it, and only while paused.
func (r *Rollup) ForceCreateNode(
	tx *ActiveTx,
	sender common.Address,
	parentNum uint64,
	assertion protocol.Assertion,
	expectedNodeHash *common.Hash,
) (uint64, error) {
	if err := r.requireAdminOp(tx, sender); err != nil {
		return 0, err
	}
	s := tx.state
	parent, err := s.requireParent(parentNum)
	if err != nil {
		return 0, err
	}
	if err := checkTransition(parent, &assertion); err != nil {
		return 0, err
	}
	inboxAcc, inboxMaxCount, err := r.inboxAccumulator(&assertion)
	if err != nil {
		return 0, err
	}
	if expectedNodeHash != nil {
		nodeHash := protocol.NodeHash(parent.NodeHash, assertion.Hash(), inboxAcc)
		if nodeHash != *expectedNodeHash {
			return 0, errors.Wrapf(ErrUnexpectedNodeHash, "computed %v, expected %v", nodeHash, *expectedNodeHash)
		}
	}
	node := r.appendNode(tx, parent, assertion, inboxAcc, inboxMaxCount)
	r.emitNodeCreated(tx, node, sender, true)
	log.Warn("force created node", "node", node.NodeNum, "parent", parentNum)
	return node.NodeNum, nil
}

// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/util/arbmath"
)

func (s *State) requireNode(nodeNum uint64) (*Node, error) {
	node, ok := s.node(nodeNum)
	if !ok {
		return nil, errors.Wrapf(ErrNoNode, "node %d", nodeNum)
	}
	return node, nil
}

// children walks the sibling list of nodeNum.
func (s *State) children(nodeNum uint64) []uint64 {
	var kids []uint64
	for child := s.Nodes[nodeNum].FirstChildNum; child != NoNode; child = s.Nodes[child].NextSiblingNum {
		kids = append(kids, child)
	}
	return kids
}

// isDescendant reports whether nodeNum is ancestor or lies below it. Parents
// always have lower numbers than their children.
func (s *State) isDescendant(ancestor uint64, nodeNum uint64) bool {
	for nodeNum > ancestor {
		nodeNum = s.Nodes[nodeNum].ParentNum
	}
	return nodeNum == ancestor
}

func (s *State) hasUnresolved() bool {
	return s.FirstUnresolved <= s.LatestNodeCreated
}

// isUnresolved reports whether nodeNum lies in [firstUnresolved, latestNodeCreated].
func (s *State) isUnresolved(nodeNum uint64) bool {
	return nodeNum >= s.FirstUnresolved && nodeNum <= s.LatestNodeCreated
}

// bumpChildConfirmFloor keeps any child of node from being confirmed before
// a full confirm period has passed since the latest child gained a staker.
func (s *State) bumpChildConfirmFloor(node *Node, now uint64) {
	floor := arbmath.SaturatingUAdd(now, s.Params.ConfirmPeriodBlocks)
	if floor > node.NoChildConfirmedBeforeBlock {
		node.NoChildConfirmedBeforeBlock = floor
	}
}

// addStaker records addr as staked on nodeNum.
func (s *State) addStaker(nodeNum uint64, addr common.Address, now uint64) error {
	node, err := s.requireNode(nodeNum)
	if err != nil {
		return err
	}
	if s.nodeHasStaker(nodeNum, addr) {
		return errors.Wrapf(ErrAlreadyStaked, "%v on node %d", addr, nodeNum)
	}
	stakers, ok := s.NodeStakers[nodeNum]
	if !ok {
		stakers = make(map[common.Address]bool)
		s.NodeStakers[nodeNum] = stakers
	}
	stakers[addr] = true
	prevCount := node.StakerCount
	node.StakerCount++
	if node.StakerCount > node.PeakStakerCount {
		node.PeakStakerCount = node.StakerCount
	}
	if nodeNum != 0 {
		parent := s.Nodes[node.ParentNum]
		parent.ChildStakerCount++
		if prevCount == 0 {
			s.bumpChildConfirmFloor(parent, now)
		}
	}
	return nil
}

func (s *State) removeStaker(nodeNum uint64, addr common.Address) error {
	node, err := s.requireNode(nodeNum)
	if err != nil {
		return err
	}
	if !s.nodeHasStaker(nodeNum, addr) {
		return errors.Wrapf(ErrNotStaked, "%v on node %d", addr, nodeNum)
	}
	delete(s.NodeStakers[nodeNum], addr)
	if len(s.NodeStakers[nodeNum]) == 0 {
		delete(s.NodeStakers, nodeNum)
	}
	node.StakerCount--
	if nodeNum != 0 {
		s.Nodes[node.ParentNum].ChildStakerCount--
	}
	return nil
}

// countStakedZombies is the number of zombies still recorded on nodeNum.
func (s *State) countStakedZombies(nodeNum uint64) uint64 {
	var count uint64
	for _, z := range s.Zombies {
		if s.nodeHasStaker(nodeNum, z.StakerAddress) {
			count++
		}
	}
	return count
}

// countZombiesStakedOnChildren counts zombies recorded on nodeNum whose
// latest staked node lies further down, which puts them on a child.
func (s *State) countZombiesStakedOnChildren(nodeNum uint64) uint64 {
	var count uint64
	for _, z := range s.Zombies {
		if z.LatestStakedNode != nodeNum && s.nodeHasStaker(nodeNum, z.StakerAddress) {
			count++
		}
	}
	return count
}

// updateChallengeHash commits to the set of unresolved challenges disputing
// the node. It is zero exactly when there are none.
func (s *State) updateChallengeHash(nodeNum uint64) {
	node, ok := s.node(nodeNum)
	if !ok {
		return
	}
	indices := s.Challenges.NodeChallenges(nodeNum)
	if len(indices) == 0 {
		node.ChallengeHash = common.Hash{}
		return
	}
	data := make([]byte, 0, 8*len(indices))
	for _, idx := range indices {
		data = binary.BigEndian.AppendUint64(data, idx)
	}
	node.ChallengeHash = crypto.Keccak256Hash([]byte("Node challenges:"), data)
}

// advanceFirstUnresolved skips nodes that have already been settled.
func (s *State) advanceFirstUnresolved() {
	for s.hasUnresolved() && s.Nodes[s.FirstUnresolved].Status != StatusPending {
		s.FirstUnresolved++
	}
}

func (r *Rollup) rejectNode(tx *ActiveTx, nodeNum uint64, pruned bool) {
	tx.state.Nodes[nodeNum].Status = StatusRejected
	tx.emit(&NodeRejected{NodeNum: nodeNum, Pruned: pruned})
}

// pruneDescendants rejects every pending node below nodeNum.
func (r *Rollup) pruneDescendants(tx *ActiveTx, nodeNum uint64) {
	s := tx.state
	for n := nodeNum + 1; n <= s.LatestNodeCreated; n++ {
		if s.Nodes[n].Status == StatusPending && s.isDescendant(nodeNum, n) {
			r.rejectNode(tx, n, true)
		}
	}
}

// pruneConflicting rejects every pending node that can no longer become part
// of the confirmed chain once confirmed has been confirmed.
func (r *Rollup) pruneConflicting(tx *ActiveTx, confirmed uint64) {
	s := tx.state
	for n := s.FirstUnresolved; n <= s.LatestNodeCreated; n++ {
		if s.Nodes[n].Status == StatusPending && !s.isDescendant(confirmed, n) {
			r.rejectNode(tx, n, true)
		}
	}
}

// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

type ConfirmType uint8

const (
	CONFIRM_TYPE_NONE ConfirmType = iota
	CONFIRM_TYPE_VALID
	CONFIRM_TYPE_INVALID
)

type ConflictType uint8

const (
	CONFLICT_TYPE_NONE ConflictType = iota
	CONFLICT_TYPE_FOUND
	CONFLICT_TYPE_INDETERMINATE
)

// Validator checks nodes against local execution and drives resolution:
// timing out challenges, confirming correct nodes and rejecting wrong ones.
type Validator struct {
	rollup    *rollup.Rollup
	address   common.Address
	execution Execution
}

func NewValidator(r *rollup.Rollup, address common.Address, execution Execution) *Validator {
	return &Validator{
		rollup:    r,
		address:   address,
		execution: execution,
	}
}

func (v *Validator) Address() common.Address {
	return v.address
}

func (v *Validator) execCtx(tx *rollup.ActiveTx, parent *rollup.Node) osp.ExecutionContext {
	return osp.ExecutionContext{
		MaxInboxMessages: parent.InboxMaxCount,
		ModuleRoot:       v.rollup.Params(tx).ModuleRoot,
	}
}

// checkNode reports whether node's claimed after state matches local execution.
func (v *Validator) checkNode(execCtx osp.ExecutionContext, parent *rollup.Node, node *rollup.Node) (bool, string) {
	after := node.Assertion.AfterState
	if after.MachineStatus != protocol.MachineStatusFinished {
		return false, fmt.Sprintf("machine status %v", after.MachineStatus)
	}
	if after.GlobalState.Batch < parent.InboxMaxCount {
		return false, fmt.Sprintf("consumed %d of %d messages", after.GlobalState.Batch, parent.InboxMaxCount)
	}
	expected := v.execution.Run(execCtx, parent.Assertion.AfterState, node.Assertion.NumBlocks)
	if expected != after {
		return false, fmt.Sprintf("expected %v", expected.GlobalState)
	}
	return true, ""
}

func (v *Validator) timedOutChallenges(ctx context.Context) ([]uint64, error) {
	var timedOut []uint64
	err := v.rollup.Call(ctx, func(tx *rollup.ActiveTx) error {
		for _, index := range v.rollup.ActiveChallenges(tx) {
			chal, ok := v.rollup.Challenge(tx, index)
			if ok && chal.IsTimedOut(tx.Now()) {
				timedOut = append(timedOut, index)
			}
		}
		return nil
	})
	return timedOut, err
}

func (v *Validator) resolveTimedOutChallenges(ctx context.Context) (int, error) {
	challengesToEliminate, err := v.timedOutChallenges(ctx)
	if err != nil {
		return 0, err
	}
	if len(challengesToEliminate) == 0 {
		return 0, nil
	}
	log.Info("timing out challenges", "count", len(challengesToEliminate))
	err = v.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
		for _, index := range challengesToEliminate {
			if err := v.rollup.Timeout(tx, v.address, index); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(challengesToEliminate), nil
}

// CheckDecidableNextNode classifies the first unresolved node. A node only
// counts as decidable once its deadline has passed.
func (v *Validator) CheckDecidableNextNode(ctx context.Context) (ConfirmType, uint64, error) {
	confirmType := CONFIRM_TYPE_NONE
	var nodeNum uint64
	err := v.rollup.Call(ctx, func(tx *rollup.ActiveTx) error {
		nodeNum = v.rollup.FirstUnresolved(tx)
		if nodeNum > v.rollup.LatestNodeCreated(tx) {
			return nil
		}
		node, err := v.rollup.Node(tx, nodeNum)
		if err != nil {
			return err
		}
		if node.ParentNum != v.rollup.LatestConfirmed(tx) {
			confirmType = CONFIRM_TYPE_INVALID
			return nil
		}
		if tx.Now() < node.DeadlineBlock || node.ChallengeHash != (common.Hash{}) {
			return nil
		}
		parent, err := v.rollup.Node(tx, node.ParentNum)
		if err != nil {
			return err
		}
		if correct, _ := v.checkNode(v.execCtx(tx, parent), parent, node); correct {
			confirmType = CONFIRM_TYPE_VALID
		} else {
			confirmType = CONFIRM_TYPE_INVALID
		}
		return nil
	})
	return confirmType, nodeNum, err
}

// isUndecidable reports errors the rollup raises while a node cannot be
// resolved yet, such as stakers still backing a sibling.
func isUndecidable(err error) bool {
	switch rollup.CategoryOf(err) {
	case protocol.PreconditionViolation, protocol.TimingViolation, protocol.StateViolation:
		return true
	default:
		return false
	}
}

func (v *Validator) resolveNextNode(ctx context.Context) (bool, error) {
	confirmType, unresolvedNodeIndex, err := v.CheckDecidableNextNode(ctx)
	if err != nil {
		return false, err
	}
	switch confirmType {
	case CONFIRM_TYPE_INVALID:
		log.Warn("rejecting node", "node", unresolvedNodeIndex)
		err = v.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
			return v.rollup.RejectNextNode(tx, v.address, v.address)
		})
	case CONFIRM_TYPE_VALID:
		log.Info("confirming node", "node", unresolvedNodeIndex)
		err = v.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
			return v.rollup.ConfirmNextNode(tx, v.address)
		})
	default:
		return false, nil
	}
	if isUndecidable(err) {
		log.Debug("next node not resolvable yet", "node", unresolvedNodeIndex, "reason", rollup.ReasonCode(err))
		return false, nil
	}
	return err == nil, err
}

type createNodeAction struct {
	assertion         protocol.Assertion
	parentNum         uint64
	prevInboxMaxCount uint64
}

type existingNodeAction struct {
	number uint64
	hash   common.Hash
}

type nodeAction interface{}

// OurStakerInfo tracks the staker's position while it advances through the tree.
type OurStakerInfo struct {
	LatestStakedNode uint64
	CanProgress      bool
	StakeExists      bool
	*rollup.Staker
}

func (v *Validator) generateNodeAction(
	ctx context.Context,
	stakerInfo *OurStakerInfo,
	strategy StakerStrategy,
	stakerConfig *Config,
) (nodeAction, bool, error) {
	var correctNode nodeAction
	var create *createNodeAction
	wrongNodesExist := false
	err := v.rollup.Call(ctx, func(tx *rollup.ActiveTx) error {
		parent, err := v.rollup.Node(tx, stakerInfo.LatestStakedNode)
		if err != nil {
			return fmt.Errorf("error looking up node %v: %w", stakerInfo.LatestStakedNode, err)
		}
		execCtx := v.execCtx(tx, parent)
		successorNodes, err := v.rollup.Children(tx, parent.NodeNum)
		if err != nil {
			return err
		}
		if len(successorNodes) > 0 {
			log.Debug("examining existing potential successors", "count", len(successorNodes))
		}
		for _, num := range successorNodes {
			nd, err := v.rollup.Node(tx, num)
			if err != nil {
				return err
			}
			if nd.Status == rollup.StatusRejected {
				continue
			}
			if correctNode != nil && wrongNodesExist {
				// We've found everything we could hope to find
				break
			}
			if correctNode != nil {
				if correct, reason := v.checkNode(execCtx, parent, nd); !correct {
					log.Error("found incorrect younger sibling of correct assertion", "node", nd.NodeNum, "reason", reason)
					wrongNodesExist = true
				}
				continue
			}
			correct, reason := v.checkNode(execCtx, parent, nd)
			if !correct {
				wrongNodesExist = true
				log.Error("found incorrect assertion", "node", nd.NodeNum, "reason", reason)
				continue
			}
			log.Info(
				"found correct assertion",
				"node", nd.NodeNum,
				"batch", nd.Assertion.AfterState.GlobalState.Batch,
				"blockHash", nd.Assertion.AfterState.GlobalState.BlockHash,
			)
			correctNode = existingNodeAction{
				number: nd.NodeNum,
				hash:   nd.NodeHash,
			}
		}
		if correctNode != nil || strategy == WatchtowerStrategy {
			return nil
		}

		sinceParent := arbmath.SaturatingUSub(tx.Now(), parent.CreatedAtBlock)
		if sinceParent < v.rollup.Params(tx).MinimumAssertionPeriod {
			// Too soon to assert
			return nil
		}
		if wrongNodesExist || (strategy >= MakeNodesStrategy && sinceParent >= stakerConfig.MakeAssertionBlocks) {
			// There's no correct node; create one.
			create = v.createNewNodeAction(execCtx, parent, wrongNodesExist)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if correctNode != nil {
		return correctNode, wrongNodesExist, nil
	}
	if create != nil {
		return *create, wrongNodesExist, nil
	}
	return nil, wrongNodesExist, nil
}

// createNewNodeAction asserts up to the parent's inbox limit. Without new
// messages it only asserts when a wrong sibling has to be disputed.
func (v *Validator) createNewNodeAction(
	execCtx osp.ExecutionContext,
	parent *rollup.Node,
	wrongNodesExist bool,
) *createNodeAction {
	before := parent.Assertion.AfterState
	pending := arbmath.SaturatingUSub(parent.InboxMaxCount, before.GlobalState.Batch)
	if pending == 0 && !wrongNodesExist {
		return nil
	}
	numBlocks := arbmath.MaxInt(pending, 1)
	assertion := protocol.Assertion{
		BeforeState: before,
		AfterState:  v.execution.Run(execCtx, before, numBlocks),
		NumBlocks:   numBlocks,
	}
	log.Info("creating node", "parentNode", parent.NodeNum, "blocks", numBlocks, "batch", assertion.AfterState.GlobalState.Batch)
	return &createNodeAction{
		assertion:         assertion,
		parentNum:         parent.NodeNum,
		prevInboxMaxCount: parent.InboxMaxCount,
	}
}

// findStakerConflict locates the siblings where the paths of two stakers
// diverge, walking back from their latest staked nodes.
func (v *Validator) findStakerConflict(tx *rollup.ActiveTx, staker1, staker2 common.Address) (ConflictType, uint64, uint64, error) {
	s1, ok1 := v.rollup.Staker(tx, staker1)
	s2, ok2 := v.rollup.Staker(tx, staker2)
	if !ok1 || !ok2 || !s1.IsStaked || !s2.IsStaked {
		return CONFLICT_TYPE_NONE, 0, 0, nil
	}
	latestConfirmed := v.rollup.LatestConfirmed(tx)
	path1, err := v.pathToConfirmed(tx, s1.LatestStakedNode, latestConfirmed)
	if err != nil {
		return CONFLICT_TYPE_NONE, 0, 0, err
	}
	path2, err := v.pathToConfirmed(tx, s2.LatestStakedNode, latestConfirmed)
	if err != nil {
		return CONFLICT_TYPE_NONE, 0, 0, err
	}
	if path1 == nil || path2 == nil {
		return CONFLICT_TYPE_INDETERMINATE, 0, 0, nil
	}
	// Paths run from the latest confirmed node upwards; both start at it.
	for i := 1; i < len(path1) && i < len(path2); i++ {
		if path1[i] != path2[i] {
			return CONFLICT_TYPE_FOUND, path1[i], path2[i], nil
		}
	}
	return CONFLICT_TYPE_NONE, 0, 0, nil
}

// pathToConfirmed returns the node numbers from latestConfirmed to nodeNum,
// or nil if nodeNum does not descend from it.
func (v *Validator) pathToConfirmed(tx *rollup.ActiveTx, nodeNum uint64, latestConfirmed uint64) ([]uint64, error) {
	var path []uint64
	for {
		path = append(path, nodeNum)
		if nodeNum == latestConfirmed {
			break
		}
		if nodeNum < latestConfirmed {
			return nil, nil
		}
		node, err := v.rollup.Node(tx, nodeNum)
		if err != nil {
			return nil, err
		}
		nodeNum = node.ParentNum
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

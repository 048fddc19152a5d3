// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package staker is the automated participant: it watches the assertion
// tree, keeps a stake on the correct branch, opens challenges against
// conflicting stakers and plays them out.
package staker

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/util/arbmath"
	"github.com/offchainlabs/rollupcore/util/stopwaiter"
)

type Staker struct {
	*Validator
	stopwaiter.StopWaiter
	activeChallenge         *ChallengeManager
	strategy                StakerStrategy
	config                  Config
	inactiveLastCheckedNode *uint64
	bringActiveUntilNode    uint64
}

func NewStaker(r *rollup.Rollup, execution Execution, config Config) (*Staker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Staker{
		Validator: NewValidator(r, config.address, execution),
		strategy:  config.strategy,
		config:    config,
	}, nil
}

func (s *Staker) Strategy() StakerStrategy {
	return s.strategy
}

// Start acts every StakerInterval, and immediately whenever the rollup
// commits a transaction.
func (s *Staker) Start(ctxIn context.Context) {
	s.StopWaiter.Start(ctxIn, s)
	sub := s.rollup.Subscribe()
	trigger := make(chan struct{}, 1)
	s.LaunchThread(func(ctx context.Context) {
		defer sub.Unsubscribe()
		for {
			if _, err := sub.Next(ctx); err != nil {
				return
			}
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	})
	var backoff retryBackoff
	err := stopwaiter.CallIterativelyWith(&s.StopWaiterSafe, func(ctx context.Context, _ struct{}) time.Duration {
		err := s.Act(ctx)
		if err == nil {
			backoff.reset()
			return s.config.StakerInterval
		}
		wait, capped := backoff.next()
		if capped {
			log.Error("error acting as staker", "err", err, "retryIn", wait)
		} else {
			log.Warn("error acting as staker", "err", err, "retryIn", wait)
		}
		return wait
	}, trigger)
	if err != nil {
		panic(err)
	}
}

const (
	minRetryBackoff = time.Second
	maxRetryBackoff = time.Minute
)

// retryBackoff spaces out retries after failed actions: 1s, 2s, 4s and so on
// up to a minute. The zero value is ready to use.
type retryBackoff struct {
	wait time.Duration
}

// next returns how long to wait before the next retry and whether the wait
// has reached its cap.
func (b *retryBackoff) next() (time.Duration, bool) {
	if b.wait == 0 {
		b.wait = minRetryBackoff
	}
	wait := b.wait
	b.wait = min(b.wait*2, maxRetryBackoff)
	return wait, wait == maxRetryBackoff
}

func (b *retryBackoff) reset() {
	b.wait = 0
}

func (s *Staker) isRequiredStakeElevated(tx *rollup.ActiveTx) bool {
	return s.rollup.CurrentRequiredStake(tx).Cmp(s.rollup.Params(tx).BaseStake) > 0
}

// areUnresolvedNodesLinear reports whether the pending nodes form a single chain.
func (s *Staker) areUnresolvedNodesLinear(tx *rollup.ActiveTx) (bool, error) {
	prev := s.rollup.LatestConfirmed(tx)
	for num := s.rollup.FirstUnresolved(tx); num <= s.rollup.LatestNodeCreated(tx); num++ {
		node, err := s.rollup.Node(tx, num)
		if err != nil {
			return false, err
		}
		if node.Status != rollup.StatusPending {
			continue
		}
		if node.ParentNum != prev {
			return false, nil
		}
		prev = num
	}
	return true, nil
}

type actSnapshot struct {
	rawInfo               *rollup.Staker
	latestConfirmed       uint64
	requiredStakeElevated bool
	nodesLinear           bool
	withdrawable          *big.Int
}

func (s *Staker) snapshot(ctx context.Context) (*actSnapshot, error) {
	snap := &actSnapshot{}
	err := s.rollup.Call(ctx, func(tx *rollup.ActiveTx) error {
		if staker, ok := s.rollup.Staker(tx, s.address); ok && staker.IsStaked {
			snap.rawInfo = staker
		}
		snap.latestConfirmed = s.rollup.LatestConfirmed(tx)
		snap.requiredStakeElevated = s.isRequiredStakeElevated(tx)
		snap.withdrawable = s.rollup.WithdrawableFunds(tx, s.address)
		var err error
		snap.nodesLinear, err = s.areUnresolvedNodesLinear(tx)
		return err
	})
	return snap, err
}

func (s *Staker) Act(ctx context.Context) error {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	rawInfo := snap.rawInfo
	latestConfirmedNode := snap.latestConfirmed
	info := OurStakerInfo{
		CanProgress:      true,
		LatestStakedNode: latestConfirmedNode,
		StakeExists:      rawInfo != nil,
		Staker:           rawInfo,
	}
	if rawInfo != nil {
		info.LatestStakedNode = rawInfo.LatestStakedNode
	}

	effectiveStrategy := s.strategy
	if !snap.nodesLinear {
		log.Warn("rollup assertion fork detected")
		if effectiveStrategy == DefensiveStrategy {
			effectiveStrategy = StakeLatestStrategy
		}
		s.inactiveLastCheckedNode = nil
	}
	if s.bringActiveUntilNode != 0 {
		if info.LatestStakedNode < s.bringActiveUntilNode {
			if effectiveStrategy == DefensiveStrategy {
				effectiveStrategy = StakeLatestStrategy
			}
		} else {
			log.Info("defensive validator staked past incorrect node; waiting here")
			s.bringActiveUntilNode = 0
		}
		s.inactiveLastCheckedNode = nil
	}
	if effectiveStrategy <= DefensiveStrategy && s.inactiveLastCheckedNode != nil && *s.inactiveLastCheckedNode > latestConfirmedNode {
		info.LatestStakedNode = *s.inactiveLastCheckedNode
	}

	// Resolve nodes if either we're on the make nodes strategy,
	// or we're on the stake latest strategy but don't have a stake
	// (attempt to reduce the current required stake).
	shouldResolveNodes := effectiveStrategy >= MakeNodesStrategy ||
		(effectiveStrategy >= StakeLatestStrategy && rawInfo == nil && snap.requiredStakeElevated)
	resolvingNode := false
	if shouldResolveNodes {
		timedOut, err := s.resolveTimedOutChallenges(ctx)
		if err != nil || timedOut > 0 {
			return err
		}
		resolvingNode, err = s.resolveNextNode(ctx)
		if err != nil {
			return err
		}
		if resolvingNode {
			err = s.rollup.Call(ctx, func(tx *rollup.ActiveTx) error {
				latestConfirmedNode = s.rollup.LatestConfirmed(tx)
				return nil
			})
			if err != nil {
				return err
			}
			if rawInfo == nil && latestConfirmedNode > info.LatestStakedNode {
				// We were planning to enter on the previous latest confirmed
				// node; enter on the newly confirmed one instead.
				info.LatestStakedNode = latestConfirmedNode
			}
		}
	}

	// If we have an old stake, remove it
	if rawInfo != nil && rawInfo.LatestStakedNode <= latestConfirmedNode && rawInfo.CurrentChallenge == 0 {
		stakeIsTooOutdated := rawInfo.LatestStakedNode < latestConfirmedNode
		// We're not trying to stake anyways
		stakeIsUnwanted := effectiveStrategy < StakeLatestStrategy
		if stakeIsTooOutdated || stakeIsUnwanted {
			log.Info("removing old stake and withdrawing funds")
			return s.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
				if err := s.rollup.ReturnOldDeposit(tx, s.address, s.address); err != nil {
					return err
				}
				_, err := s.rollup.WithdrawStakerFunds(tx, s.address)
				return err
			})
		}
	}

	if effectiveStrategy != WatchtowerStrategy && snap.withdrawable.Sign() > 0 {
		err = s.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
			amount, err := s.rollup.WithdrawStakerFunds(tx, s.address)
			if err == nil {
				log.Info("withdrew staker funds", "amount", amount)
			}
			return err
		})
		if err != nil {
			return err
		}
	}

	if rawInfo != nil {
		if err = s.handleConflict(ctx, rawInfo); err != nil {
			return err
		}
	}

	// Don't attempt to create a new stake if we're resolving a node and the stake is elevated,
	// as that might affect the current required stake.
	if rawInfo != nil || !resolvingNode || !snap.requiredStakeElevated {
		for i := 0; info.CanProgress && i < s.config.MaxAdvanceSteps; i++ {
			if err := s.advanceStake(ctx, &info, effectiveStrategy); err != nil {
				return err
			}
		}
	}

	if info.StakeExists && !s.config.DisableChallenge {
		return s.createConflict(ctx)
	}
	return nil
}

func (s *Staker) handleConflict(ctx context.Context, info *rollup.Staker) error {
	if info.CurrentChallenge == 0 {
		s.activeChallenge = nil
		return nil
	}

	if s.activeChallenge == nil || s.activeChallenge.ChallengeIndex() != info.CurrentChallenge {
		log.Warn("entered challenge", "challenge", info.CurrentChallenge)
		newChallengeManager, err := NewChallengeManager(
			ctx,
			s.rollup,
			s.address,
			info.CurrentChallenge,
			s.execution,
			s.config.StateCacheSize,
		)
		if err != nil {
			return err
		}
		s.activeChallenge = newChallengeManager
	}

	_, err := s.activeChallenge.Act(ctx)
	return err
}

// stakeAmount is the configured stake, raised to what the rollup requires.
func (s *Staker) stakeAmount(required *big.Int) *big.Int {
	if s.config.stakeAmount == nil {
		return arbmath.BigCopy(required)
	}
	return arbmath.BigMax(s.config.stakeAmount, required)
}

func (s *Staker) advanceStake(ctx context.Context, info *OurStakerInfo, effectiveStrategy StakerStrategy) error {
	active := effectiveStrategy >= StakeLatestStrategy
	action, wrongNodesExist, err := s.generateNodeAction(ctx, info, effectiveStrategy, &s.config)
	if err != nil {
		return err
	}
	if wrongNodesExist && effectiveStrategy == WatchtowerStrategy {
		log.Error("found incorrect assertion in watchtower mode")
	}
	if action == nil {
		info.CanProgress = false
		return nil
	}

	switch action := action.(type) {
	case createNodeAction:
		if wrongNodesExist && s.config.DisableChallenge {
			log.Error("refusing to challenge assertion as config disables challenges")
			info.CanProgress = false
			return nil
		}
		if !active {
			if wrongNodesExist && effectiveStrategy >= DefensiveStrategy {
				log.Warn("bringing defensive validator online because of incorrect assertion")
				s.bringActiveUntilNode = info.LatestStakedNode + 1
			}
			info.CanProgress = false
			return nil
		}

		// Details are already logged with more details in generateNodeAction
		info.CanProgress = false
		stakeExists := info.StakeExists
		err = s.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
			if !stakeExists {
				// If we have no stake yet, we'll put one down
				amount := s.stakeAmount(s.rollup.CurrentRequiredStake(tx))
				if err := s.rollup.NewStake(tx, s.address, amount); err != nil {
					return err
				}
			}
			nodeNum, err := s.rollup.CreateNode(tx, s.address, action.parentNum, action.assertion, action.prevInboxMaxCount)
			if err != nil {
				return err
			}
			info.LatestStakedNode = nodeNum
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "error creating node")
		}
		info.StakeExists = true
		return nil
	case existingNodeAction:
		info.LatestStakedNode = action.number
		if !active {
			if wrongNodesExist && effectiveStrategy >= DefensiveStrategy {
				log.Warn("bringing defensive validator online because of incorrect assertion")
				s.bringActiveUntilNode = action.number
				info.CanProgress = false
			} else {
				number := action.number
				s.inactiveLastCheckedNode = &number
			}
			return nil
		}
		log.Info("staking on existing node", "node", action.number, "hash", action.hash)
		stakeExists := info.StakeExists
		err = s.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
			// We'll return early if we already have a stake
			if stakeExists {
				return s.rollup.StakeOnExistingNode(tx, s.address, action.number)
			}
			// If we have no stake yet, we'll put one down
			required := arbmath.BigMax(s.rollup.CurrentRequiredStake(tx), s.rollup.NodeMinimumStake(tx, action.number))
			amount := s.stakeAmount(required)
			return s.rollup.NewStakeOnExistingNode(tx, s.address, amount, action.number)
		})
		if err != nil {
			return errors.Wrapf(err, "error staking on node %d", action.number)
		}
		info.StakeExists = true
		return nil
	default:
		panic("invalid action type")
	}
}

type conflictInfo struct {
	staker1 common.Address
	staker2 common.Address
	node1   uint64
	node2   uint64
}

func (s *Staker) findConflict(tx *rollup.ActiveTx) (*conflictInfo, error) {
	ours, ok := s.rollup.Staker(tx, s.address)
	if !ok || ours.CurrentChallenge != 0 {
		return nil, nil
	}
	latestNode := s.rollup.LatestConfirmed(tx)
	count := s.rollup.StakerCount(tx)
	for i := uint64(0); i < count; i++ {
		staker, err := s.rollup.StakerAddress(tx, i)
		if err != nil {
			return nil, err
		}
		if staker == s.address {
			continue
		}
		stakerInfo, ok := s.rollup.Staker(tx, staker)
		if !ok || stakerInfo.CurrentChallenge != 0 {
			continue
		}
		conflictType, node1, node2, err := s.findStakerConflict(tx, s.address, staker)
		if err != nil {
			return nil, err
		}
		if conflictType != CONFLICT_TYPE_FOUND {
			continue
		}
		staker1 := s.address
		staker2 := staker
		if node2 < node1 {
			staker1, staker2 = staker2, staker1
			node1, node2 = node2, node1
		}
		if node1 <= latestNode {
			// Immaterial as this is past the confirmation point; this must be a zombie
			continue
		}
		node1Info, err := s.rollup.Node(tx, node1)
		if err != nil {
			return nil, err
		}
		node2Info, err := s.rollup.Node(tx, node2)
		if err != nil {
			return nil, err
		}
		if node1Info.Status != rollup.StatusPending || node2Info.Status != rollup.StatusPending {
			continue
		}
		if !node1Info.Assertion.Conflicts(&node2Info.Assertion) {
			continue
		}
		return &conflictInfo{staker1: staker1, staker2: staker2, node1: node1, node2: node2}, nil
	}
	// No conflicts exist
	return nil, nil
}

func (s *Staker) createConflict(ctx context.Context) error {
	var conflict *conflictInfo
	err := s.rollup.Call(ctx, func(tx *rollup.ActiveTx) error {
		var err error
		conflict, err = s.findConflict(tx)
		return err
	})
	if err != nil || conflict == nil {
		return err
	}
	otherStaker := conflict.staker2
	if otherStaker == s.address {
		otherStaker = conflict.staker1
	}
	log.Warn("creating challenge", "node1", conflict.node1, "node2", conflict.node2, "otherStaker", otherStaker)
	return s.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
		_, err := s.rollup.CreateChallenge(
			tx,
			s.address,
			[2]common.Address{conflict.staker1, conflict.staker2},
			[2]uint64{conflict.node1, conflict.node2},
		)
		return err
	})
}

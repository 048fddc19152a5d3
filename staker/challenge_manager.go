// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/rollup"
)

var ErrChallengeNotFound = errors.New("challenge not found")

// ChallengeManager plays one side of a single challenge.
type ChallengeManager struct {
	rollup         *rollup.Rollup
	challengeIndex uint64
	actingAs       common.Address
	backend        ChallengeBackend
}

// NewChallengeManager constructs a challenge manager whose honest trace is
// computed with exec from the start state of the disputed assertion.
func NewChallengeManager(
	ctx context.Context,
	r *rollup.Rollup,
	actingAs common.Address,
	challengeIndex uint64,
	exec Execution,
	stateCacheSize int,
) (*ChallengeManager, error) {
	var chal *challenge.Challenge
	var node *rollup.Node
	err := r.Call(ctx, func(tx *rollup.ActiveTx) error {
		var ok bool
		chal, ok = r.Challenge(tx, challengeIndex)
		if !ok {
			return fmt.Errorf("%w: %v", ErrChallengeNotFound, challengeIndex)
		}
		var err error
		node, err = r.Node(tx, chal.ChallengerNode)
		return err
	})
	if err != nil {
		return nil, err
	}
	backend, err := NewExecutionChallengeBackend(exec, chal.ExecCtx, node.Assertion.BeforeState, stateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating execution backend for challenge %v: %w", challengeIndex, err)
	}
	return NewChallengeManagerWithBackend(r, actingAs, challengeIndex, backend), nil
}

func NewChallengeManagerWithBackend(
	r *rollup.Rollup,
	actingAs common.Address,
	challengeIndex uint64,
	backend ChallengeBackend,
) *ChallengeManager {
	return &ChallengeManager{
		rollup:         r,
		challengeIndex: challengeIndex,
		actingAs:       actingAs,
		backend:        backend,
	}
}

type ChallengeSegment struct {
	Hash     common.Hash
	Position uint64
}

type ChallengeState struct {
	Start     uint64
	End       uint64
	Segments  []ChallengeSegment
	MaxDegree uint64

	challenge *challenge.Challenge
}

func (m *ChallengeManager) ChallengeIndex() uint64 {
	return m.challengeIndex
}

func (m *ChallengeManager) IsMyTurn(ctx context.Context) (bool, error) {
	var responder common.Address
	err := m.rollup.Call(ctx, func(tx *rollup.ActiveTx) error {
		if _, ok := m.rollup.Challenge(tx, m.challengeIndex); !ok {
			return fmt.Errorf("%w: %v", ErrChallengeNotFound, m.challengeIndex)
		}
		var err error
		responder, err = m.rollup.CurrentResponder(tx, m.challengeIndex)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("error getting current responder of challenge %v: %w", m.challengeIndex, err)
	}
	return responder == m.actingAs, nil
}

func (m *ChallengeManager) GetChallengeState(ctx context.Context) (*ChallengeState, error) {
	var chal *challenge.Challenge
	var maxDegree uint64
	err := m.rollup.Call(ctx, func(tx *rollup.ActiveTx) error {
		var ok bool
		chal, ok = m.rollup.Challenge(tx, m.challengeIndex)
		if !ok {
			return fmt.Errorf("%w: %v", ErrChallengeNotFound, m.challengeIndex)
		}
		maxDegree = m.rollup.MaxBisectionDegree(tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	positions := chal.SegmentPositions()
	state := &ChallengeState{
		Start:     chal.SegmentsStart,
		End:       chal.SegmentsStart + chal.SegmentsLength,
		Segments:  make([]ChallengeSegment, len(chal.Segments)),
		MaxDegree: maxDegree,
		challenge: chal,
	}
	for i, hash := range chal.Segments {
		state.Segments[i] = ChallengeSegment{Hash: hash, Position: positions[i]}
	}
	return state, nil
}

// ScanChallengeState returns the index of the first segment whose end we disagree with.
func (m *ChallengeManager) ScanChallengeState(ctx context.Context, backend ChallengeBackend, state *ChallengeState) (int, error) {
	for i, segment := range state.Segments {
		ourHash, err := backend.GetHashAtStep(ctx, segment.Position)
		if err != nil {
			return 0, fmt.Errorf("error getting hash from challenge %v backend at step %v: %w", m.challengeIndex, segment.Position, err)
		}
		log.Debug("checking challenge segment", "challenge", m.challengeIndex, "position", segment.Position, "ourHash", ourHash, "segmentHash", segment.Hash)
		if segment.Hash != ourHash {
			if i == 0 {
				return 0, fmt.Errorf(
					"first segment of challenge %v doesn't match: at step count %v challenge has %v but resolved %v",
					m.challengeIndex, segment.Position, segment.Hash, ourHash,
				)
			}
			return i - 1, nil
		}
	}
	return 0, fmt.Errorf("agreed with entire challenge %v (start step count %v and end step count %v)", m.challengeIndex, state.Start, state.End)
}

func (m *ChallengeManager) bisect(ctx context.Context, backend ChallengeBackend, oldState *ChallengeState, startSegment int) error {
	startSegmentPosition := oldState.Segments[startSegment].Position
	endSegmentPosition := oldState.Segments[startSegment+1].Position
	positions := challenge.SegmentPositions(startSegmentPosition, endSegmentPosition-startSegmentPosition, oldState.MaxDegree)
	newSegments := make([]common.Hash, len(positions))
	for i, position := range positions {
		var err error
		newSegments[i], err = backend.GetHashAtStep(ctx, position)
		if err != nil {
			return fmt.Errorf("error getting challenge %v hash at step %v: %w", m.challengeIndex, position, err)
		}
	}
	selection := oldState.challenge.Selection(uint64(startSegment))
	return m.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
		return m.rollup.BisectExecution(tx, m.actingAs, m.challengeIndex, selection, newSegments)
	})
}

func (m *ChallengeManager) IssueOneStepProof(
	ctx context.Context,
	backend ChallengeBackend,
	oldState *ChallengeState,
	startSegment int,
) error {
	position := oldState.Segments[startSegment].Position
	proof, err := backend.GetProofAt(ctx, position)
	if err != nil {
		return fmt.Errorf("error getting OSP from challenge %v backend at step %v: %w", m.challengeIndex, position, err)
	}
	selection := oldState.challenge.Selection(uint64(startSegment))
	return m.rollup.Tx(ctx, func(tx *rollup.ActiveTx) error {
		return m.rollup.OneStepProveExecution(tx, m.actingAs, m.challengeIndex, selection, proof)
	})
}

// Act makes our next move if it is our turn. It returns whether a move was made.
func (m *ChallengeManager) Act(ctx context.Context) (bool, error) {
	myTurn, err := m.IsMyTurn(ctx)
	if err != nil {
		return false, fmt.Errorf("error checking if it's our turn: %w", err)
	}
	if !myTurn {
		return false, nil
	}
	state, err := m.GetChallengeState(ctx)
	if err != nil {
		return false, fmt.Errorf("error getting challenge state: %w", err)
	}
	nextMovePos, err := m.ScanChallengeState(ctx, m.backend, state)
	if err != nil {
		return false, fmt.Errorf("error scanning challenge state: %w", err)
	}
	startPosition := state.Segments[nextMovePos].Position
	endPosition := state.Segments[nextMovePos+1].Position
	if startPosition+1 != endPosition {
		log.Info("bisecting execution", "challenge", m.challengeIndex, "startPosition", startPosition, "endPosition", endPosition)
		return true, m.bisect(ctx, m.backend, state, nextMovePos)
	}
	log.Info("sending onestepproof", "challenge", m.challengeIndex, "startPosition", startPosition, "endPosition", endPosition)
	return true, m.IssueOneStepProof(ctx, m.backend, state, nextMovePos)
}

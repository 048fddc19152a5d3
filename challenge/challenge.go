// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package challenge implements the two-party bisection game over a disputed
// assertion. The manager is a plain state machine without locking; the rollup
// drives it from inside its own transactions and applies the outcome to the
// staking ledger.
package challenge

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/util/fsm"
)

type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseBisecting
	PhaseAwaitingOneStepProof
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseBisecting:
		return "bisecting"
	case PhaseAwaitingOneStepProof:
		return "awaiting one step proof"
	case PhaseResolved:
		return "resolved"
	default:
		return "none"
	}
}

type phaseEvent interface {
	fsm.Stringer
	isPhaseEvent()
}

type bisected struct{}

func (bisected) String() string { return "bisected" }
func (bisected) isPhaseEvent()  {}

type narrowedToOneStep struct{}

func (narrowedToOneStep) String() string { return "narrowed to one step" }
func (narrowedToOneStep) isPhaseEvent()  {}

type resolved struct {
	winner common.Address
}

func (resolved) String() string { return "resolved" }
func (resolved) isPhaseEvent()  {}

func phaseTransitions() []*fsm.FsmEvent[phaseEvent, Phase] {
	return []*fsm.FsmEvent[phaseEvent, Phase]{
		{Typ: bisected{}, From: []Phase{PhaseBisecting}, To: PhaseBisecting},
		{Typ: narrowedToOneStep{}, From: []Phase{PhaseBisecting}, To: PhaseAwaitingOneStepProof},
		{Typ: resolved{}, From: []Phase{PhaseBisecting, PhaseAwaitingOneStepProof}, To: PhaseResolved},
	}
}

func newPhase(start Phase) *fsm.Fsm[phaseEvent, Phase] {
	f, err := fsm.NewFsm(start, phaseTransitions(), fsm.WithTrackedTransitions[phaseEvent, Phase]())
	if err != nil {
		// The transition table is static.
		panic(err)
	}
	return f
}

// Participant is one side of a challenge with its remaining chess clock.
type Participant struct {
	Addr     common.Address
	TimeLeft uint64
}

// Challenge is the stored state of one bisection game. Segments and the range
// they cover are kept alongside the state hash so readers can resolve the
// current commitment without replaying events.
type Challenge struct {
	Index          uint64
	AsserterNode   uint64
	ChallengerNode uint64
	Asserter       common.Address
	Challenger     common.Address

	Current       Participant
	Next          Participant
	LastMoveBlock uint64

	StateHash      common.Hash
	SegmentsStart  uint64
	SegmentsLength uint64
	Segments       []common.Hash

	ExecCtx osp.ExecutionContext
	Rounds  uint64

	phase *fsm.Fsm[phaseEvent, Phase]
}

func (c *Challenge) Phase() Phase {
	return c.phase.Current().State
}

// Winner returns the winner of a resolved challenge.
func (c *Challenge) Winner() (common.Address, bool) {
	curr := c.phase.Current()
	if curr.State != PhaseResolved {
		return common.Address{}, false
	}
	ev, ok := curr.SourceEvent.(resolved)
	if !ok {
		return common.Address{}, false
	}
	return ev.winner, true
}

// Deadline is the block after which the current responder has timed out.
func (c *Challenge) Deadline() uint64 {
	return c.LastMoveBlock + c.Current.TimeLeft
}

// IsTimedOut reports whether the current responder has run out of time at block now.
func (c *Challenge) IsTimedOut(now uint64) bool {
	return now > c.LastMoveBlock && now-c.LastMoveBlock > c.Current.TimeLeft
}

// Selection builds the selection of the segment at position in the current commitment.
func (c *Challenge) Selection(position uint64) SegmentSelection {
	segments := make([]common.Hash, len(c.Segments))
	copy(segments, c.Segments)
	return SegmentSelection{
		OldSegmentsStart:  c.SegmentsStart,
		OldSegmentsLength: c.SegmentsLength,
		OldSegments:       segments,
		ChallengePosition: position,
	}
}

// SegmentPositions returns the step position of every segment in the current commitment.
func (c *Challenge) SegmentPositions() []uint64 {
	degree := uint64(len(c.Segments) - 1)
	positions := make([]uint64, len(c.Segments))
	normalSegmentLength := c.SegmentsLength / degree
	for i := range positions {
		positions[i] = c.SegmentsStart + uint64(i)*normalSegmentLength
	}
	positions[len(positions)-1] = c.SegmentsStart + c.SegmentsLength
	return positions
}

func (c *Challenge) Clone() *Challenge {
	cp := *c
	cp.Segments = make([]common.Hash, len(c.Segments))
	copy(cp.Segments, c.Segments)
	cp.phase = c.phase.Clone()
	return &cp
}

func (c *Challenge) String() string {
	return fmt.Sprintf(
		"Challenge{index=%d, nodes=%d/%d, phase=%v, current=%v, next=%v, range=[%d,%d), rounds=%d}",
		c.Index, c.AsserterNode, c.ChallengerNode, c.Phase(), c.Current.Addr, c.Next.Addr,
		c.SegmentsStart, c.SegmentsStart+c.SegmentsLength, c.Rounds,
	)
}

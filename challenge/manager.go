// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package challenge

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
)

const DefaultMaxBisectionDegree uint64 = 40

var (
	ErrNoChallenge          = protocol.NewReason(protocol.PreconditionViolation, "NO_CHAL")
	ErrEmptyChallenge       = protocol.NewReason(protocol.PreconditionViolation, "EMPTY_CHALLENGE")
	ErrWrongSender          = protocol.NewReason(protocol.PreconditionViolation, "WRONG_SENDER")
	ErrChallengeDeadline    = protocol.NewReason(protocol.TimingViolation, "CHAL_DEADLINE")
	ErrWrongPhase           = protocol.NewReason(protocol.StateViolation, "WRONG_PHASE")
	ErrBisectionState       = protocol.NewReason(protocol.StateViolation, "BIS_STATE")
	ErrBadChallengePosition = protocol.NewReason(protocol.PreconditionViolation, "BAD_CHALLENGE_POS")
	ErrTooShort             = protocol.NewReason(protocol.PreconditionViolation, "TOO_SHORT")
	ErrWrongDegree          = protocol.NewReason(protocol.PreconditionViolation, "WRONG_DEGREE")
	ErrWrongStart           = protocol.NewReason(protocol.StateViolation, "WRONG_START")
	ErrSameEnd              = protocol.NewReason(protocol.StateViolation, "SAME_END")
	ErrTooLong              = protocol.NewReason(protocol.PreconditionViolation, "TOO_LONG")
	ErrOneStepProofRejected = protocol.NewReason(protocol.StateViolation, "OSP_REJECTED")
	ErrSameOneStepEnd       = protocol.NewReason(protocol.StateViolation, "SAME_OSP_END")
	ErrTimeoutDeadline      = protocol.NewReason(protocol.TimingViolation, "TIMEOUT_DEADLINE")
)

// Resolution records how a challenge ended.
type Resolution uint8

const (
	ResolvedByOneStepProof Resolution = iota + 1
	ResolvedByTimeout
	ResolvedByAdmin
	// ResolvedByLateChallenger is used when the challenger's node was created
	// after the common end block and no game is played.
	ResolvedByLateChallenger
)

func (r Resolution) String() string {
	switch r {
	case ResolvedByOneStepProof:
		return "one step proof"
	case ResolvedByTimeout:
		return "timeout"
	case ResolvedByAdmin:
		return "admin"
	case ResolvedByLateChallenger:
		return "late challenger"
	default:
		return fmt.Sprintf("resolution(%d)", uint8(r))
	}
}

// Result is handed back to the rollup when a challenge ends. Winner and Loser
// are both zero when an admin clears a challenge without naming a winner.
type Result struct {
	Index          uint64
	AsserterNode   uint64
	ChallengerNode uint64
	Asserter       common.Address
	Challenger     common.Address
	Winner         common.Address
	Loser          common.Address
	Resolution     Resolution
	Rounds         uint64
}

// Bisection describes a committed bisection move.
type Bisection struct {
	Index           uint64
	Mover           common.Address
	SegmentStart    uint64
	SegmentLength   uint64
	Segments        []common.Hash
	StateHash       common.Hash
	AwaitsOneStep   bool
	NextResponder   common.Address
	ResponderWindow uint64
}

// CreateParams describes a new challenge. The asserter moves first.
type CreateParams struct {
	AsserterNode       uint64
	ChallengerNode     uint64
	Asserter           common.Address
	Challenger         common.Address
	StartState         protocol.ExecutionState
	EndState           protocol.ExecutionState
	NumBlocks          uint64
	AsserterTimeLeft   uint64
	ChallengerTimeLeft uint64
	ExecCtx            osp.ExecutionContext
}

type Manager struct {
	challenges   map[uint64]*Challenge
	totalCreated uint64
	maxDegree    uint64
	verifier     osp.Verifier
}

func NewManager(verifier osp.Verifier, maxDegree uint64) (*Manager, error) {
	if verifier == nil {
		return nil, errors.New("challenge manager requires a one step verifier")
	}
	if maxDegree < 2 {
		return nil, fmt.Errorf("max bisection degree %d must be at least 2", maxDegree)
	}
	return &Manager{
		challenges: make(map[uint64]*Challenge),
		maxDegree:  maxDegree,
		verifier:   verifier,
	}, nil
}

// Clone returns an independent copy sharing only the verifier.
func (m *Manager) Clone() *Manager {
	cp := &Manager{
		challenges:   make(map[uint64]*Challenge, len(m.challenges)),
		totalCreated: m.totalCreated,
		maxDegree:    m.maxDegree,
		verifier:     m.verifier,
	}
	for idx, c := range m.challenges {
		cp.challenges[idx] = c.Clone()
	}
	return cp
}

func (m *Manager) MaxDegree() uint64 {
	return m.maxDegree
}

func (m *Manager) TotalChallengesCreated() uint64 {
	return m.totalCreated
}

// Challenge returns a copy of an active challenge.
func (m *Manager) Challenge(index uint64) (*Challenge, bool) {
	c, ok := m.challenges[index]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// ActiveChallenges returns the indices of all unresolved challenges in ascending order.
func (m *Manager) ActiveChallenges() []uint64 {
	indices := make([]uint64, 0, len(m.challenges))
	for idx := range m.challenges {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// NodeChallenges returns the unresolved challenges disputing nodeNum, in
// ascending order.
func (m *Manager) NodeChallenges(nodeNum uint64) []uint64 {
	var indices []uint64
	for idx, c := range m.challenges {
		if c.AsserterNode == nodeNum || c.ChallengerNode == nodeNum {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

func (m *Manager) CurrentResponder(index uint64) (common.Address, error) {
	c, err := m.get(index)
	if err != nil {
		return common.Address{}, err
	}
	return c.Current.Addr, nil
}

func (m *Manager) IsTimedOut(index uint64, now uint64) (bool, error) {
	c, err := m.get(index)
	if err != nil {
		return false, err
	}
	return c.IsTimedOut(now), nil
}

func (m *Manager) get(index uint64) (*Challenge, error) {
	c, ok := m.challenges[index]
	if !ok {
		return nil, errors.Wrapf(ErrNoChallenge, "challenge %d", index)
	}
	return c, nil
}

// CreateChallenge opens a challenge whose single initial segment spans the
// whole disputed assertion.
func (m *Manager) CreateChallenge(p CreateParams, now uint64) (uint64, error) {
	if p.NumBlocks == 0 {
		return 0, errors.Wrap(ErrEmptyChallenge, "disputed assertion has no blocks")
	}
	startHash, err := p.StartState.BlockStateHash()
	if err != nil {
		return 0, errors.Wrap(err, "start state")
	}
	endHash, err := p.EndState.BlockStateHash()
	if err != nil {
		return 0, errors.Wrap(err, "end state")
	}
	segments := []common.Hash{startHash, endHash}
	start := PhaseBisecting
	if p.NumBlocks == 1 {
		start = PhaseAwaitingOneStepProof
	}
	m.totalCreated++
	c := &Challenge{
		Index:          m.totalCreated,
		AsserterNode:   p.AsserterNode,
		ChallengerNode: p.ChallengerNode,
		Asserter:       p.Asserter,
		Challenger:     p.Challenger,
		Current:        Participant{Addr: p.Asserter, TimeLeft: p.AsserterTimeLeft},
		Next:           Participant{Addr: p.Challenger, TimeLeft: p.ChallengerTimeLeft},
		LastMoveBlock:  now,
		StateHash:      HashChallengeState(0, p.NumBlocks, segments),
		SegmentsStart:  0,
		SegmentsLength: p.NumBlocks,
		Segments:       segments,
		ExecCtx:        p.ExecCtx,
		phase:          newPhase(start),
	}
	m.challenges[c.Index] = c
	log.Info(
		"challenge created",
		"challenge", c.Index,
		"asserter", p.Asserter,
		"challenger", p.Challenger,
		"nodes", fmt.Sprintf("%d/%d", p.AsserterNode, p.ChallengerNode),
		"blocks", p.NumBlocks,
	)
	return c.Index, nil
}

// checkTurn validates a move by sender against the stored commitment.
func (m *Manager) checkTurn(
	sender common.Address,
	index uint64,
	selection *SegmentSelection,
	now uint64,
	phases ...Phase,
) (*Challenge, error) {
	c, err := m.get(index)
	if err != nil {
		return nil, err
	}
	if sender != c.Current.Addr {
		return nil, errors.Wrapf(ErrWrongSender, "challenge %d expects %v, got %v", index, c.Current.Addr, sender)
	}
	if c.IsTimedOut(now) {
		return nil, errors.Wrapf(ErrChallengeDeadline, "challenge %d deadline %d, now %d", index, c.Deadline(), now)
	}
	phase := c.Phase()
	allowed := false
	for _, p := range phases {
		if p == phase {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errors.Wrapf(ErrWrongPhase, "challenge %d is %v", index, phase)
	}
	if selection.Hash() != c.StateHash {
		return nil, errors.Wrapf(ErrBisectionState, "challenge %d", index)
	}
	if _, _, err := ExtractChallengeSegment(selection); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Challenge) completeTurn(now uint64) {
	c.Current.TimeLeft -= now - c.LastMoveBlock
	c.Current, c.Next = c.Next, c.Current
	c.LastMoveBlock = now
	c.Rounds++
}

// BisectExecution replaces the selected segment with a finer partition whose
// first hash agrees with the selected start and whose last hash disputes the
// selected end.
func (m *Manager) BisectExecution(
	sender common.Address,
	index uint64,
	selection SegmentSelection,
	newSegments []common.Hash,
	now uint64,
) (*Bisection, error) {
	c, err := m.checkTurn(sender, index, &selection, now, PhaseBisecting)
	if err != nil {
		return nil, err
	}
	challengeStart, challengeLength, err := ExtractChallengeSegment(&selection)
	if err != nil {
		return nil, err
	}
	if challengeLength <= 1 {
		return nil, errors.Wrapf(ErrTooShort, "segment length %d", challengeLength)
	}
	expectedDegree := BisectionDegree(challengeLength, m.maxDegree)
	if uint64(len(newSegments)) != expectedDegree+1 {
		return nil, errors.Wrapf(ErrWrongDegree, "got %d segments, expected %d", len(newSegments), expectedDegree+1)
	}
	pos := selection.ChallengePosition
	if newSegments[0] != selection.OldSegments[pos] {
		return nil, errors.Wrapf(ErrWrongStart, "segment at step %d", challengeStart)
	}
	if newSegments[len(newSegments)-1] == selection.OldSegments[pos+1] {
		return nil, errors.Wrapf(ErrSameEnd, "segment ending at step %d", challengeStart+challengeLength)
	}

	segments := make([]common.Hash, len(newSegments))
	copy(segments, newSegments)
	c.StateHash = HashChallengeState(challengeStart, challengeLength, segments)
	c.SegmentsStart = challengeStart
	c.SegmentsLength = challengeLength
	c.Segments = segments
	awaitsOneStep := challengeLength == expectedDegree
	if awaitsOneStep {
		err = c.phase.Do(narrowedToOneStep{})
	} else {
		err = c.phase.Do(bisected{})
	}
	if err != nil {
		return nil, err
	}
	c.completeTurn(now)
	log.Debug(
		"challenge bisected",
		"challenge", index,
		"mover", sender,
		"start", challengeStart,
		"length", challengeLength,
		"degree", expectedDegree,
	)
	return &Bisection{
		Index:           index,
		Mover:           sender,
		SegmentStart:    challengeStart,
		SegmentLength:   challengeLength,
		Segments:        segments,
		StateHash:       c.StateHash,
		AwaitsOneStep:   awaitsOneStep,
		NextResponder:   c.Current.Addr,
		ResponderWindow: c.Current.TimeLeft,
	}, nil
}

func (m *Manager) verify(
	ctx context.Context,
	c *Challenge,
	step uint64,
	before common.Hash,
	proof []byte,
) (after common.Hash, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrOneStepProofRejected, "verifier panicked at step %d: %v", step, r)
		}
	}()
	after, err = m.verifier.VerifyOneStep(ctx, c.ExecCtx, step, before, proof)
	if err != nil {
		return common.Hash{}, errors.Wrapf(ErrOneStepProofRejected, "step %d: %v", step, err)
	}
	return after, nil
}

// OneStepProveExecution settles a single-step segment with the verifier. The
// mover wins when the verified after state differs from the committed end.
func (m *Manager) OneStepProveExecution(
	ctx context.Context,
	sender common.Address,
	index uint64,
	selection SegmentSelection,
	proof []byte,
	now uint64,
) (*Result, error) {
	c, err := m.checkTurn(sender, index, &selection, now, PhaseBisecting, PhaseAwaitingOneStepProof)
	if err != nil {
		return nil, err
	}
	challengeStart, challengeLength, err := ExtractChallengeSegment(&selection)
	if err != nil {
		return nil, err
	}
	if challengeLength != 1 {
		return nil, errors.Wrapf(ErrTooLong, "segment length %d", challengeLength)
	}
	pos := selection.ChallengePosition
	after, err := m.verify(ctx, c, challengeStart, selection.OldSegments[pos], proof)
	if err != nil {
		return nil, err
	}
	if after == selection.OldSegments[pos+1] {
		return nil, errors.Wrapf(ErrSameOneStepEnd, "step %d", challengeStart)
	}
	c.Rounds++
	return m.finish(c, sender, ResolvedByOneStepProof)
}

// Timeout ends the challenge in favor of the waiting party once the current
// responder has exhausted its time.
func (m *Manager) Timeout(index uint64, now uint64) (*Result, error) {
	c, err := m.get(index)
	if err != nil {
		return nil, err
	}
	if !c.IsTimedOut(now) {
		return nil, errors.Wrapf(ErrTimeoutDeadline, "challenge %d deadline %d, now %d", index, c.Deadline(), now)
	}
	return m.finish(c, c.Next.Addr, ResolvedByTimeout)
}

// ClearChallenge ends a challenge by fiat. A zero winner releases both parties.
func (m *Manager) ClearChallenge(index uint64, winner common.Address) (*Result, error) {
	c, err := m.get(index)
	if err != nil {
		return nil, err
	}
	if winner != (common.Address{}) && winner != c.Asserter && winner != c.Challenger {
		return nil, errors.Wrapf(ErrWrongSender, "%v is not a party to challenge %d", winner, index)
	}
	return m.finish(c, winner, ResolvedByAdmin)
}

func (m *Manager) finish(c *Challenge, winner common.Address, how Resolution) (*Result, error) {
	if err := c.phase.Do(resolved{winner: winner}); err != nil {
		return nil, err
	}
	res := &Result{
		Index:          c.Index,
		AsserterNode:   c.AsserterNode,
		ChallengerNode: c.ChallengerNode,
		Asserter:       c.Asserter,
		Challenger:     c.Challenger,
		Winner:         winner,
		Resolution:     how,
		Rounds:         c.Rounds,
	}
	switch winner {
	case c.Asserter:
		res.Loser = c.Challenger
	case c.Challenger:
		res.Loser = c.Asserter
	}
	delete(m.challenges, c.Index)
	log.Info("challenge resolved", "challenge", c.Index, "winner", winner, "loser", res.Loser, "by", how, "rounds", c.Rounds)
	return res, nil
}

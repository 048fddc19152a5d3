// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
)

// Execution is the local machine a validator trusts to compute block states
// and the proofs of single steps.
type Execution interface {
	Run(execCtx osp.ExecutionContext, start protocol.ExecutionState, n uint64) protocol.ExecutionState
	ProveStep(execCtx osp.ExecutionContext, state protocol.ExecutionState) ([]byte, error)
}

// ReferenceExecution proves steps of the reference machine.
type ReferenceExecution struct {
	osp.ReferenceMachine
}

var _ Execution = ReferenceExecution{}

func (ReferenceExecution) ProveStep(_ osp.ExecutionContext, state protocol.ExecutionState) ([]byte, error) {
	return osp.ProveStep(state)
}

type ChallengeBackend interface {
	GetHashAtStep(ctx context.Context, position uint64) (common.Hash, error)
	GetProofAt(ctx context.Context, position uint64) ([]byte, error)
}

// Assert that ExecutionChallengeBackend implements ChallengeBackend
var _ ChallengeBackend = (*ExecutionChallengeBackend)(nil)

// ExecutionChallengeBackend answers challenge queries from local execution,
// starting at the state the disputed assertion started from.
type ExecutionChallengeBackend struct {
	exec    Execution
	execCtx osp.ExecutionContext
	start   protocol.ExecutionState
	states  *lru.Cache[uint64, protocol.ExecutionState]
}

func NewExecutionChallengeBackend(
	exec Execution,
	execCtx osp.ExecutionContext,
	start protocol.ExecutionState,
	cacheSize int,
) (*ExecutionChallengeBackend, error) {
	states, err := lru.New[uint64, protocol.ExecutionState](cacheSize)
	if err != nil {
		return nil, err
	}
	return &ExecutionChallengeBackend{
		exec:    exec,
		execCtx: execCtx,
		start:   start,
		states:  states,
	}, nil
}

// stateAt executes up to position, resuming from the closest cached state below it.
func (b *ExecutionChallengeBackend) stateAt(ctx context.Context, position uint64) (protocol.ExecutionState, error) {
	if err := ctx.Err(); err != nil {
		return protocol.ExecutionState{}, err
	}
	if state, ok := b.states.Get(position); ok {
		return state, nil
	}
	from, state := uint64(0), b.start
	for _, cached := range b.states.Keys() {
		if cached < position && cached > from {
			if s, ok := b.states.Peek(cached); ok {
				from, state = cached, s
			}
		}
	}
	state = b.exec.Run(b.execCtx, state, position-from)
	b.states.Add(position, state)
	return state, nil
}

func (b *ExecutionChallengeBackend) GetHashAtStep(ctx context.Context, position uint64) (common.Hash, error) {
	state, err := b.stateAt(ctx, position)
	if err != nil {
		return common.Hash{}, err
	}
	return state.BlockStateHash()
}

func (b *ExecutionChallengeBackend) GetProofAt(ctx context.Context, position uint64) ([]byte, error) {
	state, err := b.stateAt(ctx, position)
	if err != nil {
		return nil, err
	}
	proof, err := b.exec.ProveStep(b.execCtx, state)
	if err != nil {
		return nil, fmt.Errorf("error proving step %v: %w", position, err)
	}
	return proof, nil
}

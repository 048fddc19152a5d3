// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package osp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/protocol"
)

var ErrBadProofVector = errors.New("bad proof vector")

// ProofVector is a recorded single step: given Before and Proof, a verifier
// must reproduce exactly After.
type ProofVector struct {
	Before hexutil.Bytes `json:"before"`
	Proof  hexutil.Bytes `json:"proof"`
	After  hexutil.Bytes `json:"after"`
}

// VectorResult is the outcome of checking one vector. Step is the vector's index.
type VectorResult struct {
	Step     uint64
	Expected common.Hash
	Got      common.Hash
	Err      error
}

func (r *VectorResult) Ok() bool {
	return r.Err == nil && r.Expected == r.Got
}

func LoadProofVectors(path string) ([]ProofVector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading proof vectors from %v: %w", path, err)
	}
	var vectors []ProofVector
	if err := json.Unmarshal(data, &vectors); err != nil {
		return nil, fmt.Errorf("error parsing proof vectors from %v: %w", path, err)
	}
	return vectors, nil
}

func WriteProofVectors(path string, vectors []ProofVector) error {
	data, err := json.MarshalIndent(vectors, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func toHash(field string, data []byte) (common.Hash, error) {
	if len(data) != common.HashLength {
		return common.Hash{}, errors.Wrapf(ErrBadProofVector, "%s has %d bytes, expected %d", field, len(data), common.HashLength)
	}
	return common.BytesToHash(data), nil
}

// CheckProofVectors runs every vector through the verifier, using the vector
// index as the step index. It returns one result per vector, and a non-nil
// error if any vector failed.
func CheckProofVectors(ctx context.Context, verifier Verifier, execCtx ExecutionContext, vectors []ProofVector) ([]VectorResult, error) {
	results := make([]VectorResult, len(vectors))
	failed := 0
	for i, vec := range vectors {
		res := &results[i]
		res.Step = uint64(i)
		before, err := toHash("before", vec.Before)
		if err == nil {
			res.Expected, err = toHash("after", vec.After)
		}
		if err == nil {
			res.Got, err = verifier.VerifyOneStep(ctx, execCtx, res.Step, before, vec.Proof)
		}
		res.Err = err
		if !res.Ok() {
			failed++
			log.Warn("proof vector failed", "step", res.Step, "expected", res.Expected, "got", res.Got, "err", res.Err)
		} else {
			log.Debug("proof vector ok", "step", res.Step, "after", res.Got)
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d proof vectors failed", failed, len(vectors))
	}
	return results, nil
}

// GenerateProofVectors records steps consecutive steps of the reference machine from start.
func GenerateProofVectors(execCtx ExecutionContext, start protocol.ExecutionState, steps uint64) ([]ProofVector, error) {
	var machine ReferenceMachine
	vectors := make([]ProofVector, 0, steps)
	state := start
	for i := uint64(0); i < steps; i++ {
		before, err := state.BlockStateHash()
		if err != nil {
			return nil, err
		}
		proof, err := ProveStep(state)
		if err != nil {
			return nil, err
		}
		state = machine.Step(execCtx, state)
		after, err := state.BlockStateHash()
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, ProofVector{Before: before.Bytes(), Proof: proof, After: after.Bytes()})
	}
	return vectors, nil
}

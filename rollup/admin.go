// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

func (r *Rollup) requireOwner(tx *ActiveTx, sender common.Address) error {
	tx.verifyReadWrite()
	if sender != tx.state.Params.Owner {
		return errors.Wrapf(ErrNotOwner, "%v", sender)
	}
	return nil
}

// requireAdminOp gates the override path: owner only, and only while paused.
func (r *Rollup) requireAdminOp(tx *ActiveTx, sender common.Address) error {
	if err := r.requireOwner(tx, sender); err != nil {
		return err
	}
	if !tx.state.Paused {
		return ErrNotPaused
	}
	return nil
}

func (r *Rollup) Pause(tx *ActiveTx, sender common.Address) error {
	if err := r.requireOwner(tx, sender); err != nil {
		return err
	}
	if tx.state.Paused {
		return ErrPaused
	}
	tx.state.Paused = true
	tx.emit(&Paused{})
	log.Warn("rollup paused", "by", sender)
	return nil
}

func (r *Rollup) Resume(tx *ActiveTx, sender common.Address) error {
	if err := r.requireOwner(tx, sender); err != nil {
		return err
	}
	if !tx.state.Paused {
		return ErrNotPaused
	}
	tx.state.Paused = false
	tx.emit(&Resumed{})
	log.Warn("rollup resumed", "by", sender)
	return nil
}

func (r *Rollup) IsPaused(tx *ActiveTx) bool {
	tx.verifyRead()
	return tx.state.Paused
}

func (r *Rollup) SetValidator(tx *ActiveTx, sender common.Address, validators []common.Address, allowed []bool) error {
	if err := r.requireOwner(tx, sender); err != nil {
		return err
	}
	if len(validators) != len(allowed) {
		return errors.Errorf("%d validators but %d flags", len(validators), len(allowed))
	}
	for i, v := range validators {
		if allowed[i] {
			tx.state.Validators[v] = true
		} else {
			delete(tx.state.Validators, v)
		}
		tx.emit(&ValidatorSet{Validator: v, Allowed: allowed[i]})
	}
	return nil
}

func (r *Rollup) IsValidator(tx *ActiveTx, addr common.Address) bool {
	tx.verifyRead()
	return tx.state.Validators[addr]
}

// setParam applies an owner-only parameter change and publishes the result.
func (r *Rollup) setParam(tx *ActiveTx, sender common.Address, update func(p *Params) error) error {
	if err := r.requireOwner(tx, sender); err != nil {
		return err
	}
	params := tx.state.Params.Clone()
	if err := update(&params); err != nil {
		return err
	}
	tx.state.Params = params
	tx.emit(&ParamsChanged{Params: params.Clone()})
	return nil
}

func (r *Rollup) SetValidatorWhitelistDisabled(tx *ActiveTx, sender common.Address, disabled bool) error {
	return r.setParam(tx, sender, func(p *Params) error {
		p.ValidatorWhitelistDisabled = disabled
		return nil
	})
}

func (r *Rollup) SetOwner(tx *ActiveTx, sender common.Address, owner common.Address) error {
	return r.setParam(tx, sender, func(p *Params) error {
		p.Owner = owner
		return nil
	})
}

func (r *Rollup) SetLoserStakeEscrow(tx *ActiveTx, sender common.Address, escrow common.Address) error {
	return r.setParam(tx, sender, func(p *Params) error {
		p.LoserStakeEscrow = escrow
		return nil
	})
}

func (r *Rollup) SetConfirmPeriodBlocks(tx *ActiveTx, sender common.Address, blocks uint64) error {
	return r.setParam(tx, sender, func(p *Params) error {
		if blocks == 0 {
			return errors.New("confirm period must be positive")
		}
		p.ConfirmPeriodBlocks = blocks
		return nil
	})
}

func (r *Rollup) SetMinimumAssertionPeriod(tx *ActiveTx, sender common.Address, blocks uint64) error {
	return r.setParam(tx, sender, func(p *Params) error {
		p.MinimumAssertionPeriod = blocks
		return nil
	})
}

func (r *Rollup) SetExtraChallengeTimeBlocks(tx *ActiveTx, sender common.Address, blocks uint64) error {
	return r.setParam(tx, sender, func(p *Params) error {
		p.ExtraChallengeTimeBlocks = blocks
		return nil
	})
}

func (r *Rollup) SetBaseStake(tx *ActiveTx, sender common.Address, baseStake *big.Int) error {
	return r.setParam(tx, sender, func(p *Params) error {
		if baseStake.Sign() < 0 {
			return errors.Errorf("negative base stake %v", baseStake)
		}
		p.BaseStake = new(big.Int).Set(baseStake)
		return nil
	})
}

func (r *Rollup) Params(tx *ActiveTx) Params {
	tx.verifyRead()
	return tx.state.Params.Clone()
}

// ChallengeResolution names the two parties of a challenge the owner ends by
// fiat. A zero Winner releases both without payout.
type ChallengeResolution struct {
	Stakers [2]common.Address
	Winner  common.Address
}

// ForceResolveChallenge ends challenges without playing them out.
func (r *Rollup) ForceResolveChallenge(tx *ActiveTx, sender common.Address, resolutions []ChallengeResolution) error {
	if err := r.requireAdminOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	for _, res := range resolutions {
		var index uint64
		for _, addr := range res.Stakers {
			staker, err := s.requireLiveStaker(addr)
			if err != nil {
				return err
			}
			if staker.CurrentChallenge == 0 {
				return errors.Wrapf(ErrNotInChallenge, "%v", addr)
			}
			if index != 0 && staker.CurrentChallenge != index {
				return errors.Wrapf(ErrNotInChallenge, "%v in challenge %d, not %d", addr, staker.CurrentChallenge, index)
			}
			index = staker.CurrentChallenge
		}
		result, err := s.Challenges.ClearChallenge(index, res.Winner)
		if err != nil {
			return err
		}
		if err := r.applyResult(tx, result); err != nil {
			return err
		}
		log.Warn("force resolved challenge", "challenge", index, "winner", res.Winner)
	}
	return nil
}

// ForceRefundStaker returns the full stake of each staker as withdrawable
// funds and turns it into a zombie.
func (r *Rollup) ForceRefundStaker(tx *ActiveTx, sender common.Address, stakers []common.Address) error {
	if err := r.requireAdminOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	for _, addr := range stakers {
		staker, err := s.requireLiveStaker(addr)
		if err != nil {
			return err
		}
		if staker.CurrentChallenge != 0 {
			return errors.Wrapf(ErrStakerInChallenge, "%v in challenge %d", addr, staker.CurrentChallenge)
		}
		r.increaseWithdrawable(tx, addr, staker.AmountStaked)
		r.setStake(tx, staker, common.Big0)
		r.turnIntoZombie(tx, staker)
		log.Warn("force refunded staker", "staker", addr)
	}
	return nil
}

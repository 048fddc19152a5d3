// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"github.com/offchainlabs/rollupcore/protocol"
)

var (
	ErrPaused        = protocol.NewReason(protocol.StateViolation, "Pausable: paused")
	ErrNotPaused     = protocol.NewReason(protocol.StateViolation, "Pausable: not paused")
	ErrNotOwner      = protocol.NewReason(protocol.PreconditionViolation, "NOT_OWNER")
	ErrNotValidator  = protocol.NewReason(protocol.PreconditionViolation, "NOT_VALIDATOR")
	ErrReentrantCall = protocol.NewReason(protocol.StateViolation, "REENTRANT_CALL")

	// node creation
	ErrNoNode                 = protocol.NewReason(protocol.PreconditionViolation, "NO_NODE")
	ErrPrevRejected           = protocol.NewReason(protocol.StateViolation, "PREV_REJECTED")
	ErrNotStakedPrev          = protocol.NewReason(protocol.PreconditionViolation, "NOT_STAKED_PREV")
	ErrPrevInboxMaxCount      = protocol.NewReason(protocol.PreconditionViolation, "PREV_INBOX_MAX_COUNT")
	ErrTimeDelta              = protocol.NewReason(protocol.TimingViolation, "TIME_DELTA")
	ErrEmptyAssertion         = protocol.NewReason(protocol.PreconditionViolation, "EMPTY_ASSERTION")
	ErrBadPrevStatus          = protocol.NewReason(protocol.StateViolation, "BAD_PREV_STATUS")
	ErrBadAfterStatus         = protocol.NewReason(protocol.PreconditionViolation, "BAD_AFTER_STATUS")
	ErrPrevStateHash          = protocol.NewReason(protocol.StateViolation, "PREV_STATE_HASH")
	ErrInboxBackwards         = protocol.NewReason(protocol.PreconditionViolation, "INBOX_BACKWARDS")
	ErrInboxPosInMsgBackwards = protocol.NewReason(protocol.PreconditionViolation, "INBOX_POS_IN_MSG_BACKWARDS")
	ErrTooSmall               = protocol.NewReason(protocol.PreconditionViolation, "TOO_SMALL")
	ErrInboxPastEnd           = protocol.NewReason(protocol.PreconditionViolation, "INBOX_PAST_END")
	ErrUnexpectedNodeHash     = protocol.NewReason(protocol.StateViolation, "UNEXPECTED_NODE_HASH")

	// confirmation and rejection
	ErrInvalidPrev         = protocol.NewReason(protocol.StateViolation, "INVALID_PREV")
	ErrBeforeDeadline      = protocol.NewReason(protocol.TimingViolation, "BEFORE_DEADLINE")
	ErrChildTooRecent      = protocol.NewReason(protocol.TimingViolation, "CHILD_TOO_RECENT")
	ErrNoStakers           = protocol.NewReason(protocol.StateViolation, "NO_STAKERS")
	ErrNotAllStaked        = protocol.NewReason(protocol.StateViolation, "NOT_ALL_STAKED")
	ErrStakerNotUnresolved = protocol.NewReason(protocol.PreconditionViolation, "STAKER_NOT_UNRESOLVED")
	ErrStakedOnTarget      = protocol.NewReason(protocol.PreconditionViolation, "STAKED_ON_TARGET")
	ErrHasStakers          = protocol.NewReason(protocol.StateViolation, "HAS_STAKERS")
	ErrConfirmData         = protocol.NewReason(protocol.PreconditionViolation, "CONFIRM_DATA")

	// staking
	ErrNotStaked         = protocol.NewReason(protocol.PreconditionViolation, "NOT_STAKED")
	ErrAlreadyStaked     = protocol.NewReason(protocol.PreconditionViolation, "ALREADY_STAKED")
	ErrStakerIsZombie    = protocol.NewReason(protocol.StateViolation, "STAKER_IS_ZOMBIE")
	ErrNotEnoughStake    = protocol.NewReason(protocol.EconomicViolation, "NOT_ENOUGH_STAKE")
	ErrTooLittleStake    = protocol.NewReason(protocol.EconomicViolation, "TOO_LITTLE_STAKE")
	ErrInsufficientValue = protocol.NewReason(protocol.EconomicViolation, "INSUFFICIENT_VALUE")
	ErrNodeNumOutOfRange = protocol.NewReason(protocol.PreconditionViolation, "NODE_NUM_OUT_OF_RANGE")
	ErrInChallenge       = protocol.NewReason(protocol.PreconditionViolation, "IN_CHAL")
	ErrTooRecent         = protocol.NewReason(protocol.TimingViolation, "TOO_RECENT")
	ErrNoFundsToWithdraw = protocol.NewReason(protocol.EconomicViolation, "NO_FUNDS_TO_WITHDRAW")
	ErrNoSuchZombie      = protocol.NewReason(protocol.PreconditionViolation, "NO_SUCH_ZOMBIE")
	ErrStakerInChallenge = protocol.NewReason(protocol.PreconditionViolation, "STAKER_IN_CHALL")
	ErrNotInChallenge    = protocol.NewReason(protocol.PreconditionViolation, "NOT_IN_CHALL")

	// challenge creation
	ErrWrongOrder       = protocol.NewReason(protocol.PreconditionViolation, "WRONG_ORDER")
	ErrNotProposed      = protocol.NewReason(protocol.PreconditionViolation, "NOT_PROPOSED")
	ErrAlreadyConfirmed = protocol.NewReason(protocol.StateViolation, "ALREADY_CONFIRMED")
	ErrDiffPrev         = protocol.NewReason(protocol.PreconditionViolation, "DIFF_PREV")
	ErrSameAssertion    = protocol.NewReason(protocol.StateViolation, "SAME_ASSERTION")
	ErrStaker1NotStaked = protocol.NewReason(protocol.PreconditionViolation, "STAKER1_NOT_STAKED")
	ErrStaker2NotStaked = protocol.NewReason(protocol.PreconditionViolation, "STAKER2_NOT_STAKED")
	ErrNodeNotPending   = protocol.NewReason(protocol.StateViolation, "NODE_NOT_PENDING")
)

// CategoryOf returns the failure category of an error returned by a rollup
// operation, or 0 for errors that carry no reason.
func CategoryOf(err error) protocol.Category {
	return protocol.CategoryOf(err)
}

// ReasonCode returns the stable reason code of err, or the empty string.
func ReasonCode(err error) string {
	if r, ok := protocol.ReasonOf(err); ok {
		return r.Code
	}
	return ""
}

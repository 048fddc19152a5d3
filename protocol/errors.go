// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category classifies why an operation failed. Every failure carries exactly one.
type Category uint8

const (
	PreconditionViolation Category = iota + 1
	EconomicViolation
	TimingViolation
	StateViolation
)

func (c Category) String() string {
	switch c {
	case PreconditionViolation:
		return "precondition violation"
	case EconomicViolation:
		return "economic violation"
	case TimingViolation:
		return "timing violation"
	case StateViolation:
		return "state violation"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Reason is a failure with a stable, machine-checkable code. Reasons are
// declared once as package level sentinels, compared with errors.Is and
// wrapped with errors.Wrapf for context.
type Reason struct {
	Code     string
	Category Category
}

func NewReason(category Category, code string) *Reason {
	return &Reason{Code: code, Category: category}
}

func (r *Reason) Error() string {
	return r.Code
}

// ReasonOf extracts the reason of a failed operation, if any.
func ReasonOf(err error) (*Reason, bool) {
	var r *Reason
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// CategoryOf returns the failure category of err, or 0 if it has none.
func CategoryOf(err error) Category {
	if r, ok := ReasonOf(err); ok {
		return r.Category
	}
	return 0
}

// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package arbmath holds the integer helpers shared by stake accounting and
// the block clock. Big integer helpers never alias their arguments.
package arbmath

import (
	"cmp"
	"math"
	"math/big"
)

func MaxInt[T cmp.Ordered](a, b T) T {
	if a < b {
		return b
	}
	return a
}

// SaturatingUAdd returns a+b, clamped at the maximum uint64.
func SaturatingUAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// SaturatingUSub returns a-b, clamped at zero.
func SaturatingUSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func UintToBig(value uint64) *big.Int {
	return new(big.Int).SetUint64(value)
}

// BigCopy returns a fresh copy of value; nil copies to zero.
func BigCopy(value *big.Int) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(value)
}

func BigAdd(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

func BigSub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// BigMax returns a copy of the larger of a and b.
func BigMax(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return BigCopy(a)
	}
	return BigCopy(b)
}

// BigDivCeilByUint divides by a positive divisor, rounding up.
func BigDivCeilByUint(value *big.Int, divisor uint64) *big.Int {
	d := UintToBig(divisor)
	quotient, remainder := new(big.Int).QuoRem(value, d, new(big.Int))
	if remainder.Sign() > 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}

// internal/math/fixedpoint.go
package math

import (
	"github.com/holiman/uint256"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int    // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

var (
	// Prices are carried as price * 1e6 ("price1e6") everywhere in the engine.
	PriceConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

// MaxU64 is the largest amount a native coin can hold.
const MaxU64 = ^uint64(0)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

var bpsDenominator = uint256.NewInt(BpsDenominator)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// Notional returns quantity * price1e6 in a 256-bit domain. It cannot overflow.
func Notional(quantity, price1e6 uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(quantity), uint256.NewInt(price1e6))
}

// ApplyBps returns amount * bps / 10000 rounded down. The intermediate product
// stays in 256 bits so any u128 notional times any u64 bps is exact.
func ApplyBps(amount *uint256.Int, bps uint64) *uint256.Int {
	r := new(uint256.Int).Mul(amount, uint256.NewInt(bps))
	return r.Div(r, bpsDenominator)
}

// ClampU64 saturates v to MaxU64. The second result reports whether clamping happened.
func ClampU64(v *uint256.Int) (uint64, bool) {
	if v.IsUint64() {
		return v.Uint64(), false
	}
	return MaxU64, true
}

// BpsOf returns amount * bps / 10000 for a native amount, saturating at MaxU64.
func BpsOf(amount, bps uint64) uint64 {
	v, _ := ClampU64(ApplyBps(uint256.NewInt(amount), bps))
	return v
}

// SaturatingAdd returns a + b, or MaxU64 when the sum would wrap.
func SaturatingAdd(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return MaxU64
}

// SaturatingSub returns a - b, or 0 when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// CeilDiv returns ceil(num / den). den must be non-zero.
func CeilDiv(num, den uint64) uint64 {
	q := num / den
	if num%den != 0 {
		q++
	}
	return q
}

// DivRound divides numerator by denominator with the given rounding mode.
// The result is clamped to MaxU64.
func DivRound(numerator, denominator *uint256.Int, mode RoundingMode) uint64 {
	quotient, remainder := new(uint256.Int), new(uint256.Int)
	quotient.DivMod(numerator, denominator, remainder)

	if !remainder.IsZero() {
		switch mode {
		case RoundUp:
			quotient.AddUint64(quotient, 1)
		case RoundHalfEven:
			// compare 2*remainder against denominator
			twice := new(uint256.Int).Lsh(remainder, 1)
			cmp := twice.Cmp(denominator)
			if cmp > 0 || (cmp == 0 && quotient.Uint64()%2 == 1) {
				quotient.AddUint64(quotient, 1)
			}
		}
	}

	v, _ := ClampU64(quotient)
	return v
}

// ComputeAvgEntryPrice calculates the weighted average entry price after
// adding fillQty at fillPrice to an existing oldSize at oldAvgEntry.
func ComputeAvgEntryPrice(oldSize, oldAvgEntry, fillQty, fillPrice uint64) uint64 {
	if oldSize == 0 {
		return fillPrice
	}

	numerator := Notional(oldSize, oldAvgEntry)
	numerator.Add(numerator, Notional(fillQty, fillPrice))

	denominator := new(uint256.Int).AddUint64(uint256.NewInt(oldSize), fillQty)

	return DivRound(numerator, denominator, RoundHalfEven)
}

// PnL is a signed collateral amount. Loss is true when Amount is owed by the holder.
type PnL struct {
	Loss   bool
	Amount uint64
}

// ComputePnL calculates PnL for qty contracts moving from entryPrice to exitPrice.
// Magnitudes beyond MaxU64 saturate.
func ComputePnL(isLong bool, entryPrice, exitPrice, qty uint64) PnL {
	var diff uint64
	var gain bool
	if exitPrice >= entryPrice {
		diff = exitPrice - entryPrice
		gain = isLong
	} else {
		diff = entryPrice - exitPrice
		gain = !isLong
	}

	amount, _ := ClampU64(Notional(diff, qty))
	if amount == 0 {
		return PnL{}
	}
	return PnL{Loss: !gain, Amount: amount}
}

// ApplyPnL settles p against base. It returns the resulting value and the
// shortfall when a loss exceeds base.
func ApplyPnL(base uint64, p PnL) (value uint64, shortfall uint64) {
	if !p.Loss {
		return SaturatingAdd(base, p.Amount), 0
	}
	if p.Amount > base {
		return 0, p.Amount - base
	}
	return base - p.Amount, 0
}

package math_test

import (
	"testing"

	fpmath "UnxvFutures/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFeeBreakdown_MakerWithDiscount(t *testing.T) {
	b := fpmath.ComputeFeeBreakdown(fpmath.FeeInputs{
		Quantity:              10,
		Price1e6:              1_000_000,
		TakerBps:              100,
		IsMaker:               true,
		MakerRebateBps:        5000,
		DiscountBps:           5000,
		DiscountTokenPrice1e6: 1_000_000,
	})

	assert.Equal(t, uint64(100_000), b.Fee)
	assert.Equal(t, uint64(50_000), b.MakerRebate)
	assert.Equal(t, uint64(50_000), b.FeeAfterRebate)
	assert.Equal(t, uint64(25_000), b.DiscountCollateral)
	assert.Equal(t, uint64(1), b.DiscountTokenUnits)
	assert.Equal(t, uint64(25_000), b.CollateralFeeFinal)
	assert.Equal(t, uint64(25_000), b.TreasuryShare)
	assert.Zero(t, b.BotShare)
	assert.False(t, b.FeeClamped)
}

func TestComputeFeeBreakdown_DecompositionExact(t *testing.T) {
	cases := []fpmath.FeeInputs{
		{Quantity: 7, Price1e6: 1_234_567, TakerBps: 37, IsMaker: true, MakerRebateBps: 3333, DiscountBps: 1999, DiscountTokenPrice1e6: 77, BotSplitBps: 2500},
		{Quantity: 1, Price1e6: 1, TakerBps: 10_000, BotSplitBps: 10_000},
		{Quantity: 999_999, Price1e6: 42_000_000_000, TakerBps: 5, DiscountBps: 10_000, DiscountTokenPrice1e6: 3},
		{Quantity: fpmath.MaxU64, Price1e6: fpmath.MaxU64, TakerBps: 1, IsMaker: true, MakerRebateBps: 9999, BotSplitBps: 1},
	}

	for _, in := range cases {
		b := fpmath.ComputeFeeBreakdown(in)
		assert.Equal(t, b.Fee, b.TreasuryShare+b.BotShare+b.MakerRebate+b.DiscountCollateral, "inputs %+v", in)
		if in.DiscountTokenPrice1e6 > 0 {
			assert.Equal(t, fpmath.CeilDiv(b.DiscountCollateral, in.DiscountTokenPrice1e6), b.DiscountTokenUnits)
		}
	}
}

func TestComputeFee_ClampsToNativeMax(t *testing.T) {
	fee, clamped := fpmath.ComputeFee(fpmath.MaxU64, 2, 10_000)
	require.True(t, clamped)
	assert.Equal(t, fpmath.MaxU64, fee)

	// Same overflowing notional split differently must clamp identically.
	fee2, clamped2 := fpmath.ComputeFee(2, fpmath.MaxU64, 10_000)
	require.True(t, clamped2)
	assert.Equal(t, fee, fee2)

	fee3, _ := fpmath.ComputeFee(1<<40, 1<<40, 10_000)
	assert.Equal(t, fpmath.MaxU64, fee3)
}

func TestComputeFee_NoClampAtBoundary(t *testing.T) {
	fee, clamped := fpmath.ComputeFee(fpmath.MaxU64, 1, 10_000)
	assert.False(t, clamped)
	assert.Equal(t, fpmath.MaxU64, fee)
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, uint64(1), fpmath.CeilDiv(50_000, 1_000_000))
	assert.Equal(t, uint64(1), fpmath.CeilDiv(1_000_000, 1_000_000))
	assert.Equal(t, uint64(2), fpmath.CeilDiv(1_000_001, 1_000_000))
	assert.Equal(t, uint64(0), fpmath.CeilDiv(0, 7))
}

func TestSaturatingArithmetic(t *testing.T) {
	assert.Equal(t, fpmath.MaxU64, fpmath.SaturatingAdd(fpmath.MaxU64-1, 5))
	assert.Equal(t, uint64(7), fpmath.SaturatingAdd(3, 4))
	assert.Equal(t, uint64(0), fpmath.SaturatingSub(3, 4))
}

func TestComputeAvgEntryPrice(t *testing.T) {
	assert.Equal(t, uint64(100), fpmath.ComputeAvgEntryPrice(0, 0, 5, 100))
	assert.Equal(t, uint64(150), fpmath.ComputeAvgEntryPrice(1, 100, 1, 200))
	// (1*100 + 2*101) / 3 = 100.67 -> 101
	assert.Equal(t, uint64(101), fpmath.ComputeAvgEntryPrice(1, 100, 2, 101))
	// 2.5 rounds to even
	assert.Equal(t, uint64(2), fpmath.ComputeAvgEntryPrice(1, 2, 1, 3))
}

func TestComputePnL(t *testing.T) {
	assert.Equal(t, fpmath.PnL{Amount: 50}, fpmath.ComputePnL(true, 100, 110, 5))
	assert.Equal(t, fpmath.PnL{Loss: true, Amount: 50}, fpmath.ComputePnL(false, 100, 110, 5))
	assert.Equal(t, fpmath.PnL{Amount: 50}, fpmath.ComputePnL(false, 110, 100, 5))
	assert.Equal(t, fpmath.PnL{}, fpmath.ComputePnL(true, 100, 100, 5))

	v, short := fpmath.ApplyPnL(30, fpmath.PnL{Loss: true, Amount: 50})
	assert.Zero(t, v)
	assert.Equal(t, uint64(20), short)
}

package math

// FeeInputs carries everything the fee split depends on.
type FeeInputs struct {
	Quantity       uint64
	Price1e6       uint64
	TakerBps       uint64 // includes any imbalance surcharge
	IsMaker        bool
	MakerRebateBps uint64
	BotSplitBps    uint64

	// Discount path. DiscountTokenPrice1e6 == 0 means no discount token was offered.
	DiscountBps           uint64
	DiscountTokenPrice1e6 uint64
}

// FeeBreakdown is the exact decomposition of a fill fee.
// Invariant: TreasuryShare + BotShare + MakerRebate + DiscountCollateral == Fee.
type FeeBreakdown struct {
	Notional           uint64 // saturated, for volume accounting
	Fee                uint64
	FeeClamped         bool
	MakerRebate        uint64
	FeeAfterRebate     uint64
	DiscountCollateral uint64
	DiscountTokenUnits uint64
	CollateralFeeFinal uint64
	BotShare           uint64
	TreasuryShare      uint64
}

// CollateralDue is what the fee coin must cover: everything not paid in the discount token.
func (b FeeBreakdown) CollateralDue() uint64 {
	return b.CollateralFeeFinal + b.MakerRebate
}

// ComputeFee returns notional * bps / 10000 with notional = quantity * price1e6,
// clamped to MaxU64. Clamping is policy: an extreme notional caps the fee at
// the largest payable amount instead of aborting.
func ComputeFee(quantity, price1e6, bps uint64) (fee uint64, clamped bool) {
	return ClampU64(ApplyBps(Notional(quantity, price1e6), bps))
}

// ComputeFeeBreakdown runs the fee pipeline: fee, maker rebate, discount-token
// conversion (ceiling, in favour of the protocol) and the bot/treasury split.
func ComputeFeeBreakdown(in FeeInputs) FeeBreakdown {
	var b FeeBreakdown

	b.Notional, _ = ClampU64(Notional(in.Quantity, in.Price1e6))
	b.Fee, b.FeeClamped = ComputeFee(in.Quantity, in.Price1e6, in.TakerBps)

	if in.IsMaker {
		b.MakerRebate = BpsOf(b.Fee, in.MakerRebateBps)
	}
	b.FeeAfterRebate = b.Fee - b.MakerRebate

	if in.DiscountTokenPrice1e6 > 0 && in.DiscountBps > 0 {
		b.DiscountCollateral = BpsOf(b.FeeAfterRebate, in.DiscountBps)
		if b.DiscountCollateral > 0 {
			b.DiscountTokenUnits = CeilDiv(b.DiscountCollateral, in.DiscountTokenPrice1e6)
		}
	}
	b.CollateralFeeFinal = b.FeeAfterRebate - b.DiscountCollateral

	b.BotShare = BpsOf(b.CollateralFeeFinal, in.BotSplitBps)
	b.TreasuryShare = b.CollateralFeeFinal - b.BotShare

	return b
}

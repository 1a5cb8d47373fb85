package core

import (
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	fpmath "UnxvFutures/internal/math"
	"UnxvFutures/internal/oracle"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const opFill = "fill"

// FillInput is a matched trade handed to the engine by the external matcher.
type FillInput struct {
	FillID   uuid.UUID
	Trader   uuid.UUID
	Side     event.Side
	Quantity uint64
	Price1e6 uint64

	// Caller-asserted band the fill occurred within.
	MinPrice1e6 uint64
	MaxPrice1e6 uint64

	IsMaker bool

	UnderlyingFeed oracle.PriceFeed

	// Optional discount-token payment; DiscountFeed prices it.
	DiscountPayment *ledger.Coin
	DiscountFeed    *oracle.PriceFeed

	FeeCoin    ledger.Coin
	MarginCoin ledger.Coin

	Now time.Time
}

// FillResult carries the emitted record and every coin handed back.
type FillResult struct {
	Record    *event.FillRecord
	Duplicate bool

	FeeChange      ledger.Coin
	MarginChange   ledger.Coin
	DiscountChange ledger.Coin
	Payout         ledger.Coin
}

// fillPlan is everything RecordFill decided before touching state.
type fillPlan struct {
	action     event.FillAction
	pos        *state.Position
	closeQty   uint64
	openQty    uint64
	newEntry   uint64
	collateral ledger.AssetID
	discountID ledger.AssetID
	epoch      uint64
	takerBps   uint64
	fees       fpmath.FeeBreakdown

	lock      uint64
	released  uint64
	payout    uint64
	shortfall uint64
	variation *event.VariationMargin
}

// RecordFill validates a fill against the registry and market, routes its
// fee and updates open interest, volume and the trader's position. Any
// failure leaves every input untouched.
func (e *Engine) RecordFill(reg *registry.RiskRegistry, m *state.MarketState, in FillInput) (*FillResult, error) {
	start := time.Now()

	if in.FillID != uuid.Nil && e.idempotency.IsDuplicate(opFill, in.FillID.String()) {
		res := &FillResult{
			Duplicate:    true,
			FeeChange:    in.FeeCoin,
			MarginChange: in.MarginCoin,
		}
		if in.DiscountPayment != nil {
			res.DiscountChange = *in.DiscountPayment
		}
		return res, nil
	}

	plan, err := e.planFill(reg, m, in)
	if err != nil {
		return nil, e.reject(opFill, err)
	}

	res, err := e.commitFill(m, in, plan)
	if err != nil {
		return nil, e.reject(opFill, err)
	}

	if in.FillID != uuid.Nil {
		e.idempotency.MarkProcessed(opFill, in.FillID.String())
	}
	e.observe(opFill, start)
	return res, nil
}

func (e *Engine) planFill(reg *registry.RiskRegistry, m *state.MarketState, in FillInput) (*fillPlan, error) {
	if reg.Paused() {
		return nil, ErrRegistryPaused
	}
	if m.Paused() {
		return nil, fmt.Errorf("%w: %s", ErrMarketPaused, m.ID())
	}
	if m.Status() == state.MarketStatusSettled {
		return nil, fmt.Errorf("%w: %s", ErrMarketSettled, m.ID())
	}
	if in.Quantity == 0 || in.Price1e6 == 0 {
		return nil, fmt.Errorf("%w: quantity and price must be positive", ErrInvalidFill)
	}
	if in.Side != event.SideLong && in.Side != event.SideShort {
		return nil, fmt.Errorf("%w: side %s", ErrInvalidFill, in.Side)
	}
	if in.Price1e6 < in.MinPrice1e6 || in.Price1e6 > in.MaxPrice1e6 {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrPriceOutOfBand, in.Price1e6, in.MinPrice1e6, in.MaxPrice1e6)
	}

	feedID, err := reg.FeedFor(m.Underlying())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPolicyViolation, err)
	}
	oraclePrice, err := in.UnderlyingFeed.ValidatedPrice1e6(feedID, reg.MaxPriceAge(), in.Now)
	if err != nil {
		return nil, classifyFeedErr(err)
	}

	caps := m.Caps()
	if caps.PriceDeviationBps > 0 && deviates(in.Price1e6, oraclePrice, caps.PriceDeviationBps) {
		return nil, fmt.Errorf("%w: fill %d vs oracle %d exceeds %d bps", ErrPriceDeviation, in.Price1e6, oraclePrice, caps.PriceDeviationBps)
	}

	p := &fillPlan{epoch: reg.Epoch(in.Now)}
	if p.collateral, err = collateralAsset(m); err != nil {
		return nil, err
	}

	// Classify against the existing net position.
	var newQty uint64
	p.pos = e.positions.Get(in.Trader, m.ID())
	switch {
	case p.pos == nil:
		p.action = event.FillActionOpen
		p.openQty = in.Quantity
		newQty = in.Quantity
		p.newEntry = in.Price1e6
	case p.pos.Side == in.Side:
		p.action = event.FillActionIncrease
		if fpmath.SaturatingAdd(p.pos.Quantity, in.Quantity) == fpmath.MaxU64 {
			return nil, fmt.Errorf("%w: position quantity overflow", ErrInvalidFill)
		}
		p.openQty = in.Quantity
		newQty = p.pos.Quantity + in.Quantity
		p.newEntry = fpmath.ComputeAvgEntryPrice(p.pos.Quantity, p.pos.EntryPrice1e6, in.Quantity, in.Price1e6)
	default:
		p.closeQty = min(in.Quantity, p.pos.Quantity)
		p.openQty = in.Quantity - p.closeQty
		switch {
		case p.openQty > 0:
			p.action = event.FillActionFlip
			newQty = p.openQty
			p.newEntry = in.Price1e6
		case p.closeQty == p.pos.Quantity:
			p.action = event.FillActionClose
		default:
			p.action = event.FillActionReduce
			newQty = p.pos.Quantity - p.closeQty
		}
	}

	// Post-fill open interest per side.
	longAfter, shortAfter := m.LongOI(), m.ShortOI()
	if p.closeQty > 0 {
		if p.pos.Side == event.SideLong {
			longAfter -= p.closeQty
		} else {
			shortAfter -= p.closeQty
		}
	}
	if in.Side == event.SideLong {
		longAfter = fpmath.SaturatingAdd(longAfter, p.openQty)
	} else {
		shortAfter = fpmath.SaturatingAdd(shortAfter, p.openQty)
	}

	// Caps gate only fills that add exposure; a reduction is always allowed.
	if p.openQty > 0 {
		if err := checkCaps(caps, newQty, longAfter, shortAfter, in.Price1e6); err != nil {
			return nil, err
		}
	}

	fees := reg.Fees()
	p.takerBps = fees.TakerBps
	if p.openQty > 0 && caps.ImbalanceSurchargeBps > 0 {
		grown, other := longAfter, shortAfter
		if in.Side == event.SideShort {
			grown, other = shortAfter, longAfter
		}
		if grown > other && state.ImbalanceBps(longAfter, shortAfter) > caps.ImbalanceThresholdBps {
			p.takerBps = min(p.takerBps+caps.ImbalanceSurchargeBps, fpmath.BpsDenominator)
		}
	}

	feeIn := fpmath.FeeInputs{
		Quantity:       in.Quantity,
		Price1e6:       in.Price1e6,
		TakerBps:       p.takerBps,
		IsMaker:        in.IsMaker,
		MakerRebateBps: fees.MakerRebateBps,
		BotSplitBps:    fees.BotSplitBps,
	}

	if in.DiscountPayment != nil && in.DiscountPayment.Value > 0 {
		if in.DiscountFeed == nil {
			return nil, ErrDiscountFeedUnset
		}
		var ok bool
		if p.discountID, ok = ledger.GetAssetID(in.DiscountPayment.Asset); !ok || p.discountID == p.collateral {
			return nil, fmt.Errorf("%w: discount payment in %s", ErrWrongAsset, in.DiscountPayment.Asset)
		}
		tokenPrice, err := in.DiscountFeed.ValidatedPrice1e6(reg.DiscountFeedID(), reg.MaxPriceAge(), in.Now)
		if err != nil {
			return nil, classifyFeedErr(err)
		}
		feeIn.DiscountBps = fees.UnxvDiscountBps
		feeIn.DiscountTokenPrice1e6 = tokenPrice
	}

	p.fees = fpmath.ComputeFeeBreakdown(feeIn)

	if p.fees.DiscountTokenUnits > 0 && p.fees.DiscountTokenUnits > in.DiscountPayment.Value {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientDiscount, p.fees.DiscountTokenUnits, in.DiscountPayment.Value)
	}
	if due := p.fees.CollateralDue(); due > 0 {
		if in.FeeCoin.Asset != m.CollateralAsset() {
			return nil, fmt.Errorf("%w: fee coin %s, market collateral %s", ErrWrongAsset, in.FeeCoin.Asset, m.CollateralAsset())
		}
		if in.FeeCoin.Value < due {
			return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFee, due, in.FeeCoin.Value)
		}
	}

	// Margin: lock for new exposure, release pro rata for closed exposure.
	switch p.action {
	case event.FillActionOpen, event.FillActionFlip:
		p.lock = m.RequiredInitialMargin(p.openQty, in.Price1e6)
	case event.FillActionIncrease:
		p.lock = fpmath.SaturatingSub(m.RequiredInitialMargin(newQty, p.newEntry), p.pos.Margin)
	}
	if p.closeQty > 0 {
		p.released = state.MarginFor(p.pos, p.closeQty)
		pnl := fpmath.ComputePnL(p.pos.IsLong(), p.pos.EntryPrice1e6, in.Price1e6, p.closeQty)
		p.payout, p.shortfall = fpmath.ApplyPnL(p.released, pnl)
		p.variation = &event.VariationMargin{
			FromPrice1e6: p.pos.EntryPrice1e6,
			ToPrice1e6:   in.Price1e6,
			QtyClosed:    p.closeQty,
			PnLLoss:      pnl.Loss,
			PnLAmount:    pnl.Amount,
		}
	}
	if p.lock > 0 {
		if in.MarginCoin.Asset != m.CollateralAsset() {
			return nil, fmt.Errorf("%w: margin coin %s, market collateral %s", ErrWrongAsset, in.MarginCoin.Asset, m.CollateralAsset())
		}
		if in.MarginCoin.Value < p.lock {
			return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientMargin, p.lock, in.MarginCoin.Value)
		}
	}

	return p, nil
}

// commitFill applies a validated plan. Nothing here can fail on user input.
func (e *Engine) commitFill(m *state.MarketState, in FillInput, p *fillPlan) (*FillResult, error) {
	fillID := in.FillID
	if fillID == uuid.Nil {
		fillID = uuid.New()
	}

	batch := ledger.NewBatch(fillID.String(), in.Now.UnixMilli())
	e.journalGen.GenerateFillFees(batch, in.Trader, p.collateral, p.discountID, p.epoch, p.fees)

	var paid uint64
	if p.payout > 0 {
		var vaultShort uint64
		paid, vaultShort = e.journalGen.GenerateVaultPayout(batch, m.ID(), ledger.NewExternalAccountKey(p.collateral), p.payout, ledger.JournalTypeMarginRelease)
		p.shortfall += vaultShort
	}
	e.journalGen.GenerateMarginLock(batch, m.ID(), p.collateral, p.lock)

	if err := e.applyBatch(batch); err != nil {
		return nil, err
	}

	closeSide := event.SideFlat
	if p.pos != nil {
		closeSide = p.pos.Side
	}
	if err := m.ApplyOIChange(closeSide, p.closeQty, in.Side, p.openQty); err != nil {
		panic(fmt.Sprintf("FATAL: open interest diverged from positions in %s: %v", m.ID(), err))
	}
	m.RecordTrade(p.fees.Notional, in.Price1e6)

	var err error
	switch p.action {
	case event.FillActionOpen:
		p.pos = e.positions.Open(in.Trader, m.ID(), in.Side, in.Quantity, in.Price1e6, p.lock)
	case event.FillActionIncrease:
		err = e.positions.Increase(p.pos, in.Quantity, in.Price1e6, p.lock)
	case event.FillActionReduce, event.FillActionClose:
		_, err = e.positions.Reduce(p.pos, p.closeQty, state.PositionStatusClosed)
	case event.FillActionFlip:
		if _, err = e.positions.Reduce(p.pos, p.closeQty, state.PositionStatusClosed); err == nil {
			p.pos = e.positions.Open(in.Trader, m.ID(), in.Side, p.openQty, in.Price1e6, p.lock)
		}
	}
	if err != nil {
		panic(fmt.Sprintf("FATAL: position update failed after commit: %v", err))
	}

	res := &FillResult{
		FeeChange:    in.FeeCoin,
		MarginChange: in.MarginCoin,
		Payout:       ledger.NewCoin(m.CollateralAsset(), paid),
	}
	if _, err := res.FeeChange.Split(p.fees.CollateralDue()); err != nil {
		panic(fmt.Sprintf("FATAL: fee coin shrank after validation: %v", err))
	}
	if _, err := res.MarginChange.Split(p.lock); err != nil {
		panic(fmt.Sprintf("FATAL: margin coin shrank after validation: %v", err))
	}
	if in.DiscountPayment != nil {
		res.DiscountChange = *in.DiscountPayment
		if _, err := res.DiscountChange.Split(p.fees.DiscountTokenUnits); err != nil {
			panic(fmt.Sprintf("FATAL: discount coin shrank after validation: %v", err))
		}
	}

	rec := &event.FillRecord{
		FillID:             fillID,
		Market:             m.ID(),
		Trader:             in.Trader,
		Side:               in.Side,
		Action:             p.action,
		Quantity:           in.Quantity,
		Price1e6:           in.Price1e6,
		IsMaker:            in.IsMaker,
		TakerBps:           p.takerBps,
		Notional:           p.fees.Notional,
		Fee:                p.fees.Fee,
		FeeClamped:         p.fees.FeeClamped,
		MakerRebate:        p.fees.MakerRebate,
		FeeAfterRebate:     p.fees.FeeAfterRebate,
		DiscountCollateral: p.fees.DiscountCollateral,
		DiscountTokenUnits: p.fees.DiscountTokenUnits,
		CollateralFeeFinal: p.fees.CollateralFeeFinal,
		TreasuryShare:      p.fees.TreasuryShare,
		BotShare:           p.fees.BotShare,
		Epoch:              p.epoch,
		MarginLocked:       p.lock,
		MarginReleased:     p.released,
		Payout:             paid,
		Shortfall:          p.shortfall,
		Variation:          p.variation,
		OpenInterest:       m.OpenInterest(),
		Volume:             m.Volume(),
		Timestamp:          in.Now,
	}
	res.Record = rec

	touched := [][]byte{m.CanonicalBytes()}
	if live := e.positions.Get(in.Trader, m.ID()); live != nil {
		touched = append(touched, live.CanonicalBytes())
	}
	e.emit(rec, batch, touched...)

	e.observeMarket(m)
	if e.metrics != nil {
		e.metrics.FeesRouted.WithLabelValues(m.ID(), "treasury").Add(float64(p.fees.TreasuryShare))
		e.metrics.FeesRouted.WithLabelValues(m.ID(), "bot_rewards").Add(float64(p.fees.BotShare))
		e.metrics.FeesRouted.WithLabelValues(m.ID(), "maker_rebate").Add(float64(p.fees.MakerRebate))
		e.metrics.DiscountUnits.WithLabelValues(m.ID()).Add(float64(p.fees.DiscountTokenUnits))
		if p.fees.FeeClamped {
			e.metrics.FeeClamps.WithLabelValues(m.ID()).Inc()
		}
	}
	return res, nil
}

// checkCaps enforces the notional and share-of-OI caps on the post-fill state.
// The share cap is skipped while the account is the only OI holder.
func checkCaps(caps state.RiskCaps, accountQty, longAfter, shortAfter, price1e6 uint64) error {
	if caps.AccountMaxNotional1e6 > 0 {
		if n := fpmath.Notional(accountQty, price1e6); n.GtUint64(caps.AccountMaxNotional1e6) {
			return fmt.Errorf("%w: account notional %s > %d", ErrRiskCapExceeded, n.Dec(), caps.AccountMaxNotional1e6)
		}
	}

	oi := new(uint256.Int).AddUint64(uint256.NewInt(longAfter), shortAfter)
	if caps.MarketMaxNotional1e6 > 0 {
		n := new(uint256.Int).Mul(oi, uint256.NewInt(price1e6))
		if n.GtUint64(caps.MarketMaxNotional1e6) {
			return fmt.Errorf("%w: market notional %s > %d", ErrRiskCapExceeded, n.Dec(), caps.MarketMaxNotional1e6)
		}
	}

	if caps.AccountShareOfOiBps > 0 && oi.GtUint64(accountQty) {
		share := fpmath.Notional(accountQty, fpmath.BpsDenominator)
		limit := new(uint256.Int).Mul(oi, uint256.NewInt(caps.AccountShareOfOiBps))
		if share.Gt(limit) {
			return fmt.Errorf("%w: account share of OI above %d bps", ErrRiskCapExceeded, caps.AccountShareOfOiBps)
		}
	}
	return nil
}

// deviates reports |price - ref| * 10000 > ref * bps.
func deviates(price, ref, bps uint64) bool {
	diff := price - ref
	if ref > price {
		diff = ref - price
	}
	return fpmath.Notional(diff, fpmath.BpsDenominator).Gt(fpmath.Notional(ref, bps))
}

package core

import (
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	fpmath "UnxvFutures/internal/math"
	"UnxvFutures/internal/observability"
	"UnxvFutures/internal/oracle"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const opLiquidation = "liquidation"

// LiquidationInput is a keeper's request to force-close a position.
type LiquidationInput struct {
	LiquidationID uuid.UUID // optional idempotency key
	Owner         uuid.UUID
	Keeper        uuid.UUID
	Quantity      uint64 // 0 closes the whole position
	Feed          oracle.PriceFeed
	Now           time.Time
}

// LiquidationResult is the outcome of a liquidation.
type LiquidationResult struct {
	Record    *event.LiquidationRecord
	Duplicate bool
}

// Equity returns margin plus unrealized PnL at price1e6, floored at zero.
func Equity(pos *state.Position, price1e6 uint64) uint64 {
	pnl := fpmath.ComputePnL(pos.IsLong(), pos.EntryPrice1e6, price1e6, pos.Quantity)
	equity, _ := fpmath.ApplyPnL(pos.Margin, pnl)
	return equity
}

// IsLiquidatable reports equity < maintenance margin at price1e6.
func IsLiquidatable(m *state.MarketState, pos *state.Position, price1e6 uint64) bool {
	return Equity(pos, price1e6) < m.MaintenanceMargin(pos.Quantity, price1e6)
}

// Liquidate closes all or part of an under-margined position at the oracle
// price. The liquidation fee is capped at what the closed slice returns and is
// split between the keeper and the treasury by keeperIncentiveBps. Whatever
// the slice returns beyond the fee is credited to the owner's claimable account.
func (e *Engine) Liquidate(reg *registry.RiskRegistry, m *state.MarketState, in LiquidationInput) (*LiquidationResult, error) {
	start := time.Now()

	if in.LiquidationID != uuid.Nil && e.idempotency.IsDuplicate(opLiquidation, in.LiquidationID.String()) {
		return &LiquidationResult{Duplicate: true}, nil
	}

	if reg.Paused() {
		return nil, e.reject(opLiquidation, ErrRegistryPaused)
	}
	if m.Paused() {
		return nil, e.reject(opLiquidation, fmt.Errorf("%w: %s", ErrMarketPaused, m.ID()))
	}
	if m.Status() == state.MarketStatusSettled {
		return nil, e.reject(opLiquidation, fmt.Errorf("%w: %s positions settle instead", ErrMarketSettled, m.ID()))
	}

	pos := e.positions.Get(in.Owner, m.ID())
	if pos == nil {
		return nil, e.reject(opLiquidation, fmt.Errorf("%w: %s in %s", ErrPositionNotFound, in.Owner, m.ID()))
	}

	feedID, err := reg.FeedFor(m.Underlying())
	if err != nil {
		return nil, e.reject(opLiquidation, fmt.Errorf("%w: %w", ErrPolicyViolation, err))
	}
	price, err := in.Feed.ValidatedPrice1e6(feedID, reg.MaxPriceAge(), in.Now)
	if err != nil {
		return nil, e.reject(opLiquidation, classifyFeedErr(err))
	}

	equity := Equity(pos, price)
	maintenance := m.MaintenanceMargin(pos.Quantity, price)
	if equity >= maintenance {
		return nil, e.reject(opLiquidation, fmt.Errorf("%w: equity %d >= maintenance %d", ErrNotLiquidatable, equity, maintenance))
	}

	collateral, err := collateralAsset(m)
	if err != nil {
		return nil, e.reject(opLiquidation, err)
	}

	closeQty := pos.Quantity
	if in.Quantity > 0 && in.Quantity < pos.Quantity {
		closeQty = in.Quantity
	}

	released := state.MarginFor(pos, closeQty)
	pnl := fpmath.ComputePnL(pos.IsLong(), pos.EntryPrice1e6, price, closeQty)
	sliceValue, shortfall := fpmath.ApplyPnL(released, pnl)

	notional, _ := fpmath.ClampU64(fpmath.Notional(closeQty, price))
	params := m.Margin()

	liquidationID := in.LiquidationID
	if liquidationID == uuid.Nil {
		liquidationID = uuid.New()
	}
	batch := ledger.NewBatch(liquidationID.String(), in.Now.UnixMilli())

	fee := min(fpmath.BpsOf(notional, params.LiquidationFeeBps), sliceValue)
	if avail := e.journalGen.Available(batch, ledger.NewMarketVaultKey(m.ID(), collateral)); fee > avail {
		fee = avail
	}
	keeperShare := fpmath.BpsOf(fee, params.KeeperIncentiveBps)
	treasuryShare := fee - keeperShare
	e.journalGen.GenerateLiquidationFees(batch, m.ID(), collateral, in.Keeper, keeperShare, treasuryShare)

	owner := ledger.NewUserAccountKey(in.Owner, ledger.SubTypeClaimable, collateral)
	paid, vaultShort := e.journalGen.GenerateVaultPayout(batch, m.ID(), owner, sliceValue-fee, ledger.JournalTypeMarginRelease)
	shortfall += vaultShort

	if err := e.applyBatch(batch); err != nil {
		return nil, e.reject(opLiquidation, err)
	}

	side := pos.Side
	if err := m.ApplyOIChange(side, closeQty, event.SideFlat, 0); err != nil {
		panic(fmt.Sprintf("FATAL: open interest diverged from positions in %s: %v", m.ID(), err))
	}
	if _, err := e.positions.Reduce(pos, closeQty, state.PositionStatusLiquidated); err != nil {
		panic(fmt.Sprintf("FATAL: position update failed after commit: %v", err))
	}

	rec := &event.LiquidationRecord{
		LiquidationID:     liquidationID,
		Market:            m.ID(),
		Owner:             in.Owner,
		Keeper:            in.Keeper,
		Side:              side,
		Price1e6:          price,
		QtyClosed:         closeQty,
		QtyRemaining:      pos.Quantity,
		Equity:            equity,
		MaintenanceMargin: maintenance,
		MarginReleased:    released,
		Fee:               fee,
		KeeperShare:       keeperShare,
		TreasuryShare:     treasuryShare,
		OwnerPayout:       paid,
		Shortfall:         shortfall,
		Variation: event.VariationMargin{
			FromPrice1e6: pos.EntryPrice1e6,
			ToPrice1e6:   price,
			QtyClosed:    closeQty,
			PnLLoss:      pnl.Loss,
			PnLAmount:    pnl.Amount,
		},
		OpenInterest: m.OpenInterest(),
		Timestamp:    in.Now,
	}

	touched := [][]byte{m.CanonicalBytes()}
	if pos.Quantity > 0 {
		touched = append(touched, pos.CanonicalBytes())
	}
	e.emit(rec, batch, touched...)

	if in.LiquidationID != uuid.Nil {
		e.idempotency.MarkProcessed(opLiquidation, in.LiquidationID.String())
	}

	log := observability.ForMarket(e.logger, m.ID())
	log.Info().
		Str("owner", in.Owner.String()).
		Uint64("qty_closed", closeQty).
		Uint64("price_1e6", price).
		Uint64("fee", fee).
		Uint64("shortfall", shortfall).
		Msg("position liquidated")

	e.observeMarket(m)
	if e.metrics != nil {
		outcome := "partial"
		if pos.Quantity == 0 {
			outcome = "full"
		}
		e.metrics.Liquidations.WithLabelValues(m.ID(), outcome).Inc()
		e.metrics.LiquidationShortfall.WithLabelValues(m.ID()).Add(float64(shortfall))
	}
	e.observe(opLiquidation, start)

	return &LiquidationResult{Record: rec}, nil
}

package core

import (
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	fpmath "UnxvFutures/internal/math"
	"UnxvFutures/internal/observability"
	"UnxvFutures/internal/oracle"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const opSettle = "settle"

// SettleResult reports whether settlement changed the market.
type SettleResult struct {
	Record  *event.MarketSettled
	Changed bool
}

// SettleMarket writes the market's final settlement price from feed and marks
// it settled. It is gated on expiry (or an open settlement window for a
// perpetual market) and on the feed being bound to the market's underlying.
// Settling again at the same price is a no-op; a different price is an
// integrity violation.
func (e *Engine) SettleMarket(reg *registry.RiskRegistry, m *state.MarketState, feed oracle.PriceFeed, now time.Time) (*SettleResult, error) {
	start := time.Now()

	if reg.Paused() {
		return nil, e.reject(opSettle, ErrRegistryPaused)
	}
	if m.Paused() {
		return nil, e.reject(opSettle, fmt.Errorf("%w: %s", ErrMarketPaused, m.ID()))
	}
	if m.Status() != state.MarketStatusSettled {
		if m.IsPerpetual() {
			if !m.SettlementWindowOpen() {
				return nil, e.reject(opSettle, fmt.Errorf("%w: %s settlement window closed", ErrNotExpired, m.ID()))
			}
		} else if ms := now.UnixMilli(); ms < 0 || uint64(ms) < m.ExpiryMs() {
			return nil, e.reject(opSettle, fmt.Errorf("%w: %s expires at %d, now %d", ErrNotExpired, m.ID(), m.ExpiryMs(), ms))
		}
	}

	feedID, err := reg.FeedFor(m.Underlying())
	if err != nil {
		return nil, e.reject(opSettle, fmt.Errorf("%w: %w", ErrPolicyViolation, err))
	}
	price, err := feed.ValidatedPrice1e6(feedID, reg.MaxPriceAge(), now)
	if err != nil {
		return nil, e.reject(opSettle, classifyFeedErr(err))
	}

	changed, err := m.MarkSettled(price)
	if err != nil {
		if errors.Is(err, state.ErrSettlementConflict) {
			return nil, e.reject(opSettle, fmt.Errorf("%w: %w", ErrSettlementConflict, err))
		}
		return nil, e.reject(opSettle, err)
	}

	rec := &event.MarketSettled{
		Market:             m.ID(),
		FeedID:             feed.FeedID,
		SettlementPrice1e6: price,
		OpenInterest:       m.OpenInterest(),
		Timestamp:          now,
	}
	if !changed {
		return &SettleResult{Record: rec}, nil
	}

	e.emit(rec, nil, m.CanonicalBytes())

	log := observability.ForMarket(e.logger, m.ID())
	log.Info().
		Uint64("settlement_price_1e6", price).
		Uint64("open_interest", m.OpenInterest()).
		Msg("market settled")

	if e.metrics != nil {
		e.metrics.MarketsSettled.WithLabelValues(m.ID()).Inc()
	}
	e.observe(opSettle, start)

	return &SettleResult{Record: rec, Changed: true}, nil
}

// settlePosition closes pos at the market's settlement price, credits the
// owner's claimable account from the vault and the keeper one point.
func (e *Engine) settlePosition(m *state.MarketState, collateral ledger.AssetID, pos *state.Position, keeper uuid.UUID, epoch uint64, now time.Time) *event.PositionSettled {
	price := m.SettlementPrice1e6()
	qty := pos.Quantity
	side := pos.Side

	pnl := fpmath.ComputePnL(pos.IsLong(), pos.EntryPrice1e6, price, qty)
	released := pos.Margin
	value, shortfall := fpmath.ApplyPnL(released, pnl)

	batch := ledger.NewBatch(fmt.Sprintf("%s:%s:settle", m.ID(), pos.Owner), now.UnixMilli())
	owner := ledger.NewUserAccountKey(pos.Owner, ledger.SubTypeClaimable, collateral)
	paid, vaultShort := e.journalGen.GenerateVaultPayout(batch, m.ID(), owner, value, ledger.JournalTypeSettlementPayout)
	shortfall += vaultShort

	// The payout is capped at the vault balance, so the batch cannot overdraw.
	if err := e.applyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: settlement batch for %s rejected: %v", m.ID(), err))
	}

	if err := m.ApplyOIChange(side, qty, event.SideFlat, 0); err != nil {
		panic(fmt.Sprintf("FATAL: open interest diverged from positions in %s: %v", m.ID(), err))
	}
	if _, err := e.positions.Reduce(pos, qty, state.PositionStatusSettled); err != nil {
		panic(fmt.Sprintf("FATAL: position update failed after commit: %v", err))
	}
	credited := e.points.Credit(epoch, keeper, 1)

	rec := &event.PositionSettled{
		Market:             m.ID(),
		Owner:              pos.Owner,
		Keeper:             keeper,
		Side:               side,
		SettlementPrice1e6: price,
		MarginReleased:     released,
		Payout:             paid,
		Shortfall:          shortfall,
		Variation: event.VariationMargin{
			FromPrice1e6: pos.EntryPrice1e6,
			ToPrice1e6:   price,
			QtyClosed:    qty,
			PnLLoss:      pnl.Loss,
			PnLAmount:    pnl.Amount,
		},
		PointsEpoch:  epoch,
		KeeperPoints: credited,
		Timestamp:    now,
	}
	e.emit(rec, batch, m.CanonicalBytes())

	if e.metrics != nil {
		e.metrics.PositionsSettled.WithLabelValues(m.ID()).Inc()
		e.metrics.PointsCredited.WithLabelValues("keeper").Add(float64(credited))
	}
	return rec
}

package state_test

import (
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*registry.RiskRegistry, *registry.AdminToken) {
	t.Helper()
	reg, tok, err := registry.New(registry.Config{
		Timing: registry.Timing{MaxPriceAge: time.Minute, EpochLength: time.Hour},
	})
	require.NoError(t, err)
	require.NoError(t, reg.WhitelistUnderlying(tok, "BTC", "feed-btc"))
	return reg, tok
}

func testSpec() state.MarketSpec {
	return state.MarketSpec{
		Symbol:     "BTC-DEC26",
		Underlying: "BTC",
		ExpiryMs:   1_800_000_000_000,
		Margin: state.MarginParams{
			InitialBps:         1000,
			MaintenanceBps:     500,
			LiquidationFeeBps:  100,
			KeeperIncentiveBps: 5000,
		},
		Caps: state.RiskCaps{
			TierThresholds1e6: []uint64{1_000_000_000, 10_000_000_000},
			TierImBps:         []uint64{1500, 2500},
		},
	}
}

// ============================================================================
// MarketState
// ============================================================================

func TestListMarket_RequiresAdminToken(t *testing.T) {
	reg, tok := newRegistry(t)
	_, other, err := registry.New(registry.Config{Timing: registry.Timing{EpochLength: time.Hour}})
	require.NoError(t, err)

	_, err = state.ListMarket(other, reg, testSpec())
	assert.ErrorIs(t, err, registry.ErrUnauthorized)

	_, err = state.ListMarket(nil, reg, testSpec())
	assert.ErrorIs(t, err, registry.ErrUnauthorized)

	m, err := state.ListMarket(tok, reg, testSpec())
	require.NoError(t, err)
	assert.Equal(t, "BTC-DEC26", m.ID())
	assert.Equal(t, "USDC", m.CollateralAsset())
	assert.Equal(t, state.MarketStatusActive, m.Status())
}

func TestListMarket_RejectsUnlistedUnderlyingAndBadTiers(t *testing.T) {
	reg, tok := newRegistry(t)

	spec := testSpec()
	spec.Underlying = "DOGE"
	_, err := state.ListMarket(tok, reg, spec)
	assert.ErrorIs(t, err, registry.ErrNotListed)

	spec = testSpec()
	spec.Caps.TierThresholds1e6 = []uint64{10, 5}
	_, err = state.ListMarket(tok, reg, spec)
	assert.Error(t, err)

	spec = testSpec()
	spec.Caps.TierImBps = []uint64{1500}
	_, err = state.ListMarket(tok, reg, spec)
	assert.Error(t, err)

	spec = testSpec()
	spec.Margin.MaintenanceBps = 2000
	_, err = state.ListMarket(tok, reg, spec)
	assert.Error(t, err)
}

func TestRiskCaps_TierLookupPicksHighestThresholdNotExceeding(t *testing.T) {
	caps := testSpec().Caps

	assert.Equal(t, uint64(1000), caps.TierImBpsFor(999_999_999, 1000))
	assert.Equal(t, uint64(1500), caps.TierImBpsFor(1_000_000_000, 1000))
	assert.Equal(t, uint64(1500), caps.TierImBpsFor(9_999_999_999, 1000))
	assert.Equal(t, uint64(2500), caps.TierImBpsFor(10_000_000_000, 1000))
	assert.Equal(t, uint64(700), state.RiskCaps{}.TierImBpsFor(1<<60, 700))
}

func TestMarketState_RequiredInitialMarginUsesTier(t *testing.T) {
	reg, tok := newRegistry(t)
	m, err := state.ListMarket(tok, reg, testSpec())
	require.NoError(t, err)

	// notional 500 * 1e6 below the first tier -> 10%
	assert.Equal(t, uint64(50_000_000), m.RequiredInitialMargin(500, 1_000_000))
	// notional 2000 * 1e6 in the first tier -> 15%
	assert.Equal(t, uint64(300_000_000), m.RequiredInitialMargin(2000, 1_000_000))
	assert.Equal(t, uint64(25_000_000), m.MaintenanceMargin(500, 1_000_000))
}

func TestMarketState_RequiredInitialMarginBeyondU64Notional(t *testing.T) {
	reg, tok := newRegistry(t)
	m, err := state.ListMarket(tok, reg, testSpec())
	require.NoError(t, err)

	maxU64 := ^uint64(0)
	// notional 2*maxU64 sits in the top tier -> 25% of the full notional
	assert.Equal(t, uint64(9_223_372_036_854_775_807), m.RequiredInitialMargin(maxU64, 2))
	assert.Equal(t, maxU64, m.RequiredInitialMargin(maxU64, 20))
}

func TestMarketState_ApplyOIChange(t *testing.T) {
	reg, tok := newRegistry(t)
	m, err := state.ListMarket(tok, reg, testSpec())
	require.NoError(t, err)

	require.NoError(t, m.ApplyOIChange(event.SideFlat, 0, event.SideLong, 10))
	require.NoError(t, m.ApplyOIChange(event.SideFlat, 0, event.SideShort, 4))
	assert.Equal(t, uint64(14), m.OpenInterest())

	require.NoError(t, m.ApplyOIChange(event.SideLong, 3, event.SideShort, 2))
	assert.Equal(t, uint64(7), m.LongOI())
	assert.Equal(t, uint64(6), m.ShortOI())

	err = m.ApplyOIChange(event.SideShort, 7, event.SideLong, 1)
	assert.ErrorIs(t, err, state.ErrOpenInterest)
	assert.Equal(t, uint64(13), m.OpenInterest(), "failed change must not mutate")
}

func TestMarketState_VolumeSaturates(t *testing.T) {
	reg, tok := newRegistry(t)
	m, err := state.ListMarket(tok, reg, testSpec())
	require.NoError(t, err)

	m.RecordTrade(^uint64(0)-1, 7)
	m.RecordTrade(10, 9)
	assert.Equal(t, ^uint64(0), m.Volume())
	assert.Equal(t, uint64(9), m.LastPrice1e6())
}

func TestMarketState_MarkSettledIsIdempotentPerPrice(t *testing.T) {
	reg, tok := newRegistry(t)
	m, err := state.ListMarket(tok, reg, testSpec())
	require.NoError(t, err)

	changed, err := m.MarkSettled(50_000)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = m.MarkSettled(50_000)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = m.MarkSettled(50_001)
	assert.ErrorIs(t, err, state.ErrSettlementConflict)
	assert.Equal(t, uint64(50_000), m.SettlementPrice1e6())
}

func TestMarketState_SettlementWindowPerpetualOnly(t *testing.T) {
	reg, tok := newRegistry(t)
	dated, err := state.ListMarket(tok, reg, testSpec())
	require.NoError(t, err)
	assert.ErrorIs(t, dated.OpenSettlementWindow(tok), state.ErrNotPerpetual)

	spec := testSpec()
	spec.Symbol = "BTC-PERP"
	spec.ExpiryMs = 0
	perp, err := state.ListMarket(tok, reg, spec)
	require.NoError(t, err)

	assert.ErrorIs(t, perp.OpenSettlementWindow(nil), registry.ErrUnauthorized)
	require.NoError(t, perp.OpenSettlementWindow(tok))
	assert.True(t, perp.SettlementWindowOpen())
}

func TestMarketState_AdminSetters(t *testing.T) {
	reg, tok := newRegistry(t)
	m, err := state.ListMarket(tok, reg, testSpec())
	require.NoError(t, err)

	assert.ErrorIs(t, m.SetPaused(nil, true), registry.ErrUnauthorized)
	require.NoError(t, m.SetPaused(tok, true))
	assert.True(t, m.Paused())

	caps := m.Caps()
	caps.AccountShareOfOiBps = 20_000
	assert.Error(t, m.SetRiskCaps(tok, caps))

	caps.AccountShareOfOiBps = 2_000
	require.NoError(t, m.SetRiskCaps(tok, caps))
	assert.Equal(t, uint64(2_000), m.Caps().AccountShareOfOiBps)

	params := m.Margin()
	params.KeeperIncentiveBps = 1_000
	require.NoError(t, m.SetMarginParams(tok, params))
	assert.Equal(t, uint64(1_000), m.Margin().KeeperIncentiveBps)
}

func TestImbalanceBps(t *testing.T) {
	assert.Equal(t, uint64(0), state.ImbalanceBps(0, 0))
	assert.Equal(t, uint64(0), state.ImbalanceBps(5, 5))
	assert.Equal(t, uint64(10_000), state.ImbalanceBps(5, 0))
	assert.Equal(t, uint64(5_000), state.ImbalanceBps(3, 9))
}

// ============================================================================
// PositionLedger
// ============================================================================

func TestPositionStatus_Transitions(t *testing.T) {
	assert.True(t, state.PositionStatusOpen.CanTransitionTo(state.PositionStatusPartiallyClosed))
	assert.True(t, state.PositionStatusPartiallyClosed.CanTransitionTo(state.PositionStatusOpen))
	assert.True(t, state.PositionStatusPartiallyClosed.CanTransitionTo(state.PositionStatusLiquidated))
	assert.False(t, state.PositionStatusClosed.CanTransitionTo(state.PositionStatusOpen))
	assert.False(t, state.PositionStatusSettled.CanTransitionTo(state.PositionStatusClosed))
	assert.False(t, state.PositionStatusLiquidated.CanTransitionTo(state.PositionStatusLiquidated))
}

func TestPositionLedger_IncreaseAndReduce(t *testing.T) {
	pl := state.NewPositionLedger()
	owner := uuid.New()

	pos := pl.Open(owner, "M", event.SideLong, 10, 100, 1_000)
	require.NoError(t, pl.Increase(pos, 10, 200, 500))
	assert.Equal(t, uint64(20), pos.Quantity)
	assert.Equal(t, uint64(150), pos.EntryPrice1e6)
	assert.Equal(t, uint64(1_500), pos.Margin)

	released, err := pl.Reduce(pos, 5, state.PositionStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, uint64(375), released)
	assert.Equal(t, state.PositionStatusPartiallyClosed, pos.Status)
	assert.Equal(t, uint64(15), pl.MarketQuantity("M"))

	released, err = pl.Reduce(pos, 15, state.PositionStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_125), released)
	assert.Equal(t, state.PositionStatusClosed, pos.Status)
	assert.Nil(t, pl.Get(owner, "M"))
	assert.Zero(t, pl.Len())
}

func TestPositionLedger_ReduceRejectsOversize(t *testing.T) {
	pl := state.NewPositionLedger()
	pos := pl.Open(uuid.New(), "M", event.SideShort, 3, 100, 30)

	_, err := pl.Reduce(pos, 4, state.PositionStatusClosed)
	assert.Error(t, err)
	assert.Equal(t, uint64(3), pos.Quantity)

	_, err = pl.Reduce(pos, 3, state.PositionStatusSettled)
	require.NoError(t, err)
	assert.ErrorIs(t, pl.Increase(pos, 1, 100, 0), state.ErrInvalidTransition)
}

func TestPositionLedger_MarketPositionsOrdered(t *testing.T) {
	pl := state.NewPositionLedger()
	for i := 0; i < 5; i++ {
		pl.Open(uuid.New(), "M", event.SideLong, 1, 1, 1)
	}
	pl.Open(uuid.New(), "OTHER", event.SideLong, 1, 1, 1)

	positions := pl.MarketPositions("M")
	require.Len(t, positions, 5)
	for i := 1; i < len(positions); i++ {
		assert.Less(t, positions[i-1].Owner.String(), positions[i].Owner.String())
	}
}

// ============================================================================
// SettlementQueue + PointsLedger
// ============================================================================

func TestSettlementQueue_OnePendingPerRequester(t *testing.T) {
	q := state.NewSettlementQueue()
	alice, bob := uuid.New(), uuid.New()
	now := time.UnixMilli(1_000)

	a, err := q.Enqueue("M", alice, 1, now)
	require.NoError(t, err)
	_, err = q.Enqueue("M", alice, 1, now)
	assert.ErrorIs(t, err, state.ErrDuplicateRequest)

	_, err = q.Enqueue("M", bob, 1, now)
	require.NoError(t, err)
	_, err = q.Enqueue("N", alice, 1, now)
	require.NoError(t, err)

	due := q.Due("M")
	require.Len(t, due, 2)
	assert.Equal(t, alice, due[0].Requester)

	assert.True(t, q.Consume(a.ID))
	assert.False(t, q.Consume(a.ID), "second consume must fail")
	assert.Len(t, q.Due("M"), 1)

	// Consumed entries free the requester slot.
	_, err = q.Enqueue("M", alice, 2, now)
	assert.NoError(t, err)
}

func TestPointsLedger_TotalsMatchActorSum(t *testing.T) {
	pl := state.NewPointsLedger()
	a, b := uuid.New(), uuid.New()

	pl.Credit(7, a, 1)
	pl.Credit(7, b, 3)
	pl.Credit(7, a, 2)
	pl.Credit(8, a, 5)

	assert.Equal(t, uint64(3), pl.Points(7, a))
	assert.Equal(t, uint64(6), pl.Total(7))
	assert.Equal(t, uint64(5), pl.Total(8))
	assert.Zero(t, pl.Total(9))
	assert.NoError(t, pl.Validate())

	var sum uint64
	for _, pts := range pl.Actors(7) {
		sum += pts
	}
	assert.Equal(t, pl.Total(7), sum)
}

func TestPointsLedger_CreditClipsAtMax(t *testing.T) {
	pl := state.NewPointsLedger()
	a, b := uuid.New(), uuid.New()

	assert.Equal(t, ^uint64(0)-1, pl.Credit(1, a, ^uint64(0)-1))
	assert.Equal(t, uint64(1), pl.Credit(1, b, 10))
	assert.Zero(t, pl.Credit(1, a, 1))
	assert.NoError(t, pl.Validate())
}

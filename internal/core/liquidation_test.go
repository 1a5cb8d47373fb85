package core_test

import (
	"testing"

	"UnxvFutures/internal/core"
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	"UnxvFutures/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liquidation(f *fixture, owner, keeper uuid.UUID, qty, price uint64) core.LiquidationInput {
	return core.LiquidationInput{
		LiquidationID: uuid.New(),
		Owner:         owner,
		Keeper:        keeper,
		Quantity:      qty,
		Feed:          f.feed(price),
		Now:           f.now,
	}
}

func TestIsLiquidatable(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner := uuid.New()
	f.fill(f.order(owner, event.SideLong, 10, 1_000_000))
	pos := f.eng.Positions().Get(owner, symbol)

	assert.Equal(t, uint64(900_000), core.Equity(pos, 990_000))
	assert.False(t, core.IsLiquidatable(f.m, pos, 990_000))
	assert.Equal(t, uint64(200_000), core.Equity(pos, 920_000))
	assert.True(t, core.IsLiquidatable(f.m, pos, 920_000))
	assert.Zero(t, core.Equity(pos, 800_000))
}

func TestLiquidate_HealthyPositionRejected(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner := uuid.New()
	f.fill(f.order(owner, event.SideLong, 10, 1_000_000))

	_, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, uuid.New(), 0, 990_000))
	require.ErrorIs(t, err, core.ErrNotLiquidatable)
	require.ErrorIs(t, err, core.ErrPolicyViolation)
	assert.Equal(t, uint64(10), f.m.OpenInterest())
}

func TestLiquidate_PausedRegistryAndMarket(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner := uuid.New()
	f.fill(f.order(owner, event.SideLong, 10, 1_000_000))
	f.drain()
	seq := f.eng.GetSequence()

	require.NoError(t, f.reg.SetPaused(f.tok, true))
	_, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, uuid.New(), 0, 920_000))
	require.ErrorIs(t, err, core.ErrRegistryPaused)
	require.NoError(t, f.reg.SetPaused(f.tok, false))

	require.NoError(t, f.m.SetPaused(f.tok, true))
	_, err = f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, uuid.New(), 0, 920_000))
	require.ErrorIs(t, err, core.ErrMarketPaused)

	assert.Equal(t, uint64(10), f.eng.Positions().Get(owner, symbol).Quantity)
	assert.Equal(t, uint64(10), f.m.OpenInterest())
	assert.Equal(t, seq, f.eng.GetSequence())
	assert.Empty(t, f.drain())
	f.requireOIConserved()
}

func TestLiquidate_UnknownPosition(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	_, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, uuid.New(), uuid.New(), 0, 1_000_000))
	require.ErrorIs(t, err, core.ErrPositionNotFound)
}

func TestLiquidate_FullSplitsFee(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner, keeper := uuid.New(), uuid.New()
	f.fill(f.order(owner, event.SideLong, 10, 1_000_000))

	res, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, keeper, 0, 920_000))
	require.NoError(t, err)
	rec := res.Record

	assert.Equal(t, uint64(10), rec.QtyClosed)
	assert.Zero(t, rec.QtyRemaining)
	assert.Equal(t, uint64(200_000), rec.Equity)
	assert.Equal(t, uint64(460_000), rec.MaintenanceMargin)
	assert.Equal(t, uint64(1_000_000), rec.MarginReleased)
	assert.Equal(t, uint64(92_000), rec.Fee)
	assert.Equal(t, uint64(46_000), rec.KeeperShare)
	assert.Equal(t, uint64(46_000), rec.TreasuryShare)
	assert.Equal(t, uint64(108_000), rec.OwnerPayout)
	assert.Zero(t, rec.Shortfall)
	assert.True(t, rec.Variation.PnLLoss)
	assert.Equal(t, uint64(800_000), rec.Variation.PnLAmount)

	assert.Equal(t, uint64(46_000), f.balance(ledger.NewUserAccountKey(keeper, ledger.SubTypeKeeperRewards, ledger.AssetUSDC)))
	assert.Equal(t, uint64(108_000), f.balance(ledger.NewUserAccountKey(owner, ledger.SubTypeClaimable, ledger.AssetUSDC)))
	assert.Equal(t, uint64(800_000), f.vault())

	assert.Nil(t, f.eng.Positions().Get(owner, symbol))
	assert.Zero(t, f.m.OpenInterest())
	f.requireOIConserved()
}

func TestLiquidate_Partial(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner, keeper := uuid.New(), uuid.New()
	f.fill(f.order(owner, event.SideLong, 10, 1_000_000))

	res, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, keeper, 4, 920_000))
	require.NoError(t, err)
	rec := res.Record

	assert.Equal(t, uint64(4), rec.QtyClosed)
	assert.Equal(t, uint64(6), rec.QtyRemaining)
	assert.Equal(t, uint64(400_000), rec.MarginReleased)
	assert.Equal(t, uint64(36_800), rec.Fee)
	assert.Equal(t, uint64(18_400), rec.KeeperShare)
	assert.Equal(t, uint64(43_200), rec.OwnerPayout)

	pos := f.eng.Positions().Get(owner, symbol)
	require.NotNil(t, pos)
	assert.Equal(t, uint64(6), pos.Quantity)
	assert.Equal(t, uint64(600_000), pos.Margin)
	assert.Equal(t, state.PositionStatusPartiallyClosed, pos.Status)
	assert.Equal(t, uint64(6), f.m.LongOI())
	f.requireOIConserved()
}

func TestLiquidate_BankruptPositionRecordsShortfall(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner := uuid.New()
	f.fill(f.order(owner, event.SideLong, 10, 1_000_000))

	res, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, uuid.New(), 0, 850_000))
	require.NoError(t, err)

	assert.Zero(t, res.Record.Equity)
	assert.Zero(t, res.Record.Fee)
	assert.Zero(t, res.Record.OwnerPayout)
	assert.Equal(t, uint64(500_000), res.Record.Shortfall)
	assert.Equal(t, uint64(1_000_000), f.vault())
	f.requireOIConserved()
}

func TestLiquidate_ShortSide(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner := uuid.New()
	f.fill(f.order(owner, event.SideShort, 10, 1_000_000))

	_, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, uuid.New(), 0, 1_010_000))
	require.ErrorIs(t, err, core.ErrNotLiquidatable)

	res, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, uuid.New(), 0, 1_080_000))
	require.NoError(t, err)
	assert.Equal(t, event.SideShort, res.Record.Side)
	assert.Zero(t, f.m.ShortOI())
}

func TestLiquidate_Duplicate(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner := uuid.New()
	f.fill(f.order(owner, event.SideLong, 10, 1_000_000))

	in := liquidation(f, owner, uuid.New(), 4, 920_000)
	_, err := f.eng.Liquidate(f.reg, f.m, in)
	require.NoError(t, err)

	res, err := f.eng.Liquidate(f.reg, f.m, in)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, uint64(6), f.m.OpenInterest())
}

func TestClaim_KeeperRewards(t *testing.T) {
	f := newFixture(t, defaultFees(), nil)
	owner, keeper := uuid.New(), uuid.New()
	f.fill(f.order(owner, event.SideLong, 10, 1_000_000))
	_, err := f.eng.Liquidate(f.reg, f.m, liquidation(f, owner, keeper, 0, 920_000))
	require.NoError(t, err)

	coin, err := f.eng.Claim(keeper, ledger.SubTypeKeeperRewards, "USDC", f.now)
	require.NoError(t, err)
	assert.Equal(t, ledger.NewCoin("USDC", 46_000), coin)

	coin, err = f.eng.Claim(keeper, ledger.SubTypeKeeperRewards, "USDC", f.now)
	require.NoError(t, err)
	assert.True(t, coin.IsZero())

	_, err = f.eng.Claim(keeper, ledger.SubTypeSystemTreasury, "USDC", f.now)
	require.ErrorIs(t, err, core.ErrPolicyViolation)
	f.requireOIConserved()
}

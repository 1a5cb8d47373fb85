package core_test

import (
	"testing"
	"time"

	"UnxvFutures/internal/core"
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	fpmath "UnxvFutures/internal/math"
	"UnxvFutures/internal/oracle"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	btcFeed  = "feed-btc"
	unxvFeed = "feed-unxv"
	symbol   = "BTC-DEC"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

type fixture struct {
	t   *testing.T
	reg *registry.RiskRegistry
	tok *registry.AdminToken
	m   *state.MarketState
	eng *core.Engine
	out chan core.CoreOutput
	now time.Time
}

func defaultFees() registry.FeeConfig {
	return registry.FeeConfig{TakerBps: 100, MakerRebateBps: 5000, UnxvDiscountBps: 5000}
}

func newFixture(t *testing.T, fees registry.FeeConfig, mutate func(*state.MarketSpec)) *fixture {
	t.Helper()

	reg, tok, err := registry.New(registry.Config{
		Fees:           fees,
		Timing:         registry.Timing{MaxPriceAge: time.Minute, EpochLength: time.Hour},
		DiscountFeedID: unxvFeed,
	})
	require.NoError(t, err)
	require.NoError(t, reg.WhitelistUnderlying(tok, "BTC", btcFeed))

	spec := state.MarketSpec{
		Symbol:       symbol,
		Underlying:   "BTC",
		ExpiryMs:     uint64(t0.Add(time.Hour).UnixMilli()),
		ContractSize: 1,
		TickSize:     1,
		LotSize:      1,
		MinSize:      1,
		Margin: state.MarginParams{
			InitialBps:         1000,
			MaintenanceBps:     500,
			LiquidationFeeBps:  100,
			KeeperIncentiveBps: 5000,
		},
	}
	if mutate != nil {
		mutate(&spec)
	}
	m, err := state.ListMarket(tok, reg, spec)
	require.NoError(t, err)

	out := make(chan core.CoreOutput, 1024)
	eng := core.NewEngine(core.Config{PersistChan: out})

	return &fixture{t: t, reg: reg, tok: tok, m: m, eng: eng, out: out, now: t0}
}

func (f *fixture) feed(price1e6 uint64) oracle.PriceFeed {
	return oracle.PriceFeed{FeedID: btcFeed, Price: int64(price1e6), Expo: -6, PublishTime: f.now}
}

func (f *fixture) discountFeed(price1e6 uint64) *oracle.PriceFeed {
	return &oracle.PriceFeed{FeedID: unxvFeed, Price: int64(price1e6), Expo: -6, PublishTime: f.now}
}

// order builds a fill at price with the oracle agreeing and coins large
// enough to cover any fee and margin.
func (f *fixture) order(trader uuid.UUID, side event.Side, qty, price uint64) core.FillInput {
	return core.FillInput{
		FillID:         uuid.New(),
		Trader:         trader,
		Side:           side,
		Quantity:       qty,
		Price1e6:       price,
		MinPrice1e6:    0,
		MaxPrice1e6:    fpmath.MaxU64,
		UnderlyingFeed: f.feed(price),
		FeeCoin:        ledger.NewCoin("USDC", 1_000_000_000_000),
		MarginCoin:     ledger.NewCoin("USDC", 1_000_000_000_000),
		Now:            f.now,
	}
}

func (f *fixture) fill(in core.FillInput) *core.FillResult {
	f.t.Helper()
	res, err := f.eng.RecordFill(f.reg, f.m, in)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) expire() {
	f.now = time.UnixMilli(int64(f.m.ExpiryMs())).Add(time.Minute).UTC()
}

func (f *fixture) balance(key ledger.AccountKey) uint64 {
	return f.eng.Balances().BalanceU64(key)
}

func (f *fixture) vault() uint64 {
	return f.balance(ledger.NewMarketVaultKey(symbol, ledger.AssetUSDC))
}

func (f *fixture) requireOIConserved() {
	f.t.Helper()
	require.Equal(f.t, f.eng.Positions().MarketQuantity(symbol), f.m.OpenInterest())
	require.NoError(f.t, f.eng.Balances().ValidateConservation())
}

func (f *fixture) drain() []core.CoreOutput {
	var outs []core.CoreOutput
	for {
		select {
		case o := <-f.out:
			outs = append(outs, o)
		default:
			return outs
		}
	}
}

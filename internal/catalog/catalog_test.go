package catalog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"UnxvFutures/internal/catalog"
	"UnxvFutures/internal/core"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/venue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
fees:
  taker_bps: 10
  maker_rebate_bps: 2000
  unxv_discount_bps: 3000
  bot_split_bps: 1000
timing:
  max_price_age: 30s
  epoch_length: 1h
discount_feed_id: feed-unxv
underlyings:
  - symbol: BTC
    feed_id: feed-btc
  - symbol: ETH
    feed_id: feed-eth
markets:
  - symbol: BTC-DEC26
    underlying: BTC
    expiry_ms: 1798185600000
    contract_size: 1
    tick_size: 100
    lot_size: 1
    min_size: 1
    margin:
      initial_bps: 1000
      maintenance_bps: 500
      liquidation_fee_bps: 100
      keeper_incentive_bps: 5000
    caps:
      account_max_notional_1e6: 5000000000000
      tier_thresholds_1e6: [1000000000000, 3000000000000]
      tier_im_bps: [1500, 2500]
      price_deviation_bps: 200
  - symbol: ETH-PERP
    underlying: ETH
    collateral_asset: USDT
    margin:
      initial_bps: 2000
      maintenance_bps: 1000
`

func TestParse(t *testing.T) {
	c, err := catalog.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, uint64(10), c.Fees.TakerBps)
	assert.Equal(t, 30*time.Second, c.Timing.MaxPriceAge)
	assert.Equal(t, time.Hour, c.Timing.EpochLength)
	require.Len(t, c.Underlyings, 2)
	require.Len(t, c.Markets, 2)

	btc := c.Markets[0]
	assert.Equal(t, "USDC", btc.CollateralAsset)
	assert.Equal(t, uint64(1798185600000), btc.ExpiryMs)
	assert.Equal(t, []uint64{1500, 2500}, btc.Caps.TierImBps)
	assert.Equal(t, uint64(200), btc.Caps.PriceDeviationBps)

	eth := c.Markets[1]
	assert.Equal(t, "USDT", eth.CollateralAsset)
	assert.Zero(t, eth.ExpiryMs)

	cfg := c.RegistryConfig()
	assert.Equal(t, "feed-unxv", cfg.DiscountFeedID)
	assert.Equal(t, time.Hour, cfg.Timing.EpochLength)
}

func TestParse_Defaults(t *testing.T) {
	c, err := catalog.Parse([]byte("underlyings: []\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.Timing.MaxPriceAge)
	assert.Equal(t, 24*time.Hour, c.Timing.EpochLength)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad bps":            "fees:\n  taker_bps: 10001\n",
		"unknown underlying": "markets:\n  - symbol: X\n    underlying: SOL\n    margin: {initial_bps: 10, maintenance_bps: 5}\n",
		"duplicate market": `
underlyings: [{symbol: BTC, feed_id: f}]
markets:
  - {symbol: A, underlying: BTC, margin: {initial_bps: 10, maintenance_bps: 5}}
  - {symbol: A, underlying: BTC, margin: {initial_bps: 10, maintenance_bps: 5}}
`,
		"mm above im": `
underlyings: [{symbol: BTC, feed_id: f}]
markets:
  - {symbol: A, underlying: BTC, margin: {initial_bps: 10, maintenance_bps: 50}}
`,
		"unsorted tiers": `
underlyings: [{symbol: BTC, feed_id: f}]
markets:
  - symbol: A
    underlying: BTC
    margin: {initial_bps: 10, maintenance_bps: 5}
    caps: {tier_thresholds_1e6: [5, 1], tier_im_bps: [10, 20]}
`,
		"not yaml": "fees: [",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := catalog.Load(path)
	require.NoError(t, err)

	reg, tok, err := registry.New(c.RegistryConfig())
	require.NoError(t, err)
	v := venue.New(reg, tok, core.NewEngine(core.Config{}))

	listed, err := c.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-DEC26", "ETH-PERP"}, listed)

	// Applying again lists nothing new.
	listed, err = c.Apply(v)
	require.NoError(t, err)
	assert.Empty(t, listed)

	m, err := v.Market("ETH-PERP")
	require.NoError(t, err)
	assert.Equal(t, "USDT", m.CollateralAsset)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := catalog.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

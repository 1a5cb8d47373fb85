package oracle_test

import (
	"testing"
	"time"

	"UnxvFutures/internal/oracle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceFeed_Price1e6Scaling(t *testing.T) {
	cases := []struct {
		price int64
		expo  int32
		want  uint64
	}{
		{price: 6_512_345_678_901, expo: -8, want: 65_123_456_789},
		{price: 1, expo: 0, want: 1_000_000},
		{price: 42, expo: -6, want: 42},
		{price: 123, expo: -9, want: 0},
	}

	for _, tc := range cases {
		f := oracle.PriceFeed{Price: tc.price, Expo: tc.expo}
		got, err := f.Price1e6()
		if tc.want == 0 {
			require.ErrorIs(t, err, oracle.ErrInvalidPrice)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestPriceFeed_NegativePriceRejected(t *testing.T) {
	_, err := oracle.PriceFeed{Price: -5, Expo: 0}.Price1e6()
	require.ErrorIs(t, err, oracle.ErrInvalidPrice)
}

func TestPriceFeed_Validate(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	f := oracle.PriceFeed{FeedID: "BTC", Price: 1, PublishTime: now.Add(-30 * time.Second)}

	require.NoError(t, f.Validate("BTC", time.Minute, now))
	require.ErrorIs(t, f.Validate("ETH", time.Minute, now), oracle.ErrFeedMismatch)
	require.ErrorIs(t, f.Validate("BTC", 10*time.Second, now), oracle.ErrStalePrice)
	require.NoError(t, f.Validate("BTC", 0, now))

	future := oracle.PriceFeed{FeedID: "BTC", PublishTime: now.Add(time.Second)}
	assert.Zero(t, future.Age(now))
}

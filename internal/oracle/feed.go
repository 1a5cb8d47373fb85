package oracle

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrFeedMismatch = errors.New("price feed bound to a different symbol")
	ErrStalePrice   = errors.New("price feed is stale")
	ErrInvalidPrice = errors.New("price feed value is not a positive u64 at 1e6 scale")
)

// PriceFeed is a single reading handed to the engine by the price-feed
// collaborator. Value and exponent are trusted; FeedID and PublishTime are
// re-validated on every use.
type PriceFeed struct {
	FeedID      string    `json:"feed_id"` // bound symbol or feed id
	Price       int64     `json:"price"`
	Expo        int32     `json:"expo"`
	Confidence  uint64    `json:"conf"`
	PublishTime time.Time `json:"publish_time"`
}

// Price1e6 returns Price * 10^Expo scaled to 1e6 fixed point, rounded down.
func (f PriceFeed) Price1e6() (uint64, error) {
	d := decimal.New(f.Price, f.Expo).Shift(6).Floor()
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, d.String())
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, d.String())
	}
	return bi.Uint64(), nil
}

// Age returns how old the reading is at now. Readings stamped in the future have age 0.
func (f PriceFeed) Age(now time.Time) time.Duration {
	if f.PublishTime.After(now) {
		return 0
	}
	return now.Sub(f.PublishTime)
}

// Validate checks the symbol binding first, then freshness against maxAge.
// maxAge <= 0 disables the freshness check.
func (f PriceFeed) Validate(expectedFeedID string, maxAge time.Duration, now time.Time) error {
	if f.FeedID != expectedFeedID {
		return fmt.Errorf("%w: got %q, want %q", ErrFeedMismatch, f.FeedID, expectedFeedID)
	}
	if maxAge > 0 {
		if age := f.Age(now); age > maxAge {
			return fmt.Errorf("%w: age %s exceeds %s", ErrStalePrice, age, maxAge)
		}
	}
	return nil
}

// ValidatedPrice1e6 validates the reading and returns its 1e6 price.
func (f PriceFeed) ValidatedPrice1e6(expectedFeedID string, maxAge time.Duration, now time.Time) (uint64, error) {
	if err := f.Validate(expectedFeedID, maxAge, now); err != nil {
		return 0, err
	}
	return f.Price1e6()
}

package ledger

import (
	"errors"
	"fmt"
)

var ErrInsufficientCoin = errors.New("coin value too small")

// Coin is a caller-owned amount of one asset handed to the engine. The engine
// splits what it needs off a coin and returns the remainder as change.
type Coin struct {
	Asset string `json:"asset"`
	Value uint64 `json:"value"`
}

// NewCoin returns a coin holding value units of asset.
func NewCoin(asset string, value uint64) Coin {
	return Coin{Asset: asset, Value: value}
}

// Split takes amount off c and returns it as a new coin.
func (c *Coin) Split(amount uint64) (Coin, error) {
	if amount > c.Value {
		return Coin{}, fmt.Errorf("%w: %s have=%d need=%d", ErrInsufficientCoin, c.Asset, c.Value, amount)
	}
	c.Value -= amount
	return Coin{Asset: c.Asset, Value: amount}, nil
}

// IsZero reports whether the coin holds nothing.
func (c Coin) IsZero() bool {
	return c.Value == 0
}

package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side represents trade direction
type Side int32

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

// Opposite returns the other side. Flat stays flat.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// ParseSide accepts long/short and the buy/sell aliases.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "long", "buy":
		return SideLong, nil
	case "short", "sell":
		return SideShort, nil
	default:
		return SideFlat, fmt.Errorf("unknown side %q", s)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// FillAction classifies what a fill did to the trader's position.
type FillAction string

const (
	FillActionOpen     FillAction = "open"
	FillActionIncrease FillAction = "increase"
	FillActionReduce   FillAction = "reduce"
	FillActionClose    FillAction = "close"
	FillActionFlip     FillAction = "flip"
)

// VariationMargin is the observability record of a (partial) close.
type VariationMargin struct {
	FromPrice1e6 uint64 `json:"from_price_1e6"`
	ToPrice1e6   uint64 `json:"to_price_1e6"`
	QtyClosed    uint64 `json:"qty_closed"`
	PnLLoss      bool   `json:"pnl_loss"`
	PnLAmount    uint64 `json:"pnl_amount"`
}

// FillRecord is emitted for every applied fill with the exact fee breakdown.
// Idempotency key: fill_id.
type FillRecord struct {
	FillID   uuid.UUID  `json:"fill_id"`
	Market   string     `json:"market"`
	Trader   uuid.UUID  `json:"trader"`
	Side     Side       `json:"side"`
	Action   FillAction `json:"action"`
	Quantity uint64     `json:"quantity"`
	Price1e6 uint64     `json:"price_1e6"`
	IsMaker  bool       `json:"is_maker"`

	TakerBps           uint64 `json:"taker_bps"`
	Notional           uint64 `json:"notional"`
	Fee                uint64 `json:"fee"`
	FeeClamped         bool   `json:"fee_clamped"`
	MakerRebate        uint64 `json:"maker_rebate"`
	FeeAfterRebate     uint64 `json:"fee_after_rebate"`
	DiscountCollateral uint64 `json:"discount_collateral"`
	DiscountTokenUnits uint64 `json:"discount_token_units"`
	CollateralFeeFinal uint64 `json:"collateral_fee_final"`
	TreasuryShare      uint64 `json:"treasury_share"`
	BotShare           uint64 `json:"bot_share"`
	Epoch              uint64 `json:"epoch"`

	MarginLocked   uint64           `json:"margin_locked"`
	MarginReleased uint64           `json:"margin_released"`
	Payout         uint64           `json:"payout"`
	Shortfall      uint64           `json:"shortfall"`
	Variation      *VariationMargin `json:"variation,omitempty"`

	OpenInterest uint64    `json:"open_interest"`
	Volume       uint64    `json:"volume"`
	Timestamp    time.Time `json:"timestamp"`
}

func (f *FillRecord) IdempotencyKey() string { return f.FillID.String() }
func (f *FillRecord) RecordType() RecordType { return RecordTypeFill }
func (f *FillRecord) MarketID() string       { return f.Market }
func (f *FillRecord) OccurredAt() time.Time  { return f.Timestamp }

package ingestion

import (
	"UnxvFutures/internal/core"
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	fpmath "UnxvFutures/internal/math"
	"UnxvFutures/internal/oracle"
	"UnxvFutures/internal/venue"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names an inbound intent. It selects the decoder for a message.
type Kind string

const (
	KindFill               Kind = "fill"
	KindLiquidation        Kind = "liquidation"
	KindSettleMarket       Kind = "settle_market"
	KindSettlementRequest  Kind = "settlement_request"
	KindProcessSettlements Kind = "process_settlements"
)

// Command is a decoded intent ready to run against the venue.
type Command interface {
	Kind() Kind
	Apply(v *venue.Venue) (any, error)
}

// Parse decodes data as an intent of the given kind. received is the
// operation time.
func Parse(kind Kind, data []byte, received time.Time) (Command, error) {
	switch kind {
	case KindFill:
		return DecodeFill(data, received)
	case KindLiquidation:
		return DecodeLiquidation(data, received)
	case KindSettleMarket:
		return DecodeSettleMarket(data, received)
	case KindSettlementRequest:
		return DecodeSettlementRequest(data, received)
	case KindProcessSettlements:
		return DecodeProcessSettlements(data, received)
	default:
		return nil, fmt.Errorf("unknown intent kind: %s", kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Prices are 1e6
// fixed point, timestamps are epoch milliseconds and never ahead of receipt.

type fillJSON struct {
	FillID          string            `json:"fill_id"`
	Trader          string            `json:"trader"`
	Market          string            `json:"market"`
	Side            event.Side        `json:"side"`
	Quantity        uint64            `json:"quantity"`
	Price1e6        uint64            `json:"price_1e6"`
	MinPrice1e6     uint64            `json:"min_price_1e6"`
	MaxPrice1e6     uint64            `json:"max_price_1e6"` // 0 means unbounded
	IsMaker         bool              `json:"is_maker"`
	UnderlyingFeed  oracle.PriceFeed  `json:"underlying_feed"`
	DiscountPayment *ledger.Coin      `json:"discount_payment,omitempty"`
	DiscountFeed    *oracle.PriceFeed `json:"discount_feed,omitempty"`
	FeeCoin         ledger.Coin       `json:"fee_coin"`
	MarginCoin      ledger.Coin       `json:"margin_coin"`
	TimestampMs     int64             `json:"timestamp_ms"`
}

// FillCommand records one matched trade.
type FillCommand struct {
	MarketID string
	Input    core.FillInput
}

func (c *FillCommand) Kind() Kind { return KindFill }
func (c *FillCommand) Apply(v *venue.Venue) (any, error) {
	return v.RecordFill(c.MarketID, c.Input)
}

func DecodeFill(data []byte, received time.Time) (*FillCommand, error) {
	var j fillJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse fill: %w", err)
	}
	now, err := opTime(j.TimestampMs, received)
	if err != nil {
		return nil, fmt.Errorf("parse fill: %w", err)
	}

	fillID, err := uuid.Parse(j.FillID)
	if err != nil {
		return nil, fmt.Errorf("parse fill_id: %w", err)
	}
	trader, err := uuid.Parse(j.Trader)
	if err != nil {
		return nil, fmt.Errorf("parse trader: %w", err)
	}
	if j.Side == event.SideFlat {
		return nil, fmt.Errorf("parse fill: side is required")
	}

	maxPrice := j.MaxPrice1e6
	if maxPrice == 0 {
		maxPrice = fpmath.MaxU64
	}

	return &FillCommand{
		MarketID: j.Market,
		Input: core.FillInput{
			FillID:          fillID,
			Trader:          trader,
			Side:            j.Side,
			Quantity:        j.Quantity,
			Price1e6:        j.Price1e6,
			MinPrice1e6:     j.MinPrice1e6,
			MaxPrice1e6:     maxPrice,
			IsMaker:         j.IsMaker,
			UnderlyingFeed:  j.UnderlyingFeed,
			DiscountPayment: j.DiscountPayment,
			DiscountFeed:    j.DiscountFeed,
			FeeCoin:         j.FeeCoin,
			MarginCoin:      j.MarginCoin,
			Now:             now,
		},
	}, nil
}

type liquidationJSON struct {
	LiquidationID string           `json:"liquidation_id"`
	Owner         string           `json:"owner"`
	Keeper        string           `json:"keeper"`
	Market        string           `json:"market"`
	Quantity      uint64           `json:"quantity"` // 0 closes the whole position
	Feed          oracle.PriceFeed `json:"feed"`
	TimestampMs   int64            `json:"timestamp_ms"`
}

// LiquidationCommand force-closes an under-margined position.
type LiquidationCommand struct {
	MarketID string
	Input    core.LiquidationInput
}

func (c *LiquidationCommand) Kind() Kind { return KindLiquidation }
func (c *LiquidationCommand) Apply(v *venue.Venue) (any, error) {
	return v.Liquidate(c.MarketID, c.Input)
}

func DecodeLiquidation(data []byte, received time.Time) (*LiquidationCommand, error) {
	var j liquidationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse liquidation: %w", err)
	}
	now, err := opTime(j.TimestampMs, received)
	if err != nil {
		return nil, fmt.Errorf("parse liquidation: %w", err)
	}

	var liqID uuid.UUID
	if j.LiquidationID != "" {
		id, err := uuid.Parse(j.LiquidationID)
		if err != nil {
			return nil, fmt.Errorf("parse liquidation_id: %w", err)
		}
		liqID = id
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	keeper, err := uuid.Parse(j.Keeper)
	if err != nil {
		return nil, fmt.Errorf("parse keeper: %w", err)
	}

	return &LiquidationCommand{
		MarketID: j.Market,
		Input: core.LiquidationInput{
			LiquidationID: liqID,
			Owner:         owner,
			Keeper:        keeper,
			Quantity:      j.Quantity,
			Feed:          j.Feed,
			Now:           now,
		},
	}, nil
}

type settleMarketJSON struct {
	Market      string           `json:"market"`
	Feed        oracle.PriceFeed `json:"feed"`
	TimestampMs int64            `json:"timestamp_ms"`
}

// SettleMarketCommand writes a market's final settlement price.
type SettleMarketCommand struct {
	MarketID string
	Feed     oracle.PriceFeed
	Now      time.Time
}

func (c *SettleMarketCommand) Kind() Kind { return KindSettleMarket }
func (c *SettleMarketCommand) Apply(v *venue.Venue) (any, error) {
	return v.SettleMarket(c.MarketID, c.Feed, c.Now)
}

func DecodeSettleMarket(data []byte, received time.Time) (*SettleMarketCommand, error) {
	var j settleMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse settle_market: %w", err)
	}
	now, err := opTime(j.TimestampMs, received)
	if err != nil {
		return nil, fmt.Errorf("parse settle_market: %w", err)
	}
	return &SettleMarketCommand{
		MarketID: j.Market,
		Feed:     j.Feed,
		Now:      now,
	}, nil
}

type settlementRequestJSON struct {
	Market      string `json:"market"`
	Requester   string `json:"requester"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// SettlementRequestCommand queues a settlement request for a settled market.
type SettlementRequestCommand struct {
	MarketID  string
	Requester uuid.UUID
	Now       time.Time
}

func (c *SettlementRequestCommand) Kind() Kind { return KindSettlementRequest }
func (c *SettlementRequestCommand) Apply(v *venue.Venue) (any, error) {
	return v.RequestSettlement(c.MarketID, c.Requester, c.Now)
}

func DecodeSettlementRequest(data []byte, received time.Time) (*SettlementRequestCommand, error) {
	var j settlementRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse settlement_request: %w", err)
	}
	now, err := opTime(j.TimestampMs, received)
	if err != nil {
		return nil, fmt.Errorf("parse settlement_request: %w", err)
	}
	requester, err := uuid.Parse(j.Requester)
	if err != nil {
		return nil, fmt.Errorf("parse requester: %w", err)
	}
	return &SettlementRequestCommand{
		MarketID:  j.Market,
		Requester: requester,
		Now:       now,
	}, nil
}

type processSettlementsJSON struct {
	Markets     []string `json:"markets"` // empty processes every market
	Keeper      string   `json:"keeper"`
	TimestampMs int64    `json:"timestamp_ms"`
}

// ProcessSettlementsCommand is a keeper pass over due settlement requests.
type ProcessSettlementsCommand struct {
	MarketIDs []string
	Keeper    uuid.UUID
	Now       time.Time
}

func (c *ProcessSettlementsCommand) Kind() Kind { return KindProcessSettlements }
func (c *ProcessSettlementsCommand) Apply(v *venue.Venue) (any, error) {
	return v.ProcessDueSettlements(c.MarketIDs, c.Keeper, c.Now)
}

func DecodeProcessSettlements(data []byte, received time.Time) (*ProcessSettlementsCommand, error) {
	var j processSettlementsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse process_settlements: %w", err)
	}
	now, err := opTime(j.TimestampMs, received)
	if err != nil {
		return nil, fmt.Errorf("parse process_settlements: %w", err)
	}
	keeper, err := uuid.Parse(j.Keeper)
	if err != nil {
		return nil, fmt.Errorf("parse keeper: %w", err)
	}
	return &ProcessSettlementsCommand{
		MarketIDs: j.Markets,
		Keeper:    keeper,
		Now:       now,
	}, nil
}

// maxClockSkew bounds how far a producer's timestamp_ms may run ahead of
// receipt before the intent is rejected.
const maxClockSkew = 2 * time.Second

// opTime returns the operation time, which is always the receipt time so the
// sender cannot move the expiry gate or the point epoch. timestamp_ms is only
// checked against it.
func opTime(ms int64, received time.Time) (time.Time, error) {
	if ms != 0 && time.UnixMilli(ms).After(received.Add(maxClockSkew)) {
		return time.Time{}, fmt.Errorf("timestamp_ms %d is ahead of receipt time %d", ms, received.UnixMilli())
	}
	return received.UTC(), nil
}

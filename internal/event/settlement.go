package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MarketSettled is emitted once when a market's final price is written.
// Idempotency key: market:settled.
type MarketSettled struct {
	Market             string    `json:"market"`
	FeedID             string    `json:"feed_id"`
	SettlementPrice1e6 uint64    `json:"settlement_price_1e6"`
	OpenInterest       uint64    `json:"open_interest"`
	Timestamp          time.Time `json:"timestamp"`
}

func (m *MarketSettled) IdempotencyKey() string { return fmt.Sprintf("%s:settled", m.Market) }
func (m *MarketSettled) RecordType() RecordType { return RecordTypeMarketSettled }
func (m *MarketSettled) MarketID() string       { return m.Market }
func (m *MarketSettled) OccurredAt() time.Time  { return m.Timestamp }

// PositionSettled is emitted per position closed at the settlement price.
type PositionSettled struct {
	Market             string          `json:"market"`
	Owner              uuid.UUID       `json:"owner"`
	Keeper             uuid.UUID       `json:"keeper"`
	Side               Side            `json:"side"`
	SettlementPrice1e6 uint64          `json:"settlement_price_1e6"`
	MarginReleased     uint64          `json:"margin_released"`
	Payout             uint64          `json:"payout"`
	Shortfall          uint64          `json:"shortfall"`
	Variation          VariationMargin `json:"variation"`
	// KeeperPoints is credited to Keeper in PointsEpoch.
	PointsEpoch  uint64    `json:"points_epoch"`
	KeeperPoints uint64    `json:"keeper_points"`
	Timestamp    time.Time `json:"timestamp"`
}

func (p *PositionSettled) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:settled", p.Market, p.Owner)
}
func (p *PositionSettled) RecordType() RecordType { return RecordTypePositionSettled }
func (p *PositionSettled) MarketID() string       { return p.Market }
func (p *PositionSettled) OccurredAt() time.Time  { return p.Timestamp }

// SettlementRequested is emitted when a request is queued.
type SettlementRequested struct {
	RequestID    uuid.UUID `json:"request_id"`
	Market       string    `json:"market"`
	Requester    uuid.UUID `json:"requester"`
	RequestEpoch uint64    `json:"request_epoch"`
	// RequesterPoints is credited to Requester in RequestEpoch.
	RequesterPoints uint64    `json:"requester_points"`
	Timestamp       time.Time `json:"timestamp"`
}

func (s *SettlementRequested) IdempotencyKey() string { return s.RequestID.String() }
func (s *SettlementRequested) RecordType() RecordType { return RecordTypeSettlementRequested }
func (s *SettlementRequested) MarketID() string       { return s.Market }
func (s *SettlementRequested) OccurredAt() time.Time  { return s.Timestamp }

// SettlementProcessed is emitted when a keeper consumes a queued request.
type SettlementProcessed struct {
	RequestID    uuid.UUID `json:"request_id"`
	Market       string    `json:"market"`
	Requester    uuid.UUID `json:"requester"`
	Keeper       uuid.UUID `json:"keeper"`
	RequestEpoch uint64    `json:"request_epoch"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *SettlementProcessed) IdempotencyKey() string {
	return fmt.Sprintf("%s:processed", s.RequestID)
}
func (s *SettlementProcessed) RecordType() RecordType { return RecordTypeSettlementProcessed }
func (s *SettlementProcessed) MarketID() string       { return s.Market }
func (s *SettlementProcessed) OccurredAt() time.Time  { return s.Timestamp }

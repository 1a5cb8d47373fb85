package event

import (
	"time"

	"github.com/google/uuid"
)

// LiquidationRecord is emitted when a keeper force-closes an under-margined position.
type LiquidationRecord struct {
	LiquidationID uuid.UUID `json:"liquidation_id"`
	Market        string    `json:"market"`
	Owner         uuid.UUID `json:"owner"`
	Keeper        uuid.UUID `json:"keeper"`
	Side          Side      `json:"side"`
	Price1e6      uint64    `json:"price_1e6"`
	QtyClosed     uint64    `json:"qty_closed"`
	QtyRemaining  uint64    `json:"qty_remaining"`

	Equity            uint64 `json:"equity"`
	MaintenanceMargin uint64 `json:"maintenance_margin"`
	MarginReleased    uint64 `json:"margin_released"`
	Fee               uint64 `json:"fee"`
	KeeperShare       uint64 `json:"keeper_share"`
	TreasuryShare     uint64 `json:"treasury_share"`
	OwnerPayout       uint64 `json:"owner_payout"`
	// Shortfall is the loss the closed slice could not cover (bad debt).
	Shortfall uint64 `json:"shortfall"`

	Variation    VariationMargin `json:"variation"`
	OpenInterest uint64          `json:"open_interest"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (l *LiquidationRecord) IdempotencyKey() string { return l.LiquidationID.String() }
func (l *LiquidationRecord) RecordType() RecordType { return RecordTypeLiquidation }
func (l *LiquidationRecord) MarketID() string       { return l.Market }
func (l *LiquidationRecord) OccurredAt() time.Time  { return l.Timestamp }

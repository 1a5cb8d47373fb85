package event

import (
	"time"
)

// RecordType discriminator for emitted records
type RecordType int32

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeFill
	RecordTypeLiquidation
	RecordTypeMarketSettled
	RecordTypePositionSettled
	RecordTypeSettlementRequested
	RecordTypeSettlementProcessed
)

// RecordEnvelope wraps every record in the output log
type RecordEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64 `json:"sequence"`

	// Stable idempotency key of the operation that produced the record
	IdempotencyKey string `json:"idempotency_key"`

	RecordType RecordType `json:"record_type"`

	MarketID string `json:"market_id"`

	// Operation time supplied by the caller
	Timestamp time.Time `json:"timestamp"`

	// JSON-encoded record
	Payload []byte `json:"payload"`

	// SHA-256 of state AFTER applying the operation
	StateHash [32]byte `json:"state_hash"`

	// Previous record's state hash (chain integrity)
	PrevHash [32]byte `json:"prev_hash"`
}

// Record is the interface all emitted records implement
type Record interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// RecordType returns the discriminator
	RecordType() RecordType

	// MarketID returns the market context
	MarketID() string

	// OccurredAt returns the operation time
	OccurredAt() time.Time
}

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeFill:
		return "Fill"
	case RecordTypeLiquidation:
		return "Liquidation"
	case RecordTypeMarketSettled:
		return "MarketSettled"
	case RecordTypePositionSettled:
		return "PositionSettled"
	case RecordTypeSettlementRequested:
		return "SettlementRequested"
	case RecordTypeSettlementProcessed:
		return "SettlementProcessed"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject token for the record type.
func (rt RecordType) Subject() string {
	switch rt {
	case RecordTypeFill:
		return "fill"
	case RecordTypeLiquidation:
		return "liquidation"
	case RecordTypeMarketSettled:
		return "market_settled"
	case RecordTypePositionSettled:
		return "position_settled"
	case RecordTypeSettlementRequested:
		return "settlement_requested"
	case RecordTypeSettlementProcessed:
		return "settlement_processed"
	default:
		return "unknown"
	}
}

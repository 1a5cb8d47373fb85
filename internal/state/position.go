package state

import (
	"UnxvFutures/internal/event"

	"github.com/google/uuid"
)

// PositionStatus tracks the position lifecycle
type PositionStatus int32

const (
	PositionStatusOpen PositionStatus = iota
	PositionStatusPartiallyClosed
	PositionStatusClosed
	PositionStatusLiquidated
	PositionStatusSettled
)

// Position is an account's net exposure in one market. Margin is the
// collateral locked in the market vault on its behalf.
type Position struct {
	Owner         uuid.UUID
	MarketID      string
	Side          event.Side
	Quantity      uint64
	EntryPrice1e6 uint64
	Margin        uint64
	Status        PositionStatus
	Version       int64 // Optimistic concurrency control
}

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusOpen:
		return "Open"
	case PositionStatusPartiallyClosed:
		return "PartiallyClosed"
	case PositionStatusClosed:
		return "Closed"
	case PositionStatusLiquidated:
		return "Liquidated"
	case PositionStatusSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusOpen: {
			PositionStatusOpen, // Increase
			PositionStatusPartiallyClosed,
			PositionStatusClosed,
			PositionStatusLiquidated,
			PositionStatusSettled,
		},
		PositionStatusPartiallyClosed: {
			PositionStatusPartiallyClosed, // Multiple partial closes
			PositionStatusOpen,            // Increased again
			PositionStatusClosed,
			PositionStatusLiquidated,
			PositionStatusSettled,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// IsTerminal reports whether the position is gone.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated || s == PositionStatusSettled
}

// IsFlat returns true if position has no exposure
func (p *Position) IsFlat() bool {
	return p.Side == event.SideFlat || p.Quantity == 0
}

// IsLong reports whether the position profits from a rising price.
func (p *Position) IsLong() bool {
	return p.Side == event.SideLong
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	// owner (16 bytes UUID binary)
	buf = append(buf, p.Owner[:]...)

	// market_id (length-prefixed)
	buf = append(buf, byte(len(p.MarketID)))
	buf = append(buf, []byte(p.MarketID)...)

	buf = append(buf, byte(p.Side))
	buf = appendUint64LE(buf, p.Quantity)
	buf = appendUint64LE(buf, p.EntryPrice1e6)
	buf = appendUint64LE(buf, p.Margin)
	buf = append(buf, byte(p.Status))

	return buf
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

package state

import (
	"UnxvFutures/internal/event"
	fpmath "UnxvFutures/internal/math"
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var ErrInvalidTransition = errors.New("invalid position status transition")

// PositionLedger holds one net position per (owner, market).
type PositionLedger struct {
	positions map[PositionKey]*Position
}

type PositionKey struct {
	Owner    uuid.UUID
	MarketID string
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[PositionKey]*Position),
	}
}

// Get returns the live position or nil
func (pl *PositionLedger) Get(owner uuid.UUID, marketID string) *Position {
	return pl.positions[PositionKey{Owner: owner, MarketID: marketID}]
}

// Open creates a new position, replacing any terminal one under the same key.
func (pl *PositionLedger) Open(owner uuid.UUID, marketID string, side event.Side, qty, price1e6, margin uint64) *Position {
	pos := &Position{
		Owner:         owner,
		MarketID:      marketID,
		Side:          side,
		Quantity:      qty,
		EntryPrice1e6: price1e6,
		Margin:        margin,
		Status:        PositionStatusOpen,
		Version:       1,
	}
	pl.positions[PositionKey{Owner: owner, MarketID: marketID}] = pos
	return pos
}

// Increase adds qty at price to a same-side position using a weighted-average
// entry price and locks addMargin on top of the existing margin.
func (pl *PositionLedger) Increase(pos *Position, qty, price1e6, addMargin uint64) error {
	if err := pl.transition(pos, PositionStatusOpen); err != nil {
		return err
	}
	pos.EntryPrice1e6 = fpmath.ComputeAvgEntryPrice(pos.Quantity, pos.EntryPrice1e6, qty, price1e6)
	pos.Quantity = fpmath.SaturatingAdd(pos.Quantity, qty)
	pos.Margin = fpmath.SaturatingAdd(pos.Margin, addMargin)
	pos.Version++
	return nil
}

// MarginFor returns the margin attributable to closing qty of pos, pro rata.
// Closing the whole quantity returns all of it.
func MarginFor(pos *Position, qty uint64) uint64 {
	if qty >= pos.Quantity {
		return pos.Margin
	}
	num := new(uint256.Int).Mul(uint256.NewInt(pos.Margin), uint256.NewInt(qty))
	return fpmath.DivRound(num, uint256.NewInt(pos.Quantity), fpmath.RoundDown)
}

// Reduce closes qty of pos and returns the margin released. Closing the full
// quantity moves the position to terminal and removes it.
func (pl *PositionLedger) Reduce(pos *Position, qty uint64, terminal PositionStatus) (uint64, error) {
	if qty == 0 || qty > pos.Quantity {
		return 0, fmt.Errorf("cannot close %d of position with quantity %d", qty, pos.Quantity)
	}

	next := PositionStatusPartiallyClosed
	if qty == pos.Quantity {
		next = terminal
	}
	if err := pl.transition(pos, next); err != nil {
		return 0, err
	}

	released := MarginFor(pos, qty)
	pos.Quantity -= qty
	pos.Margin -= released
	pos.Version++

	if pos.Status.IsTerminal() {
		delete(pl.positions, PositionKey{Owner: pos.Owner, MarketID: pos.MarketID})
	}
	return released, nil
}

func (pl *PositionLedger) transition(pos *Position, next PositionStatus) error {
	if !pos.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, pos.Status, next)
	}
	pos.Status = next
	return nil
}

// Restore inserts a copy of a live position taken from a snapshot.
func (pl *PositionLedger) Restore(pos Position) error {
	if pos.Status.IsTerminal() || pos.Quantity == 0 {
		return fmt.Errorf("cannot restore %s position of %s in %s", pos.Status, pos.Owner, pos.MarketID)
	}
	key := PositionKey{Owner: pos.Owner, MarketID: pos.MarketID}
	if _, exists := pl.positions[key]; exists {
		return fmt.Errorf("position of %s in %s already present", pos.Owner, pos.MarketID)
	}
	pl.positions[key] = &pos
	return nil
}

// MarketPositions returns the live positions of a market ordered by owner.
func (pl *PositionLedger) MarketPositions(marketID string) []*Position {
	result := make([]*Position, 0)
	for key, pos := range pl.positions {
		if key.MarketID == marketID {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Owner[:], result[j].Owner[:]) < 0
	})
	return result
}

// MarketQuantity sums absolute position quantities in a market, saturating.
func (pl *PositionLedger) MarketQuantity(marketID string) uint64 {
	var total uint64
	for key, pos := range pl.positions {
		if key.MarketID == marketID {
			total = fpmath.SaturatingAdd(total, pos.Quantity)
		}
	}
	return total
}

// All returns every live position ordered by market, then owner.
func (pl *PositionLedger) All() []*Position {
	result := make([]*Position, 0, len(pl.positions))
	for _, pos := range pl.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID != result[j].MarketID {
			return result[i].MarketID < result[j].MarketID
		}
		return bytes.Compare(result[i].Owner[:], result[j].Owner[:]) < 0
	})
	return result
}

// OwnerPositions returns all live positions of an owner
func (pl *PositionLedger) OwnerPositions(owner uuid.UUID) []*Position {
	result := make([]*Position, 0)
	for key, pos := range pl.positions {
		if key.Owner == owner {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].MarketID < result[j].MarketID
	})
	return result
}

// Len returns the number of live positions
func (pl *PositionLedger) Len() int {
	return len(pl.positions)
}

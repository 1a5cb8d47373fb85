package venue

import (
	"UnxvFutures/internal/core"
	"UnxvFutures/internal/state"
	"fmt"
	"time"
)

// Snapshot is the full venue state: markets plus everything the engine owns.
// Registry configuration is not included; it comes from the environment.
type Snapshot struct {
	Markets []state.Snapshot `json:"markets"`
	Engine  *core.Snapshot   `json:"engine"`
	TakenAt time.Time        `json:"taken_at"`
}

// Snapshot captures a consistent view of the venue.
func (v *Venue) Snapshot(now time.Time) *Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := &Snapshot{
		Markets: make([]state.Snapshot, 0, len(v.markets)),
		Engine:  v.engine.Snapshot(),
		TakenAt: now,
	}
	for _, id := range v.sortedIDs() {
		snap.Markets = append(snap.Markets, v.markets[id].Snapshot())
	}
	return snap
}

// Restore loads a snapshot into a venue that has no markets yet. Underlyings
// referenced by the snapshot must already be whitelisted.
func (v *Venue) Restore(snap *Snapshot) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.markets) > 0 {
		return fmt.Errorf("restore requires a venue without markets")
	}
	if snap.Engine == nil {
		return fmt.Errorf("snapshot has no engine state")
	}

	markets := make(map[string]*state.MarketState, len(snap.Markets))
	for _, ms := range snap.Markets {
		m, err := state.RestoreMarket(v.tok, v.reg, ms)
		if err != nil {
			return fmt.Errorf("restore market %s: %w", ms.Symbol, err)
		}
		markets[m.ID()] = m
	}
	if err := v.engine.Restore(snap.Engine); err != nil {
		return err
	}
	v.markets = markets

	v.logger.Info().
		Int("markets", len(markets)).
		Int64("sequence", snap.Engine.Sequence).
		Time("taken_at", snap.TakenAt).
		Msg("venue restored")
	return nil
}

// HasMarket reports whether a symbol is listed.
func (v *Venue) HasMarket(marketID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.markets[marketID]
	return ok
}

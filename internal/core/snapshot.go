package core

import (
	"UnxvFutures/internal/ledger"
	"UnxvFutures/internal/state"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Snapshot is the engine-owned state needed to resume after a restart.
// Markets and the registry are snapshotted by their owner.
type Snapshot struct {
	Sequence        int64                     `json:"sequence"`
	StateHash       string                    `json:"state_hash"`
	Balances        []ledger.BalanceEntry     `json:"balances"`
	Flows           []ledger.FlowEntry        `json:"flows"`
	Positions       []state.Position          `json:"positions"`
	Queue           []state.SettlementRequest `json:"queue"`
	Points          []PointsEntry             `json:"points"`
	IdempotencyKeys []string                  `json:"idempotency_keys"`
}

// PointsEntry is one actor's points in one epoch.
type PointsEntry struct {
	Epoch  uint64    `json:"epoch"`
	Actor  uuid.UUID `json:"actor"`
	Points uint64    `json:"points"`
}

// Snapshot captures the engine state at the current sequence.
func (e *Engine) Snapshot() *Snapshot {
	tip := e.hasher.GetPrevHash()
	snap := &Snapshot{
		Sequence:        e.sequence,
		StateHash:       hex.EncodeToString(tip[:]),
		Balances:        e.balances.Entries(),
		Flows:           e.balances.Flows(),
		Queue:           e.queue.Pending(),
		IdempotencyKeys: e.idempotency.Keys(),
	}
	for _, pos := range e.positions.All() {
		snap.Positions = append(snap.Positions, *pos)
	}
	for _, epoch := range e.points.EpochIDs() {
		for actor, pts := range e.points.Actors(epoch) {
			snap.Points = append(snap.Points, PointsEntry{Epoch: epoch, Actor: actor, Points: pts})
		}
	}
	return snap
}

// Restore loads a snapshot into a freshly created engine.
func (e *Engine) Restore(snap *Snapshot) error {
	if e.sequence != 0 || e.positions.Len() > 0 || e.queue.Len() > 0 {
		return fmt.Errorf("restore requires an empty engine")
	}

	raw, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("snapshot state hash %q is not 32 hex bytes", snap.StateHash)
	}
	var tip [32]byte
	copy(tip[:], raw)

	if err := e.balances.Restore(snap.Balances, snap.Flows); err != nil {
		return fmt.Errorf("restore balances: %w", err)
	}
	for _, pos := range snap.Positions {
		if err := e.positions.Restore(pos); err != nil {
			return fmt.Errorf("restore positions: %w", err)
		}
	}
	for _, req := range snap.Queue {
		if err := e.queue.Restore(req); err != nil {
			return fmt.Errorf("restore queue: %w", err)
		}
	}
	for _, p := range snap.Points {
		e.points.Credit(p.Epoch, p.Actor, p.Points)
	}
	e.idempotency.Warm(snap.IdempotencyKeys)
	e.RestoreChain(snap.Sequence, tip)

	e.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("positions", len(snap.Positions)).
		Int("queued", len(snap.Queue)).
		Msg("engine restored from snapshot")
	return nil
}

package core

import (
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	opRequestSettlement = "request_settlement"
	opProcessSettlement = "process_settlements"
)

// ProcessResult summarizes one ProcessDueSettlements call.
type ProcessResult struct {
	RequestsConsumed int
	PositionsSettled int
	KeeperPoints     uint64
	// Skipped lists markets that were not settled or had nothing due.
	Skipped   []string
	Processed []*event.SettlementProcessed
	Positions []*event.PositionSettled
}

// RequestSettlement queues (market, requester, epoch) once the market is
// settled and credits the requester one point in that epoch. A requester
// holds at most one pending request per market.
func (e *Engine) RequestSettlement(reg *registry.RiskRegistry, m *state.MarketState, requester uuid.UUID, now time.Time) (*event.SettlementRequested, error) {
	start := time.Now()

	if reg.Paused() {
		return nil, e.reject(opRequestSettlement, ErrRegistryPaused)
	}
	if m.Status() != state.MarketStatusSettled {
		return nil, e.reject(opRequestSettlement, fmt.Errorf("%w: %s", ErrMarketNotSettled, m.ID()))
	}

	epoch := reg.Epoch(now)
	req, err := e.queue.Enqueue(m.ID(), requester, epoch, now)
	if err != nil {
		if errors.Is(err, state.ErrDuplicateRequest) {
			return nil, e.reject(opRequestSettlement, fmt.Errorf("%w: %w", ErrDuplicateRequest, err))
		}
		return nil, e.reject(opRequestSettlement, err)
	}

	credited := e.points.Credit(epoch, requester, 1)

	rec := &event.SettlementRequested{
		RequestID:       req.ID,
		Market:          m.ID(),
		Requester:       requester,
		RequestEpoch:    epoch,
		RequesterPoints: credited,
		Timestamp:       now,
	}
	e.emit(rec, nil)

	if e.metrics != nil {
		e.metrics.QueueDepth.Set(float64(e.queue.Len()))
		e.metrics.PointsCredited.WithLabelValues("requester").Add(float64(credited))
	}
	e.observe(opRequestSettlement, start)
	return rec, nil
}

// ProcessDueSettlements drains queued requests for the given markets. For
// each market with requests due it settles every live position at the
// settlement price (one keeper point per position), then consumes each
// request exactly once. Markets repeated in the list, unsettled markets and
// markets with nothing due are skipped, so overlapping calls never
// double-credit.
func (e *Engine) ProcessDueSettlements(reg *registry.RiskRegistry, markets []*state.MarketState, keeper uuid.UUID, now time.Time) (*ProcessResult, error) {
	start := time.Now()

	if reg.Paused() {
		return nil, e.reject(opProcessSettlement, ErrRegistryPaused)
	}

	res := &ProcessResult{}
	epoch := reg.Epoch(now)
	seen := make(map[string]bool, len(markets))

	// Resolve every market's work before committing any of it, so a bad
	// market rejects the whole call with nothing settled.
	type work struct {
		m          *state.MarketState
		collateral ledger.AssetID
		due        []*state.SettlementRequest
	}
	var plan []work
	for _, m := range markets {
		if seen[m.ID()] {
			continue
		}
		seen[m.ID()] = true

		due := e.queue.Due(m.ID())
		if m.Status() != state.MarketStatusSettled || len(due) == 0 {
			res.Skipped = append(res.Skipped, m.ID())
			continue
		}
		collateral, err := collateralAsset(m)
		if err != nil {
			return nil, e.reject(opProcessSettlement, err)
		}
		plan = append(plan, work{m: m, collateral: collateral, due: due})
	}

	for _, w := range plan {
		m, due := w.m, w.due
		for _, pos := range e.positions.MarketPositions(m.ID()) {
			rec := e.settlePosition(m, w.collateral, pos, keeper, epoch, now)
			res.PositionsSettled++
			res.KeeperPoints += rec.KeeperPoints
			res.Positions = append(res.Positions, rec)
		}

		for _, req := range due {
			if !e.queue.Consume(req.ID) {
				continue
			}

			rec := &event.SettlementProcessed{
				RequestID:    req.ID,
				Market:       m.ID(),
				Requester:    req.Requester,
				Keeper:       keeper,
				RequestEpoch: req.RequestEpoch,
				Timestamp:    now,
			}
			e.emit(rec, nil)

			res.RequestsConsumed++
			res.Processed = append(res.Processed, rec)
		}
	}

	if e.metrics != nil {
		e.metrics.QueueDepth.Set(float64(e.queue.Len()))
	}
	e.observe(opProcessSettlement, start)
	return res, nil
}

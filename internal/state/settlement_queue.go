package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrDuplicateRequest = errors.New("settlement already requested")

// SettlementRequest is a queued (market, requester, epoch) entry. It is
// consumed exactly once.
type SettlementRequest struct {
	ID           uuid.UUID
	MarketID     string
	Requester    uuid.UUID
	RequestEpoch uint64
	RequestedAt  time.Time
	Consumed     bool
}

type pendingKey struct {
	MarketID  string
	Requester uuid.UUID
}

// SettlementQueue keeps requests in arrival order. A requester can hold at
// most one pending request per market.
type SettlementQueue struct {
	entries map[uuid.UUID]*SettlementRequest
	pending map[pendingKey]uuid.UUID
	order   []uuid.UUID
}

func NewSettlementQueue() *SettlementQueue {
	return &SettlementQueue{
		entries: make(map[uuid.UUID]*SettlementRequest),
		pending: make(map[pendingKey]uuid.UUID),
	}
}

// Enqueue appends a request unless the requester already has one pending for the market.
func (q *SettlementQueue) Enqueue(marketID string, requester uuid.UUID, epoch uint64, at time.Time) (*SettlementRequest, error) {
	key := pendingKey{MarketID: marketID, Requester: requester}
	if id, ok := q.pending[key]; ok {
		return nil, fmt.Errorf("%w: request %s for %s", ErrDuplicateRequest, id, marketID)
	}

	req := &SettlementRequest{
		ID:           uuid.New(),
		MarketID:     marketID,
		Requester:    requester,
		RequestEpoch: epoch,
		RequestedAt:  at,
	}
	q.entries[req.ID] = req
	q.pending[key] = req.ID
	q.order = append(q.order, req.ID)
	return req, nil
}

// Due returns the unconsumed requests of a market in arrival order.
func (q *SettlementQueue) Due(marketID string) []*SettlementRequest {
	result := make([]*SettlementRequest, 0)
	for _, id := range q.order {
		req := q.entries[id]
		if req.MarketID == marketID && !req.Consumed {
			result = append(result, req)
		}
	}
	return result
}

// Consume marks a request consumed and removes it from the queue. It returns
// false if the request is unknown or was already consumed.
func (q *SettlementQueue) Consume(id uuid.UUID) bool {
	req, ok := q.entries[id]
	if !ok || req.Consumed {
		return false
	}
	req.Consumed = true
	delete(q.pending, pendingKey{MarketID: req.MarketID, Requester: req.Requester})
	delete(q.entries, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Pending returns copies of every queued request in arrival order.
func (q *SettlementQueue) Pending() []SettlementRequest {
	result := make([]SettlementRequest, 0, len(q.order))
	for _, id := range q.order {
		result = append(result, *q.entries[id])
	}
	return result
}

// Restore re-queues a request taken from a snapshot, keeping its id.
func (q *SettlementQueue) Restore(req SettlementRequest) error {
	if req.Consumed {
		return fmt.Errorf("request %s already consumed", req.ID)
	}
	key := pendingKey{MarketID: req.MarketID, Requester: req.Requester}
	if id, ok := q.pending[key]; ok {
		return fmt.Errorf("%w: request %s for %s", ErrDuplicateRequest, id, req.MarketID)
	}
	if _, ok := q.entries[req.ID]; ok {
		return fmt.Errorf("request %s already queued", req.ID)
	}
	q.entries[req.ID] = &req
	q.pending[key] = req.ID
	q.order = append(q.order, req.ID)
	return nil
}

// Get returns a queued request or nil
func (q *SettlementQueue) Get(id uuid.UUID) *SettlementRequest {
	return q.entries[id]
}

// Len returns the number of pending requests
func (q *SettlementQueue) Len() int {
	return len(q.entries)
}

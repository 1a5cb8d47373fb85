package state

import (
	fpmath "UnxvFutures/internal/math"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

type epochPoints struct {
	byActor map[uuid.UUID]uint64
	total   uint64
}

// PointsLedger accumulates keeper points per epoch. Points never decrease and
// the epoch total always equals the sum over actors.
type PointsLedger struct {
	epochs map[uint64]*epochPoints
}

func NewPointsLedger() *PointsLedger {
	return &PointsLedger{epochs: make(map[uint64]*epochPoints)}
}

// Credit adds points to actor in epoch. The credit is clipped so neither the
// actor entry nor the epoch total wraps; the applied amount is returned.
func (pl *PointsLedger) Credit(epoch uint64, actor uuid.UUID, points uint64) uint64 {
	ep, ok := pl.epochs[epoch]
	if !ok {
		ep = &epochPoints{byActor: make(map[uuid.UUID]uint64)}
		pl.epochs[epoch] = ep
	}

	if room := fpmath.MaxU64 - ep.total; points > room {
		points = room
	}
	ep.byActor[actor] += points
	ep.total += points
	return points
}

// Points returns actor's points in epoch
func (pl *PointsLedger) Points(epoch uint64, actor uuid.UUID) uint64 {
	if ep, ok := pl.epochs[epoch]; ok {
		return ep.byActor[actor]
	}
	return 0
}

// Total returns the epoch's total points
func (pl *PointsLedger) Total(epoch uint64) uint64 {
	if ep, ok := pl.epochs[epoch]; ok {
		return ep.total
	}
	return 0
}

// Actors returns a copy of the per-actor points of an epoch
func (pl *PointsLedger) Actors(epoch uint64) map[uuid.UUID]uint64 {
	result := make(map[uuid.UUID]uint64)
	if ep, ok := pl.epochs[epoch]; ok {
		for actor, pts := range ep.byActor {
			result[actor] = pts
		}
	}
	return result
}

// EpochIDs returns every epoch with any points, ascending.
func (pl *PointsLedger) EpochIDs() []uint64 {
	ids := make([]uint64, 0, len(pl.epochs))
	for epoch := range pl.epochs {
		ids = append(ids, epoch)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Epochs returns the number of epochs with any points
func (pl *PointsLedger) Epochs() int {
	return len(pl.epochs)
}

// Validate checks that every epoch total equals the sum of its actors.
func (pl *PointsLedger) Validate() error {
	for epoch, ep := range pl.epochs {
		var sum uint64
		for _, pts := range ep.byActor {
			sum += pts
		}
		if sum != ep.total {
			return fmt.Errorf("epoch %d: actor sum %d != total %d", epoch, sum, ep.total)
		}
	}
	return nil
}

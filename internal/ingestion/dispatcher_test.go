package ingestion_test

import (
	"context"
	"testing"
	"time"

	"UnxvFutures/internal/core"
	"UnxvFutures/internal/ingestion"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"
	"UnxvFutures/internal/venue"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acks struct{ ack, nak, term int }

func message(kind ingestion.Kind, data []byte, a *acks) ingestion.Message {
	return ingestion.Message{
		Subject:   "unxv.test",
		Kind:      kind,
		Data:      data,
		Timestamp: received,
		Ack:       func() { a.ack++ },
		Nak:       func() { a.nak++ },
		Term:      func() { a.term++ },
	}
}

func newVenue(t *testing.T) *venue.Venue {
	t.Helper()
	reg, tok, err := registry.New(registry.Config{
		Fees:   registry.FeeConfig{TakerBps: 10},
		Timing: registry.Timing{MaxPriceAge: time.Minute, EpochLength: time.Hour},
	})
	require.NoError(t, err)
	v := venue.New(reg, tok, core.NewEngine(core.Config{}))
	require.NoError(t, v.WhitelistUnderlying("ETH", "feed-eth"))
	_, err = v.ListMarket(state.MarketSpec{
		Symbol:     "ETH-1",
		Underlying: "ETH",
		ExpiryMs:   uint64(received.Add(time.Hour).UnixMilli()),
		Margin:     state.MarginParams{InitialBps: 1000, MaintenanceBps: 500},
	})
	require.NoError(t, err)
	return v
}

func TestDispatcher_AppliesFill(t *testing.T) {
	v := newVenue(t)
	d := ingestion.NewDispatcher(v, nil)

	var a acks
	payload := fillPayload()
	payload["timestamp_ms"] = received.UnixMilli()
	out := d.Handle(message(ingestion.KindFill, mustJSON(t, payload), &a))

	assert.Equal(t, ingestion.OutcomeApplied, out)
	assert.Equal(t, acks{ack: 1}, a)

	trader := uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
	pos, ok := v.Position(trader, "ETH-1")
	require.True(t, ok)
	assert.Equal(t, uint64(3), pos.Quantity)

	// Redelivery of the same fill id is a no-op.
	out = d.Handle(message(ingestion.KindFill, mustJSON(t, payload), &a))
	assert.Equal(t, ingestion.OutcomeApplied, out)
	pos, _ = v.Position(trader, "ETH-1")
	assert.Equal(t, uint64(3), pos.Quantity)
}

func TestDispatcher_Outcomes(t *testing.T) {
	v := newVenue(t)
	d := ingestion.NewDispatcher(v, nil)

	var malformed acks
	assert.Equal(t, ingestion.OutcomeMalformed, d.Handle(message(ingestion.KindFill, []byte("{"), &malformed)))
	assert.Equal(t, acks{term: 1}, malformed)

	var rejected acks
	payload := fillPayload()
	payload["market"] = "BTC-9"
	assert.Equal(t, ingestion.OutcomeRejected, d.Handle(message(ingestion.KindFill, mustJSON(t, payload), &rejected)))
	assert.Equal(t, acks{ack: 1}, rejected)

	var early acks
	settle := mustJSON(t, map[string]interface{}{
		"market":       "ETH-1",
		"feed":         map[string]interface{}{"feed_id": "feed-eth", "price": 2_000_000, "expo": -6, "publish_time": received},
		"timestamp_ms": received.UnixMilli(),
	})
	assert.Equal(t, ingestion.OutcomeRejected, d.Handle(message(ingestion.KindSettleMarket, settle, &early)))
	assert.Equal(t, acks{ack: 1}, early)
}

func TestDispatcher_RunDrainsChannel(t *testing.T) {
	v := newVenue(t)
	d := ingestion.NewDispatcher(v, nil)

	in := make(chan ingestion.Message, 4)
	var a acks
	payload := fillPayload()
	payload["timestamp_ms"] = received.UnixMilli()
	in <- message(ingestion.KindFill, mustJSON(t, payload), &a)
	in <- message(ingestion.KindProcessSettlements, mustJSON(t, map[string]interface{}{
		"keeper": uuid.NewString(),
	}), &a)
	close(in)

	require.NoError(t, d.Run(context.Background(), in))
	assert.Equal(t, 2, a.ack)
	seq, _ := v.Sequence()
	assert.Equal(t, int64(1), seq)
}

func TestDispatcher_FutureTimestampCannotSettleEarly(t *testing.T) {
	v := newVenue(t)
	d := ingestion.NewDispatcher(v, nil)

	market, err := v.Market("ETH-1")
	require.NoError(t, err)
	pastExpiry := time.UnixMilli(int64(market.ExpiryMs)).Add(time.Second).UTC()

	var a acks
	settle := mustJSON(t, map[string]interface{}{
		"market":       "ETH-1",
		"feed":         map[string]interface{}{"feed_id": "feed-eth", "price": 123_000_000, "expo": -6, "publish_time": pastExpiry},
		"timestamp_ms": pastExpiry.UnixMilli(),
	})
	assert.Equal(t, ingestion.OutcomeMalformed, d.Handle(message(ingestion.KindSettleMarket, settle, &a)))
	assert.Equal(t, acks{term: 1}, a)

	market, err = v.Market("ETH-1")
	require.NoError(t, err)
	assert.Equal(t, state.MarketStatusActive.String(), market.Status)
	seq, _ := v.Sequence()
	assert.Equal(t, int64(0), seq)
}

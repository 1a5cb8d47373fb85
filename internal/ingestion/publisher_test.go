package ingestion

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"UnxvFutures/internal/core"
	"UnxvFutures/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	msgs []published
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.msgs = append(f.msgs, published{subject: subject, data: payload})
	return &jetstream.PubAck{}, nil
}

func TestRecordSubject(t *testing.T) {
	assert.Equal(t, "unxv.records.fill.ETH-1", RecordSubject("fill", "ETH-1"))
	assert.Equal(t, "unxv.records.fill.ETH_DEC_26", RecordSubject("fill", "ETH.DEC 26"))
	assert.Equal(t, "unxv.records.settlement_processed", RecordSubject("settlement_processed", ""))
}

func TestOutboundPublisher_Run(t *testing.T) {
	js := &fakeJetStream{}
	in := make(chan core.CoreOutput, 2)
	op := &OutboundPublisher{js: js, inputChan: in}

	var hash [32]byte
	hash[31] = 0x01
	in <- core.CoreOutput{Envelope: &event.RecordEnvelope{
		Sequence:       3,
		IdempotencyKey: "ETH-1:settled",
		RecordType:     event.RecordTypeMarketSettled,
		MarketID:       "ETH-1",
		Timestamp:      time.UnixMilli(1_750_000_000_000).UTC(),
		Payload:        []byte(`{"market":"ETH-1"}`),
		StateHash:      hash,
	}}
	close(in)

	require.NoError(t, op.Run(context.Background()))
	require.Len(t, js.msgs, 1)
	assert.Equal(t, "unxv.records.market_settled.ETH-1", js.msgs[0].subject)

	var rec PublishedRecord
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &rec))
	assert.Equal(t, int64(3), rec.Sequence)
	assert.Equal(t, "market_settled", rec.RecordType)
	assert.JSONEq(t, `{"market":"ETH-1"}`, string(rec.Record))
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000000001", rec.StateHash)
}

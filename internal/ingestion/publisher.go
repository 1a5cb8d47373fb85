package ingestion

import (
	"UnxvFutures/internal/core"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// recordPublisher is the subset of jetstream.JetStream the publisher uses.
type recordPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes emitted records to NATS for downstream
// consumers. Subjects follow unxv.records.{record_type}.{market_id}.
type OutboundPublisher struct {
	js        recordPublisher
	inputChan <-chan core.CoreOutput
}

// PublishedRecord is the outbound wire format of one record.
type PublishedRecord struct {
	Sequence       int64           `json:"sequence"`
	RecordType     string          `json:"record_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       string          `json:"market_id,omitempty"`
	Record         json.RawMessage `json:"record"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run publishes until ctx is cancelled or the input channel is closed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				// Non-fatal: consumers can read the record log directly
				log.Printf("WARN: outbound publish failed seq=%d: %v", out.Envelope.Sequence, err)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope
	data, err := json.Marshal(PublishedRecord{
		Sequence:       env.Sequence,
		RecordType:     env.RecordType.Subject(),
		IdempotencyKey: env.IdempotencyKey,
		MarketID:       env.MarketID,
		Record:         env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	// Sequence as message id lets JetStream drop republished records.
	_, err = op.js.Publish(ctx, RecordSubject(env.RecordType.Subject(), env.MarketID), data,
		jetstream.WithMsgID(strconv.FormatInt(env.Sequence, 10)))
	return err
}

// RecordSubject builds the outbound subject. Market ids are sanitized into a
// single subject token.
func RecordSubject(recordType, marketID string) string {
	subject := "unxv.records." + recordType
	if marketID == "" {
		return subject
	}
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, marketID)
	return subject + "." + token
}

// EnsureOutboundStream creates the outbound records stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "UNXV_RECORDS",
		Subjects:   []string{"unxv.records.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream UNXV_RECORDS")
	return nil
}

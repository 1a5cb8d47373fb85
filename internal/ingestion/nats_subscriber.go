package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and hands messages to
// the dispatcher through msgChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	msgChan   chan<- Message
	consumers []jetstream.ConsumeContext
}

// Message is an undecoded intent from NATS. Exactly one of Ack, Nak or Term
// must be called once the dispatcher is done with it.
type Message struct {
	Subject   string
	Kind      Kind
	Data      []byte
	Timestamp time.Time
	Ack       func() // processed, including deterministic rejections
	Nak       func() // redeliver
	Term      func() // malformed, never redeliver
}

// SubjectConfig maps a NATS subject to an intent kind.
type SubjectConfig struct {
	Subject      string
	Kind         Kind
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "unxv.fills.>", Kind: KindFill, ConsumerName: "unxv-fills", StreamName: "UNXV_FILLS"},
		{Subject: "unxv.liquidations.>", Kind: KindLiquidation, ConsumerName: "unxv-liquidations", StreamName: "UNXV_LIQUIDATIONS"},
		{Subject: "unxv.settle.market.>", Kind: KindSettleMarket, ConsumerName: "unxv-settle-market", StreamName: "UNXV_SETTLE"},
		{Subject: "unxv.settle.request.>", Kind: KindSettlementRequest, ConsumerName: "unxv-settle-request", StreamName: "UNXV_SETTLE"},
		{Subject: "unxv.settle.process.>", Kind: KindProcessSettlements, ConsumerName: "unxv-settle-process", StreamName: "UNXV_SETTLE"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, msgChan chan<- Message) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		msgChan: msgChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		kind := cfg.Kind
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			m := Message{
				Subject:   msg.Subject(),
				Kind:      kind,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				Ack:       func() { msg.Ack() },
				Nak:       func() { msg.Nak() },
				Term:      func() { msg.Term() },
			}

			select {
			case ns.msgChan <- m:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the intake streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{Name: "UNXV_FILLS", Subjects: []string{"unxv.fills.>"}},
		{Name: "UNXV_LIQUIDATIONS", Subjects: []string{"unxv.liquidations.>"}},
		{Name: "UNXV_SETTLE", Subjects: []string{"unxv.settle.>"}},
	}

	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("unxvd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

package ingestion

import (
	"UnxvFutures/internal/core"
	"UnxvFutures/internal/observability"
	"UnxvFutures/internal/venue"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Outcome of handling one message.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMalformed Outcome = "malformed"
	OutcomeRetry     Outcome = "retry"
)

// Dispatcher decodes NATS messages and applies them to the venue in arrival
// order. Deterministic rejections are acknowledged so they are not
// redelivered; only unclassified failures are retried.
type Dispatcher struct {
	venue   *venue.Venue
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(v *venue.Venue, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		venue:   v,
		metrics: metrics,
		logger:  observability.NewLogger("dispatcher"),
	}
}

// Run handles messages until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(msg)
			if d.metrics != nil {
				d.metrics.SetChannelMetrics("ingest", len(in), cap(in))
			}
		}
	}
}

// Handle processes a single message and settles its acknowledgement.
func (d *Dispatcher) Handle(msg Message) Outcome {
	outcome := d.handle(msg)
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(string(msg.Kind), string(outcome)).Inc()
	}
	switch outcome {
	case OutcomeMalformed:
		settle(msg.Term)
	case OutcomeRetry:
		settle(msg.Nak)
	default:
		settle(msg.Ack)
	}
	return outcome
}

func (d *Dispatcher) handle(msg Message) Outcome {
	cmd, err := Parse(msg.Kind, msg.Data, msg.Timestamp)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed message")
		return OutcomeMalformed
	}

	if _, err := cmd.Apply(d.venue); err != nil {
		switch {
		case errors.Is(err, core.ErrIntegrityViolation):
			d.logger.Error().Err(err).Str("subject", msg.Subject).Msg("integrity violation")
			return OutcomeRejected
		case errors.Is(err, core.ErrPolicyViolation), errors.Is(err, core.ErrInsufficientFunds):
			d.logger.Info().Err(err).Str("subject", msg.Subject).Msg("intent rejected")
			return OutcomeRejected
		default:
			d.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("intent failed, will retry")
			return OutcomeRetry
		}
	}
	return OutcomeApplied
}

func settle(f func()) {
	if f != nil {
		f()
	}
}

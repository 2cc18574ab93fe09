package ingestion

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/observability"
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JetStreamPublisher is the part of jetstream.JetStream the publisher uses.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes every committed event to
// perp.clearing.events.{type}. The message id is "{sequence}-{index}", so
// a republished envelope is deduplicated by the stream.
type OutboundPublisher struct {
	js        JetStreamPublisher
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(js JetStreamPublisher, inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.Publish(ctx, out.Envelope); err != nil {
				// Downstream consumers can read the event log instead.
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// Publish sends each event of env on its own subject.
func (op *OutboundPublisher) Publish(ctx context.Context, env *event.Envelope) error {
	wire, err := event.ToWire(env)
	if err != nil {
		return err
	}
	for _, ev := range wire.Split() {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgID := fmt.Sprintf("%d-%d", ev.Sequence, ev.Index)
		if _, err := op.js.Publish(ctx, EventSubject(ev.Type), data, jetstream.WithMsgID(msgID)); err != nil {
			op.count("failed")
			return fmt.Errorf("publish %s: %w", msgID, err)
		}
		op.count("published")
	}
	return nil
}

func (op *OutboundPublisher) count(outcome string) {
	if op.metrics != nil {
		op.metrics.NATSMessages.WithLabelValues("out", outcome).Inc()
	}
}

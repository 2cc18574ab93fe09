package ingestion

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/event"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/types"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Processor applies one command. *core.Engine implements it.
type Processor interface {
	Process(cmd command.Command) (*event.Envelope, error)
}

// Dispatcher feeds inbound messages to the engine one at a time and
// settles each message according to the outcome.
type Dispatcher struct {
	engine  Processor
	rawChan <-chan RawCommand
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(engine Processor, rawChan <-chan RawCommand, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, rawChan: rawChan, metrics: metrics, logger: logger}
}

// Run processes messages until ctx is cancelled or the channel is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.rawChan:
			if !ok {
				return nil
			}
			d.Handle(raw)
		}
	}
}

// Outcome is how an inbound message was settled.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeMalformed Outcome = "malformed"
)

// Handle parses and applies one message. Engine rejections are final, so
// the message is acked; a sequence gap is nacked so the message comes back
// after the missing one. Undecodable messages are terminated.
func (d *Dispatcher) Handle(raw RawCommand) Outcome {
	cmd, err := ParseRawCommand(raw)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		settle(raw.TermFunc)
		return d.count(OutcomeMalformed)
	}

	_, err = d.engine.Process(cmd)
	switch {
	case err == nil:
		settle(raw.AckFunc)
		return d.count(OutcomeApplied)
	case errors.Is(err, types.ErrDuplicateCommand):
		settle(raw.AckFunc)
		return d.count(OutcomeDuplicate)
	case errors.Is(err, types.ErrSequenceGap):
		settle(raw.NakFunc)
		return d.count(OutcomeDeferred)
	default:
		d.logger.Debug().
			Err(err).
			Str("command", cmd.CommandType().String()).
			Str("idempotency_key", cmd.Header().IdempotencyKey).
			Msg("command rejected")
		settle(raw.AckFunc)
		return d.count(OutcomeRejected)
	}
}

func (d *Dispatcher) count(o Outcome) Outcome {
	if d.metrics != nil {
		d.metrics.NATSMessages.WithLabelValues("in", string(o)).Inc()
	}
	return o
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}

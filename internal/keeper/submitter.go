package keeper

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/ingestion"
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubmitter publishes commands to the command stream. The idempotency
// key doubles as the JetStream message id, so a resubmitted command is
// dropped by the stream before the engine sees it.
type NATSSubmitter struct {
	js ingestion.JetStreamPublisher
}

func NewNATSSubmitter(js ingestion.JetStreamPublisher) *NATSSubmitter {
	return &NATSSubmitter{js: js}
}

func (s *NATSSubmitter) Submit(ctx context.Context, cmd command.Command) error {
	data, err := command.Encode(cmd)
	if err != nil {
		return err
	}
	key := cmd.Header().IdempotencyKey
	if _, err := s.js.Publish(ctx, ingestion.CommandSubject(cmd.CommandType()), data, jetstream.WithMsgID(key)); err != nil {
		return fmt.Errorf("publish %s %q: %w", cmd.CommandType(), key, err)
	}
	return nil
}

// EngineSubmitter applies commands in process.
func EngineSubmitter(svc *ingestion.CommandService) Submitter {
	return SubmitterFunc(func(ctx context.Context, cmd command.Command) error {
		_, err := svc.Apply(ctx, cmd)
		return err
	})
}

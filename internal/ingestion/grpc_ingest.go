package ingestion

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/event"
	"context"
)

// CommandService applies commands submitted over gRPC or HTTP. It is the
// synchronous path for admin operations and single clients; NATS is the
// high-throughput path.
type CommandService struct {
	engine Processor
}

func NewCommandService(engine Processor) *CommandService {
	return &CommandService{engine: engine}
}

// Submit decodes body as the command named name and applies it. key is a
// transport idempotency key used when the body has none.
func (s *CommandService) Submit(ctx context.Context, name string, body []byte, key string) (event.WireEnvelope, error) {
	cmd, err := command.DecodeWithKey(name, body, key)
	if err != nil {
		return event.WireEnvelope{}, err
	}
	return s.Apply(ctx, cmd)
}

// Apply runs an already typed command.
func (s *CommandService) Apply(ctx context.Context, cmd command.Command) (event.WireEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return event.WireEnvelope{}, err
	}
	env, err := s.engine.Process(cmd)
	if err != nil {
		return event.WireEnvelope{}, err
	}
	return event.ToWire(env)
}

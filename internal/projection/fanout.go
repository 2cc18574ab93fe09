package projection

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/observability"
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Fanout copies the engine's projection channel to every subscriber.
// Sends never block: a subscriber that falls behind loses outputs and has
// to resync from the event log.
type Fanout struct {
	in      <-chan core.Output
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu   sync.Mutex
	subs []subscriber
}

type subscriber struct {
	name string
	ch   chan core.Output
}

func NewFanout(in <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *Fanout {
	return &Fanout{in: in, metrics: metrics, logger: logger}
}

// Subscribe registers a named consumer. Call before Run; the returned
// channel is closed when Run exits.
func (f *Fanout) Subscribe(name string, buffer int) <-chan core.Output {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan core.Output, buffer)
	f.subs = append(f.subs, subscriber{name: name, ch: ch})
	return ch
}

func (f *Fanout) Run(ctx context.Context) error {
	defer f.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-f.in:
			if !ok {
				return nil
			}
			f.broadcast(out)
		}
	}
}

func (f *Fanout) broadcast(out core.Output) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		select {
		case s.ch <- out:
		default:
			if f.metrics != nil {
				f.metrics.ProjectionDrops.WithLabelValues(s.name).Inc()
			}
			f.logger.Warn().
				Str("projection", s.name).
				Int64("sequence", out.Envelope.Sequence).
				Msg("projection subscriber full, dropping output")
		}
	}
}

func (f *Fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		close(s.ch)
	}
	f.subs = nil
}

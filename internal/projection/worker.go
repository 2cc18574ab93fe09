package projection

import (
	"PerpClearing/internal/core"
	"context"

	"github.com/rs/zerolog"
)

// ProjectionWorker updates the read models from engine outputs. Its input
// is fed by the Fanout and may drop outputs; projections are eventually
// consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	store     *Store // nil in in-memory mode
	history   *History
	inputChan <-chan core.Output
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(store *Store, history *History, inputChan <-chan core.Output, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		store:     store,
		history:   history,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			pw.process(ctx, out)
		}
	}
}

func (pw *ProjectionWorker) process(ctx context.Context, out core.Output) {
	seq := out.Envelope.Sequence
	if pw.lastSeq != 0 && seq != pw.lastSeq+1 {
		pw.logger.Warn().
			Int64("expected", pw.lastSeq+1).
			Int64("got", seq).
			Msg("projection gap, rebuild from the event log to resync")
	}
	pw.lastSeq = seq

	if pw.history != nil {
		pw.history.Apply(out.Envelope)
	}
	if pw.store == nil {
		return
	}
	if _, err := pw.store.Apply(ctx, out.Envelope); err != nil {
		pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
	}
}

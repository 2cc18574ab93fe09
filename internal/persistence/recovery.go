package persistence

import (
	"PerpClearing/internal/core"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayBatch = 1000

// RecoveryStats describes how an engine was rebuilt.
type RecoveryStats struct {
	SnapshotSequence int64 // 0 on a cold start
	Replayed         int
	Sequence         int64
	Duration         time.Duration
}

// Recover rebuilds the engine: restore the latest snapshot (or start from
// genesis with params), then replay every logged envelope after it. Replay
// verifies each state hash against the log.
func Recover(
	ctx context.Context,
	params core.Params,
	snaps SnapshotStore,
	source EnvelopeSource,
	logger zerolog.Logger,
	opts ...core.Option,
) (*core.Engine, RecoveryStats, error) {
	start := time.Now()
	var stats RecoveryStats

	var snap *core.SnapshotState
	if snaps != nil {
		var err error
		snap, err = snaps.LoadLatestSnapshot(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
			snap = nil
		}
	}

	var (
		engine *core.Engine
		err    error
	)
	if snap != nil {
		engine, err = core.RestoreEngine(snap, opts...)
		if err != nil {
			return nil, stats, fmt.Errorf("restore snapshot seq=%d: %w", snap.Sequence, err)
		}
		stats.SnapshotSequence = snap.Sequence
		logger.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		engine, err = core.NewEngine(params, opts...)
		if err != nil {
			return nil, stats, err
		}
		logger.Info().Msg("no snapshot found, cold start from genesis")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		batch, err := source.LoadEnvelopesFrom(ctx, engine.Sequence()+1, replayBatch)
		if err != nil {
			return nil, stats, fmt.Errorf("load envelopes from %d: %w", engine.Sequence()+1, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, env := range batch {
			if err := engine.Replay(env); err != nil {
				return nil, stats, err
			}
			stats.Replayed++
		}
	}

	stats.Sequence = engine.Sequence()
	stats.Duration = time.Since(start)
	logger.Info().
		Int64("snapshot_sequence", stats.SnapshotSequence).
		Int("replayed", stats.Replayed).
		Int64("sequence", stats.Sequence).
		Dur("duration", stats.Duration).
		Msg("recovery complete")
	return engine, stats, nil
}

package persistence

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/observability"
	"context"
	"database/sql"
	"fmt"
)

// BatchWriter durably stores a batch of engine outputs, all or nothing.
type BatchWriter interface {
	WriteBatch(ctx context.Context, batch []core.Output) error
}

// PostgresBatchWriter writes envelopes, journals, processed keys and any
// attached snapshots in one transaction.
type PostgresBatchWriter struct {
	db        *sql.DB
	writer    *EventLogWriter
	accounts  *Accounts
	snapshots *PostgresSnapshotStore
	cache     *CachedSnapshotStore
	metrics   *observability.Metrics
}

func NewPostgresBatchWriter(db *sql.DB, accounts *Accounts, metrics *observability.Metrics) *PostgresBatchWriter {
	return &PostgresBatchWriter{
		db:        db,
		writer:    NewEventLogWriter(db),
		accounts:  accounts,
		snapshots: NewPostgresSnapshotStore(db),
		metrics:   metrics,
	}
}

// WithCache refreshes cache with every committed snapshot.
func (w *PostgresBatchWriter) WithCache(cache *CachedSnapshotStore) *PostgresBatchWriter {
	w.cache = cache
	return w
}

type encodedSnapshot struct {
	snap *core.SnapshotState
	data []byte
}

func (w *PostgresBatchWriter) WriteBatch(ctx context.Context, batch []core.Output) error {
	envelopes := make([]EnvelopeRow, 0, len(batch))
	var journals []JournalRow
	var snaps []encodedSnapshot
	for _, out := range batch {
		row, js, err := w.accounts.Rows(out.Envelope)
		if err != nil {
			w.countError("encode")
			return err
		}
		envelopes = append(envelopes, row)
		journals = append(journals, js...)
		if out.Snapshot != nil {
			data, err := EncodeSnapshot(out.Snapshot)
			if err != nil {
				w.countError("encode")
				return err
			}
			snaps = append(snaps, encodedSnapshot{snap: out.Snapshot, data: data})
		}
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEnvelopeBatch(ctx, tx, envelopes); err != nil {
		w.countError("write_envelopes")
		return err
	}
	if err := w.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		w.countError("write_journals")
		return err
	}
	for _, s := range snaps {
		if err := w.snapshots.SaveSnapshotTx(ctx, tx, s.snap, s.data); err != nil {
			w.countError("write_snapshot")
			return fmt.Errorf("snapshot seq=%d: %w", s.snap.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	for _, s := range snaps {
		if w.cache != nil {
			w.cache.Put(ctx, s.snap, s.data)
		}
		if w.metrics != nil {
			w.metrics.SnapshotTaken.Inc()
			w.metrics.SnapshotSizeBytes.Set(float64(len(s.data)))
			w.metrics.SnapshotLastSeq.Set(float64(s.snap.Sequence))
		}
	}
	return nil
}

func (w *PostgresBatchWriter) countError(stage string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}

// StoreBatchWriter saves attached snapshots to any SnapshotStore and hands
// every output to Written. Used by tests and the in-memory deployment.
type StoreBatchWriter struct {
	Snapshots SnapshotStore
	Written   func(out core.Output)
}

func (w *StoreBatchWriter) WriteBatch(ctx context.Context, batch []core.Output) error {
	for _, out := range batch {
		if out.Snapshot != nil && w.Snapshots != nil {
			if err := w.Snapshots.SaveSnapshot(ctx, out.Snapshot); err != nil {
				return err
			}
		}
		if w.Written != nil {
			w.Written(out)
		}
	}
	return nil
}

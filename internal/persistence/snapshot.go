package persistence

import (
	"PerpClearing/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// SnapshotStore saves and loads engine snapshots. LoadLatestSnapshot
// returns nil, nil when there is none (cold start).
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error
	LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error)
}

// EncodeSnapshot is the stored form of a snapshot.
func EncodeSnapshot(snap *core.SnapshotState) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot seq=%d: %w", snap.Sequence, err)
	}
	return data, nil
}

func DecodeSnapshot(data []byte) (*core.SnapshotState, error) {
	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// PostgresSnapshotStore keeps snapshots in clearing.snapshots.
type PostgresSnapshotStore struct {
	db *sql.DB
}

func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (s *PostgresSnapshotStore) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertSnapshot, snap.Sequence, snap.StateHash[:], string(data), len(data))
	return err
}

// SaveSnapshotTx writes an already encoded snapshot inside tx so it commits
// atomically with the envelope it was taken at.
func (s *PostgresSnapshotStore) SaveSnapshotTx(ctx context.Context, tx *sql.Tx, snap *core.SnapshotState, data []byte) error {
	_, err := tx.ExecContext(ctx, upsertSnapshot, snap.Sequence, snap.StateHash[:], string(data), len(data))
	return err
}

const upsertSnapshot = `
	INSERT INTO clearing.snapshots (sequence, state_hash, state, size_bytes)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (sequence) DO UPDATE SET state_hash = $2, state = $3, size_bytes = $4
`

// LoadLatestSnapshot loads the newest snapshot whose hash matches the
// logged envelope at the same sequence. A snapshot without its envelope is
// ignored.
func (s *PostgresSnapshotStore) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT s.state
		FROM clearing.snapshots s
		JOIN clearing.event_log e ON e.sequence = s.sequence AND e.state_hash = s.state_hash
		ORDER BY s.sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// Prune keeps the newest keep snapshots.
func (s *PostgresSnapshotStore) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM clearing.snapshots
		WHERE sequence NOT IN (
			SELECT sequence FROM clearing.snapshots ORDER BY sequence DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MemorySnapshotStore keeps encoded snapshots in memory. Used by tests and
// single-process demos.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	snaps map[int64][]byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[int64][]byte)}
}

func (s *MemorySnapshotStore) SaveSnapshot(_ context.Context, snap *core.SnapshotState) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Sequence] = data
	return nil
}

func (s *MemorySnapshotStore) LoadLatestSnapshot(_ context.Context) (*core.SnapshotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := int64(-1)
	for seq := range s.snaps {
		if seq > latest {
			latest = seq
		}
	}
	if latest < 0 {
		return nil, nil
	}
	return DecodeSnapshot(s.snaps[latest])
}

func (s *MemorySnapshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

package persistence

import (
	"PerpClearing/internal/core"
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const latestSnapshotKey = "perp:clearing:snapshot:latest"

// CachedSnapshotStore wraps a primary SnapshotStore with a Redis
// read-through cache of the latest snapshot. Writes go to the primary
// first; the cache is only filled with committed snapshots.
type CachedSnapshotStore struct {
	primary SnapshotStore
	rdb     redis.Cmdable
	ttl     time.Duration
	logger  zerolog.Logger
}

func NewCachedSnapshotStore(primary SnapshotStore, rdb redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *CachedSnapshotStore {
	return &CachedSnapshotStore{primary: primary, rdb: rdb, ttl: ttl, logger: logger}
}

func (s *CachedSnapshotStore) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.Put(ctx, snap, data)
	return nil
}

// Put caches an already committed snapshot unless a newer one is cached.
func (s *CachedSnapshotStore) Put(ctx context.Context, snap *core.SnapshotState, data []byte) {
	if cached, ok := s.cached(ctx); ok && cached.Sequence > snap.Sequence {
		return
	}
	if err := s.rdb.Set(ctx, latestSnapshotKey, data, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot cache write failed")
	}
}

func (s *CachedSnapshotStore) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	if snap, ok := s.cached(ctx); ok {
		return snap, nil
	}

	snap, err := s.primary.LoadLatestSnapshot(ctx)
	if err != nil || snap == nil {
		return snap, err
	}
	if data, err := EncodeSnapshot(snap); err == nil {
		s.rdb.Set(ctx, latestSnapshotKey, data, s.ttl)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot.
func (s *CachedSnapshotStore) Invalidate(ctx context.Context) error {
	return s.rdb.Del(ctx, latestSnapshotKey).Err()
}

func (s *CachedSnapshotStore) cached(ctx context.Context) (*core.SnapshotState, bool) {
	data, err := s.rdb.Get(ctx, latestSnapshotKey).Bytes()
	if err != nil {
		return nil, false
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, false
	}
	return snap, true
}

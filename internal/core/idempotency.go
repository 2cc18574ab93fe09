package core

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultIdempotencyCapacity bounds the in-memory tier.
const DefaultIdempotencyCapacity = 1_000_000

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU of
// recently applied commands, backed by an optional durable store.
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU, composite key -> engine sequence
	lru *lru.Cache[string, int64]

	// Tier 2: Postgres (injected via interface)
	durable DurableIdempotency

	metrics *IdempotencyMetrics
}

// DurableIdempotency is the cold-path lookup, usually Postgres.
type DurableIdempotency interface {
	LookupProcessed(command, idempotencyKey string) (sequence int64, found bool, err error)
}

func NewIdempotencyChecker(capacity int, durable DurableIdempotency) (*IdempotencyChecker, error) {
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	cache, err := lru.New[string, int64](capacity)
	if err != nil {
		return nil, fmt.Errorf("create idempotency cache: %w", err)
	}
	return &IdempotencyChecker{
		lru:     cache,
		durable: durable,
		metrics: &IdempotencyMetrics{},
	}, nil
}

func compositeKey(command, idempotencyKey string) string {
	return command + ":" + idempotencyKey
}

// Lookup returns the engine sequence at which the command was applied.
func (ic *IdempotencyChecker) Lookup(command, idempotencyKey string) (int64, bool) {
	key := compositeKey(command, idempotencyKey)

	if seq, ok := ic.lru.Get(key); ok {
		ic.metrics.lruHits.Add(1)
		return seq, true
	}

	if ic.durable != nil {
		seq, found, err := ic.durable.LookupProcessed(command, idempotencyKey)
		if err != nil {
			// A failing durable tier must not block processing.
			ic.metrics.tier2Errors.Add(1)
			return 0, false
		}
		if found {
			ic.metrics.durableHits.Add(1)
			ic.lru.Add(key, seq)
			return seq, true
		}
	}
	return 0, false
}

// MarkProcessed records a committed command.
func (ic *IdempotencyChecker) MarkProcessed(command, idempotencyKey string, sequence int64) {
	ic.lru.Add(compositeKey(command, idempotencyKey), sequence)
}

// Warm loads recently applied keys, oldest first, after a restart.
func (ic *IdempotencyChecker) Warm(entries []IdempotencyEntry) {
	for _, e := range entries {
		ic.lru.Add(e.Key, e.Sequence)
	}
}

// Entries returns the in-memory tier, oldest first, for snapshots.
func (ic *IdempotencyChecker) Entries() []IdempotencyEntry {
	keys := ic.lru.Keys()
	out := make([]IdempotencyEntry, 0, len(keys))
	for _, k := range keys {
		if seq, ok := ic.lru.Peek(k); ok {
			out = append(out, IdempotencyEntry{Key: k, Sequence: seq})
		}
	}
	return out
}

func (ic *IdempotencyChecker) Size() int { return ic.lru.Len() }

func (ic *IdempotencyChecker) Metrics() *IdempotencyMetrics { return ic.metrics }

// IdempotencyEntry is one remembered command.
type IdempotencyEntry struct {
	Key      string `json:"key"`
	Sequence int64  `json:"sequence"`
}

// IdempotencyMetrics tracks dedup stats.
type IdempotencyMetrics struct {
	lruHits     atomic.Int64
	durableHits atomic.Int64
	tier2Errors atomic.Int64
}

func (m *IdempotencyMetrics) Hits() (lru, durable int64) {
	return m.lruHits.Load(), m.durableHits.Load()
}

func (m *IdempotencyMetrics) Tier2Errors() int64 {
	return m.tier2Errors.Load()
}

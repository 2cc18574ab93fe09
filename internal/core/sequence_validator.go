package core

import (
	"PerpClearing/internal/types"
)

// SequenceValidator validates source sequences per partition. A partition
// is one caller; its first sequenced command carries 1. Commands with a
// zero source sequence are unsequenced and skip the check.
// Not thread-safe: only accessed from the serialised engine.
type SequenceValidator struct {
	lastApplied map[string]int64 // partition -> last committed sequence
	metrics     *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		lastApplied: make(map[string]int64),
		metrics:     NewSequenceMetrics(),
	}
}

// Check validates sourceSequence against the partition without advancing.
func (sv *SequenceValidator) Check(partition string, sourceSequence int64) error {
	if sourceSequence == 0 {
		return nil
	}
	expected := sv.lastApplied[partition] + 1

	if sourceSequence < expected {
		sv.metrics.outOfOrder[partition]++
		return types.ErrStaleCommand.Wrapf("partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}
	if sourceSequence > expected {
		sv.metrics.gaps[partition]++
		return types.ErrSequenceGap.Wrapf("partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}
	return nil
}

// Advance records a committed command. Call only after Check succeeded.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence == 0 {
		return
	}
	sv.lastApplied[partition] = sourceSequence
}

// ExpectedSequence returns the next sequence the partition accepts.
func (sv *SequenceValidator) ExpectedSequence(partition string) int64 {
	return sv.lastApplied[partition] + 1
}

// RestorePartition sets the last committed sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, last int64) {
	sv.lastApplied[partition] = last
}

// Partitions returns a copy of all partition state (for snapshots).
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.lastApplied))
	for k, v := range sv.lastApplied {
		out[k] = v
	}
	return out
}

func (sv *SequenceValidator) Metrics() *SequenceMetrics { return sv.metrics }

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe: only accessed from the serialised engine.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> stale count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

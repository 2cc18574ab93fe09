package persistence

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/types"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genesis = int64(1_700_000_000)

var (
	owner = types.DeriveAddress("persistence-owner")
	alice = uuid.MustParse("00000000-0000-0000-0000-000000000001")
)

func testParams() core.Params {
	p := core.DefaultParams(owner)
	p.Genesis = genesis
	return p
}

func mint(t *testing.T, e *core.Engine, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := e.Process(&command.Mint{
			Meta:   command.Meta{IdempotencyKey: fmt.Sprintf("mint-%d", i), Caller: owner, Timestamp: genesis},
			To:     alice,
			Amount: fixed.QuoteFromInt(100),
		})
		require.NoError(t, err)
	}
}

// persisted runs n mints through an engine that snapshots every 4
// sequences and drains the persist channel through the worker.
func persisted(t *testing.T, n int) (*core.Engine, *event.MemorySink, *MemorySnapshotStore) {
	t.Helper()
	sink := event.NewMemorySink()
	ch := make(chan core.Output, n)
	e, err := core.NewEngine(testParams(),
		core.WithSink(sink),
		core.WithPersistChan(ch),
		core.WithSnapshotEvery(4),
	)
	require.NoError(t, err)
	mint(t, e, n)
	close(ch)

	store := NewMemorySnapshotStore()
	w := NewPersistenceWorker(&StoreBatchWriter{Snapshots: store}, ch, 3, time.Hour, nil, zerolog.Nop())
	require.NoError(t, w.Run(context.Background()))
	return e, sink, store
}

func TestRecover_FromSnapshotAndLog(t *testing.T) {
	e, sink, store := persisted(t, 10)
	assert.Equal(t, 2, store.Len())

	restored, stats, err := Recover(context.Background(), testParams(), store, MemoryLog{Sink: sink}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.SnapshotSequence)
	assert.Equal(t, 2, stats.Replayed)
	assert.Equal(t, int64(10), stats.Sequence)
	assert.Equal(t, e.StateHash(), restored.StateHash())

	// Keys applied before the snapshot are still recognised.
	_, err = restored.Process(&command.Mint{
		Meta:   command.Meta{IdempotencyKey: "mint-3", Caller: owner, Timestamp: genesis},
		To:     alice,
		Amount: fixed.QuoteFromInt(1),
	})
	require.ErrorIs(t, err, types.ErrDuplicateCommand)
}

func TestRecover_ColdStart(t *testing.T) {
	e, sink, _ := persisted(t, 5)

	restored, stats, err := Recover(context.Background(), testParams(), nil, MemoryLog{Sink: sink}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.SnapshotSequence)
	assert.Equal(t, 5, stats.Replayed)
	assert.Equal(t, e.StateHash(), restored.StateHash())

	var supply fixed.Quote
	restored.Read(func(v core.View) { supply = v.Token.TotalSupply() })
	assert.Equal(t, fixed.QuoteFromInt(500), supply)
}

func TestRecover_RejectsDivergentLog(t *testing.T) {
	_, sink, _ := persisted(t, 3)
	envs := sink.Envelopes()
	forged := *envs[2]
	forged.StateHash[0] ^= 0xff

	other := event.NewMemorySink()
	other.Publish(envs[0])
	other.Publish(envs[1])
	other.Publish(&forged)

	_, _, err := Recover(context.Background(), testParams(), nil, MemoryLog{Sink: other}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state hash mismatch")
}

func TestMemoryLog_Window(t *testing.T) {
	_, sink, _ := persisted(t, 6)
	envs, err := MemoryLog{Sink: sink}.LoadEnvelopesFrom(context.Background(), 3, 2)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, int64(3), envs[0].Sequence)
	assert.Equal(t, int64(4), envs[1].Sequence)
}

func TestSnapshotEncoding(t *testing.T) {
	e, _, _ := persisted(t, 2)
	snap := e.CreateSnapshotState()
	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	back, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Sequence, back.Sequence)
	assert.Equal(t, snap.StateHash, back.StateHash)

	restored, err := core.RestoreEngine(back)
	require.NoError(t, err)
	assert.Equal(t, e.StateHash(), restored.StateHash())
}

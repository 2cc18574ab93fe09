package core

import (
	"PerpClearing/internal/types"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHasher_Chain(t *testing.T) {
	h := NewStateHasher()
	assert.Equal(t, GenesisHash(), h.GetPrevHash())

	first := h.ComputeHash(1, []byte("a"))
	assert.Equal(t, ChainHash(GenesisHash(), 1, []byte("a")), first)
	second := h.ComputeHash(2, []byte("b"))
	assert.Equal(t, ChainHash(first, 2, []byte("b")), second)
	assert.Equal(t, second, h.GetPrevHash())

	// Sequence is part of the preimage.
	assert.NotEqual(t, ChainHash(first, 3, []byte("b")), second)

	h.SetPrevHash(first)
	assert.Equal(t, second, h.ComputeHash(2, []byte("b")))
}

type fakeDurable struct {
	seq   int64
	found bool
	err   error
	calls int
}

func (f *fakeDurable) LookupProcessed(string, string) (int64, bool, error) {
	f.calls++
	return f.seq, f.found, f.err
}

func TestIdempotencyChecker_Tiers(t *testing.T) {
	durable := &fakeDurable{}
	ic, err := NewIdempotencyChecker(2, durable)
	require.NoError(t, err)

	_, dup := ic.Lookup("Mint", "k1")
	assert.False(t, dup)
	assert.Equal(t, 1, durable.calls)

	ic.MarkProcessed("Mint", "k1", 7)
	seq, dup := ic.Lookup("Mint", "k1")
	assert.True(t, dup)
	assert.Equal(t, int64(7), seq)
	assert.Equal(t, 1, durable.calls)

	// Keys are scoped by command name.
	_, dup = ic.Lookup("Approve", "k1")
	assert.False(t, dup)

	durable.seq, durable.found = 3, true
	seq, dup = ic.Lookup("Mint", "old")
	assert.True(t, dup)
	assert.Equal(t, int64(3), seq)

	durable.found, durable.err = false, errors.New("db down")
	_, dup = ic.Lookup("Mint", "other")
	assert.False(t, dup)
}

func TestIdempotencyChecker_EvictsAndWarms(t *testing.T) {
	ic, err := NewIdempotencyChecker(2, nil)
	require.NoError(t, err)
	ic.MarkProcessed("Mint", "a", 1)
	ic.MarkProcessed("Mint", "b", 2)
	ic.MarkProcessed("Mint", "c", 3)
	assert.Equal(t, 2, ic.Size())
	_, dup := ic.Lookup("Mint", "a")
	assert.False(t, dup)

	warm, err := NewIdempotencyChecker(2, nil)
	require.NoError(t, err)
	warm.Warm(ic.Entries())
	seq, dup := warm.Lookup("Mint", "c")
	assert.True(t, dup)
	assert.Equal(t, int64(3), seq)
}

func TestSequenceValidator(t *testing.T) {
	sv := NewSequenceValidator()
	const p = "caller:x"

	require.NoError(t, sv.Check(p, 0))
	err := sv.Check(p, 2)
	require.ErrorIs(t, err, types.ErrSequenceGap)
	assert.Equal(t, int64(1), sv.Metrics().GetGaps(p))

	require.NoError(t, sv.Check(p, 1))
	sv.Advance(p, 1)
	assert.Equal(t, int64(2), sv.ExpectedSequence(p))

	err = sv.Check(p, 1)
	require.ErrorIs(t, err, types.ErrStaleCommand)
	assert.Equal(t, int64(1), sv.Metrics().GetOutOfOrder(p))

	sv.Advance(p, 0)
	assert.Equal(t, int64(2), sv.ExpectedSequence(p))

	restored := NewSequenceValidator()
	for k, v := range sv.Partitions() {
		restored.RestorePartition(k, v)
	}
	assert.Equal(t, int64(2), restored.ExpectedSequence(p))
}

func TestParamsValidate(t *testing.T) {
	p := DefaultParams(types.DeriveAddress("test-owner"))
	require.NoError(t, p.Validate())

	bad := p
	bad.TokenSymbol = ""
	assert.Error(t, bad.Validate())

	bad = p
	bad.PriceMaxAge = -1
	assert.Error(t, bad.Validate())

	bad = p
	bad.Genesis = -1
	assert.Error(t, bad.Validate())

	assert.NotEqual(t, LedgerAddress(), PoolAddress())
	assert.Equal(t, MarketAddress("ETH-USD"), MarketAddress("ETH-USD"))
	assert.NotEqual(t, MarketAddress("ETH-USD"), MarketAddress("BTC-USD"))
}

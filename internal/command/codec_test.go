package command_test

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/types"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypesAreNamedAndConstructible(t *testing.T) {
	seen := make(map[string]bool)
	for _, ct := range command.Types() {
		name := ct.String()
		require.NotEqual(t, "Unknown", name)
		require.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true

		parsed, ok := command.ParseType(name)
		require.True(t, ok)
		assert.Equal(t, ct, parsed)

		cmd, err := command.New(ct)
		require.NoError(t, err)
		assert.Equal(t, ct, cmd.CommandType())
	}
	assert.Len(t, seen, 21)
}

func TestDecode_OpenPosition(t *testing.T) {
	body := `{
		"idempotency_key": "k-1",
		"caller": "550e8400-e29b-41d4-a716-446655440000",
		"timestamp": 1700000000,
		"source_sequence": 4,
		"margin": 1000000000,
		"leverage": 5,
		"is_long": true
	}`
	cmd, err := command.Decode("OpenPosition", []byte(body))
	require.NoError(t, err)

	open, ok := cmd.(*command.OpenPosition)
	require.True(t, ok)
	assert.Equal(t, "k-1", open.IdempotencyKey)
	assert.Equal(t, uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"), open.Caller)
	assert.Equal(t, int64(1700000000), open.Timestamp)
	assert.Equal(t, int64(4), open.SourceSequence)
	assert.Equal(t, fixed.QuoteFromInt(1000), open.Margin)
	assert.Equal(t, int64(5), open.Leverage)
	assert.True(t, open.IsLong)
}

func TestDecode_PriceIsRawString(t *testing.T) {
	body := `{"idempotency_key":"p","caller":"550e8400-e29b-41d4-a716-446655440000",
		"symbol":"ETH-USD","price":"2000000000000000000000"}`
	cmd, err := command.Decode("UpdatePrice", []byte(body))
	require.NoError(t, err)
	assert.True(t, cmd.(*command.UpdatePrice).Price.Eq(fixed.PriceFromInt(2000)))
}

func TestDecode_Rejects(t *testing.T) {
	_, err := command.Decode("Teleport", []byte(`{}`))
	require.ErrorIs(t, err, types.ErrUnknownCommand)

	_, err = command.Decode("ClosePosition", []byte(`{"caller":"550e8400-e29b-41d4-a716-446655440000"}`))
	require.ErrorContains(t, err, "missing idempotency_key")

	_, err = command.Decode("ClosePosition", []byte(`{"idempotency_key":"x","surprise":1}`))
	require.Error(t, err)

	_, err = command.Decode("OpenPosition", []byte(`{"idempotency_key":"x","leverage":"five"}`))
	require.Error(t, err)
}

func TestEncodeDecode_PreservesEveryField(t *testing.T) {
	in := &command.LiquidatePosition{
		Meta: command.Meta{
			IdempotencyKey: "liq-1",
			Caller:         uuid.MustParse("00000000-0000-0000-0000-000000000020"),
			Timestamp:      1700000100,
			SourceSequence: 9,
		},
		Trader: uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	}
	raw, err := command.Encode(in)
	require.NoError(t, err)

	out, err := command.Decode(in.CommandType().String(), raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeWithKey_Fallback(t *testing.T) {
	cmd, err := command.DecodeWithKey("ClaimRewards", []byte(`{}`), "msg-7")
	require.NoError(t, err)
	assert.Equal(t, "msg-7", cmd.Header().IdempotencyKey)

	// A key in the body wins.
	cmd, err = command.DecodeWithKey("ClaimRewards", []byte(`{"idempotency_key":"body"}`), "msg-7")
	require.NoError(t, err)
	assert.Equal(t, "body", cmd.Header().IdempotencyKey)
}

package server_test

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/fixed"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/server"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamHub_FiltersAndCloses(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ch := make(chan core.Output, 4)
	hub := server.NewStreamHub(ch, metrics, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	ts := httptest.NewServer(hub)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?types=Transfer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.StreamClients))

	ch <- core.Output{Envelope: &event.Envelope{
		Sequence: 7,
		Command:  "Mint",
		Events: []event.Event{
			&event.Approval{Owner: owner, Spender: trader, Amount: fixed.QuoteFromInt(1)},
			&event.Transfer{To: trader, Amount: fixed.QuoteFromInt(5)},
		},
	}}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got event.WireEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Transfer", got.Type)
	assert.Equal(t, int64(7), got.Sequence)
	assert.Equal(t, 1, got.Index)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.Clients())
	assert.Equal(t, float64(0), promtest.ToFloat64(metrics.StreamClients))
}

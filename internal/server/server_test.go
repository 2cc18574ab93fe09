package server_test

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/ingestion"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/projection"
	"PerpClearing/internal/query"
	"PerpClearing/internal/server"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const genesis = int64(1_700_000_000)

var (
	owner  = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	trader = uuid.MustParse("00000000-0000-0000-0000-000000000001")
)

func newServer(t *testing.T) *server.GRPCServer {
	t.Helper()
	params := core.DefaultParams(owner)
	params.Genesis = genesis
	history := projection.NewHistory(100)
	e, err := core.NewEngine(params, core.WithSink(event.SinkFunc(history.Apply)))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	api := server.NewAPI(ingestion.NewCommandService(e), query.NewQueryService(e, history, nil, nil, metrics))
	srv, err := server.NewGRPCServer("", "", &server.ServerDeps{
		API:      api,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return srv
}

func mintBody(caller uuid.UUID, amount int64) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"caller": caller.String(),
		"to":     trader.String(),
		"amount": amount,
	})
	return body
}

func post(t *testing.T, ts *httptest.Server, path, key string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(server.IdempotencyKeyHeader, key)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestGateway_SubmitCommand(t *testing.T) {
	ts := httptest.NewServer(newServer(t).Handler())
	defer ts.Close()

	resp := post(t, ts, "/v1/commands/Mint", "mint-1", mintBody(owner, 5000_000000))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wire := decode[event.WireEnvelope](t, resp)
	assert.Equal(t, int64(1), wire.Sequence)
	assert.Equal(t, "mint-1", wire.IdempotencyKey)
	require.Len(t, wire.Events, 1)
	assert.Equal(t, "Transfer", wire.Events[0].Type)

	cases := []struct {
		name   string
		path   string
		key    string
		body   []byte
		status int
		code   string
	}{
		{"duplicate", "/v1/commands/Mint", "mint-1", mintBody(owner, 5000_000000), http.StatusConflict, "DuplicateCommand"},
		{"not minter", "/v1/commands/Mint", "mint-2", mintBody(trader, 1), http.StatusForbidden, "Unauthorised"},
		{"unknown command", "/v1/commands/Teleport", "t-1", []byte(`{}`), http.StatusNotImplemented, "UnknownCommand"},
		{"bad json", "/v1/commands/Mint", "mint-3", []byte(`{`), http.StatusBadRequest, "Malformed"},
		{"no key", "/v1/commands/Mint", "", mintBody(owner, 1), http.StatusBadRequest, "Malformed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, ts, tc.path, tc.key, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			body := decode[server.ErrorBody](t, resp)
			assert.Equal(t, tc.code, body.Error)
		})
	}

	acct := get(t, ts, "/v1/accounts/"+trader.String())
	require.Equal(t, http.StatusOK, acct.StatusCode)
	got := decode[query.AccountResponse](t, acct)
	assert.Equal(t, int64(5000_000000), int64(got.WalletBalance))
}

func TestGateway_Queries(t *testing.T) {
	ts := httptest.NewServer(newServer(t).Handler())
	defer ts.Close()

	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"/v1/prices/ETH-USD", http.StatusServiceUnavailable, "PriceUnavailable"},
		{"/v1/accounts/not-a-uuid", http.StatusBadRequest, "Malformed"},
		{"/v1/positions/" + trader.String(), http.StatusNotFound, "NoPosition"},
		{"/v1/history/liquidations?limit=x", http.StatusBadRequest, "Malformed"},
		{"/v1/admin/integrity", http.StatusBadRequest, "NoDatabase"},
		{"/v1/admin/journal/" + trader.String(), http.StatusBadRequest, "NoDatabase"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp := get(t, ts, tc.path)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decode[server.ErrorBody](t, resp).Error)
		})
	}

	market := get(t, ts, "/v1/market")
	require.Equal(t, http.StatusOK, market.StatusCode)
	assert.Equal(t, "ETH-USD", decode[query.MarketResponse](t, market).Symbol)

	positions := get(t, ts, "/v1/positions")
	require.Equal(t, http.StatusOK, positions.StatusCode)
	assert.Empty(t, decode[server.PositionList](t, positions).Positions)

	funding := get(t, ts, "/v1/history/funding?limit=5")
	require.Equal(t, http.StatusOK, funding.StatusCode)

	assert.Equal(t, http.StatusOK, get(t, ts, "/healthz").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, ts, "/metrics").StatusCode)
}

func TestGateway_CORSPreflight(t *testing.T) {
	ts := httptest.NewServer(newServer(t).Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/market", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestGRPC_Service(t *testing.T) {
	srv := newServer(t)
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	defer func() {
		cancel()
		<-done
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	call := func(method string, in, out any) error {
		return conn.Invoke(ctx, "/"+server.ServiceName+"/"+method, in, out, grpc.CallContentSubtype(server.CodecName))
	}

	var wire event.WireEnvelope
	require.NoError(t, call("SubmitCommand", &server.SubmitCommandRequest{
		Command:        "Mint",
		IdempotencyKey: "grpc-1",
		Body:           mintBody(owner, 100_000000),
	}, &wire))
	assert.Equal(t, int64(1), wire.Sequence)

	var acct query.AccountResponse
	require.NoError(t, call("GetAccount", &server.AddressRequest{Address: trader}, &acct))
	assert.Equal(t, int64(100_000000), int64(acct.WalletBalance))

	var price query.PriceResponse
	err = call("GetPrice", &server.PriceRequest{Symbol: "ETH-USD"}, &price)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	err = call("GetAccount", &server.AddressRequest{}, &acct)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = call("VerifyIntegrity", &server.Empty{}, &query.IntegrityReport{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	health := healthpb.NewHealthClient(conn)
	hr, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, hr.Status)

	srv.SetServing(true)
	hr, err = health.Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hr.Status)
}

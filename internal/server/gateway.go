package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// IdempotencyKeyHeader supplies the idempotency key of a submitted command
// whose body has none.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxCommandBody = 1 << 20

// binder fills a request from the path parameters and query string.
type binder[Req any] func(r *http.Request, params map[string]string, req *Req) error

// route adapts a ClearingServer method to a gateway handler.
func route[Req any, Resp any](call func(context.Context, *Req) (Resp, error), bind binder[Req]) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if bind != nil {
			if err := bind(r, params, req); err != nil {
				writeError(w, fmt.Errorf("%w: %v", errMalformed, err))
				return
			}
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func newGateway(deps *ServerDeps) (http.Handler, error) {
	api := deps.API
	gw := runtime.NewServeMux()

	routes := []struct {
		method, path string
		handler      runtime.HandlerFunc
	}{
		{"POST", "/v1/commands/{command}", route(api.SubmitCommand, bindCommand)},
		{"GET", "/v1/prices/{symbol}", route(api.GetPrice, func(_ *http.Request, p map[string]string, req *PriceRequest) error {
			req.Symbol = p["symbol"]
			return nil
		})},
		{"GET", "/v1/accounts/{address}", route(api.GetAccount, bindAddress)},
		{"GET", "/v1/positions", route(api.ListPositions, nil)},
		{"GET", "/v1/positions/{address}", route(api.GetPosition, bindAddress)},
		{"GET", "/v1/pool", route(api.GetPool, nil)},
		{"GET", "/v1/pool/providers/{address}", route(api.GetProvider, bindAddress)},
		{"GET", "/v1/market", route(api.GetMarket, nil)},
		{"GET", "/v1/history/funding", route(api.ListFundingHistory, bindHistory)},
		{"GET", "/v1/history/liquidations", route(api.ListLiquidationHistory, bindHistory)},
		{"GET", "/v1/admin/journal/{address}", route(api.ListJournal, bindJournal)},
		{"GET", "/v1/admin/integrity", route(api.VerifyIntegrity, nil)},
	}
	for _, rt := range routes {
		if err := gw.HandlePath(rt.method, rt.path, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.path, err)
		}
	}

	mux := http.NewServeMux()
	if deps.HealthChecker != nil {
		mux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	if deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Stream != nil {
		mux.Handle("/v1/stream", deps.Stream)
	}
	mux.Handle("/", gw)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", IdempotencyKeyHeader},
	}).Handler(mux), nil
}

func bindCommand(r *http.Request, p map[string]string, req *SubmitCommandRequest) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxCommandBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	req.Command = p["command"]
	req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
	req.Body = body
	return nil
}

func bindAddress(_ *http.Request, p map[string]string, req *AddressRequest) error {
	addr, err := uuid.Parse(p["address"])
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	req.Address = addr
	return nil
}

func bindHistory(r *http.Request, _ map[string]string, req *HistoryRequest) error {
	q := r.URL.Query()
	if s := q.Get("trader"); s != "" {
		trader, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("trader: %w", err)
		}
		req.Trader = trader
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	req.Limit = int(limit)
	return nil
}

func bindJournal(r *http.Request, p map[string]string, req *JournalRequest) error {
	holder, err := uuid.Parse(p["address"])
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	req.Holder = holder
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	before, err := intParam(q.Get("before"))
	if err != nil {
		return fmt.Errorf("before: %w", err)
	}
	req.Limit, req.Before = int(limit), before
	return nil
}

func intParam(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

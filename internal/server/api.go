package server

import (
	"PerpClearing/internal/command"
	"PerpClearing/internal/event"
	"PerpClearing/internal/ingestion"
	"PerpClearing/internal/projection"
	"PerpClearing/internal/query"
	"PerpClearing/internal/types"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var errMalformed = errors.New("malformed request")

// ClearingServer is the surface shared by the gRPC service and the HTTP
// gateway. Both transports decode into the request types below and call
// the same methods.
type ClearingServer interface {
	SubmitCommand(context.Context, *SubmitCommandRequest) (*event.WireEnvelope, error)
	GetPrice(context.Context, *PriceRequest) (*query.PriceResponse, error)
	GetAccount(context.Context, *AddressRequest) (*query.AccountResponse, error)
	GetPosition(context.Context, *AddressRequest) (*query.PositionResponse, error)
	ListPositions(context.Context, *Empty) (*PositionList, error)
	GetPool(context.Context, *Empty) (*query.PoolResponse, error)
	GetProvider(context.Context, *AddressRequest) (*query.ProviderResponse, error)
	GetMarket(context.Context, *Empty) (*query.MarketResponse, error)
	ListFundingHistory(context.Context, *HistoryRequest) (*FundingHistory, error)
	ListLiquidationHistory(context.Context, *HistoryRequest) (*LiquidationHistory, error)
	ListJournal(context.Context, *JournalRequest) (*Journal, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
}

type Empty struct{}

// SubmitCommandRequest carries a command body as accepted on the NATS
// command subjects. IdempotencyKey is used when the body has none.
type SubmitCommandRequest struct {
	Command        string          `json:"command"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Body           json.RawMessage `json:"body"`
}

type PriceRequest struct {
	Symbol string `json:"symbol"`
}

type AddressRequest struct {
	Address uuid.UUID `json:"address"`
}

// HistoryRequest filters history by trader; uuid.Nil means everyone.
type HistoryRequest struct {
	Trader uuid.UUID `json:"trader"`
	Limit  int       `json:"limit"`
}

// JournalRequest pages a holder's journal backwards from Before, exclusive.
// Before 0 starts from the newest entry.
type JournalRequest struct {
	Holder uuid.UUID `json:"holder"`
	Limit  int       `json:"limit"`
	Before int64     `json:"before"`
}

type PositionList struct {
	Positions []query.PositionResponse `json:"positions"`
}

type FundingHistory struct {
	Records []projection.FundingRecord `json:"records"`
}

type LiquidationHistory struct {
	Records []projection.LiquidationRecord `json:"records"`
}

type Journal struct {
	Entries []query.JournalEntry `json:"entries"`
}

// API implements ClearingServer over the command and query services.
type API struct {
	commands *ingestion.CommandService
	queries  *query.QueryService
}

func NewAPI(commands *ingestion.CommandService, queries *query.QueryService) *API {
	return &API{commands: commands, queries: queries}
}

var _ ClearingServer = (*API)(nil)

func (a *API) SubmitCommand(ctx context.Context, req *SubmitCommandRequest) (*event.WireEnvelope, error) {
	cmd, err := command.DecodeWithKey(req.Command, req.Body, req.IdempotencyKey)
	if err != nil {
		if _, ok := types.Lookup(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	wire, err := a.commands.Apply(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &wire, nil
}

func (a *API) GetPrice(ctx context.Context, req *PriceRequest) (*query.PriceResponse, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", errMalformed)
	}
	return a.queries.GetPrice(ctx, req.Symbol)
}

func (a *API) GetAccount(ctx context.Context, req *AddressRequest) (*query.AccountResponse, error) {
	if err := types.RequireAddress(req.Address, "user"); err != nil {
		return nil, err
	}
	return a.queries.GetAccount(ctx, req.Address)
}

func (a *API) GetPosition(ctx context.Context, req *AddressRequest) (*query.PositionResponse, error) {
	if err := types.RequireAddress(req.Address, "trader"); err != nil {
		return nil, err
	}
	return a.queries.GetPosition(ctx, req.Address)
}

func (a *API) ListPositions(ctx context.Context, _ *Empty) (*PositionList, error) {
	positions, err := a.queries.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	return &PositionList{Positions: positions}, nil
}

func (a *API) GetPool(ctx context.Context, _ *Empty) (*query.PoolResponse, error) {
	return a.queries.GetPool(ctx)
}

func (a *API) GetProvider(ctx context.Context, req *AddressRequest) (*query.ProviderResponse, error) {
	if err := types.RequireAddress(req.Address, "provider"); err != nil {
		return nil, err
	}
	return a.queries.GetProvider(ctx, req.Address)
}

func (a *API) GetMarket(ctx context.Context, _ *Empty) (*query.MarketResponse, error) {
	return a.queries.GetMarket(ctx)
}

func (a *API) ListFundingHistory(ctx context.Context, req *HistoryRequest) (*FundingHistory, error) {
	records, err := a.queries.GetFundingHistory(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	return &FundingHistory{Records: records}, nil
}

func (a *API) ListLiquidationHistory(ctx context.Context, req *HistoryRequest) (*LiquidationHistory, error) {
	records, err := a.queries.GetLiquidationHistory(ctx, req.Trader, req.Limit)
	if err != nil {
		return nil, err
	}
	return &LiquidationHistory{Records: records}, nil
}

func (a *API) ListJournal(ctx context.Context, req *JournalRequest) (*Journal, error) {
	if err := types.RequireAddress(req.Holder, "holder"); err != nil {
		return nil, err
	}
	entries, err := a.queries.GetJournalHistory(ctx, req.Holder, req.Limit, req.Before)
	if err != nil {
		return nil, err
	}
	return &Journal{Entries: entries}, nil
}

func (a *API) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return a.queries.VerifyIntegrity(ctx)
}

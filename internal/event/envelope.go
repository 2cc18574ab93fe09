package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTransfer
	EventTypeApproval
	EventTypePriceUpdated
	EventTypeFeederAuthorized
	EventTypeFeederDeauthorized
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
	EventTypeCollateralLocked
	EventTypeCollateralReleased
	EventTypeCollateralSeized
	EventTypeCollateralCredited
	EventTypeCollateralTransferred
	EventTypeMarketAuthorized
	EventTypeMarketDeauthorized
	EventTypeLiquidityAdded
	EventTypeLiquidityRemoved
	EventTypeFeesCollected
	EventTypeTraderLossSettled
	EventTypeTraderProfitSettled
	EventTypeInsuranceFundUsed
	EventTypeRewardPaid
	EventTypeUtilizationRateUpdated
	EventTypeFeeRateUpdated
	EventTypeInsuranceFundRateUpdated
	EventTypePositionOpened
	EventTypePositionClosed
	EventTypePositionLiquidated
	EventTypeFundingRateUpdated
	EventTypeMarketPaused
	EventTypeMarketResumed
)

var eventTypeNames = map[EventType]string{
	EventTypeTransfer:                 "Transfer",
	EventTypeApproval:                 "Approval",
	EventTypePriceUpdated:             "PriceUpdated",
	EventTypeFeederAuthorized:         "FeederAuthorized",
	EventTypeFeederDeauthorized:       "FeederDeauthorized",
	EventTypeCollateralDeposited:      "CollateralDeposited",
	EventTypeCollateralWithdrawn:      "CollateralWithdrawn",
	EventTypeCollateralLocked:         "CollateralLocked",
	EventTypeCollateralReleased:       "CollateralReleased",
	EventTypeCollateralSeized:         "CollateralSeized",
	EventTypeCollateralCredited:       "CollateralCredited",
	EventTypeCollateralTransferred:    "CollateralTransferred",
	EventTypeMarketAuthorized:         "MarketAuthorized",
	EventTypeMarketDeauthorized:       "MarketDeauthorized",
	EventTypeLiquidityAdded:           "LiquidityAdded",
	EventTypeLiquidityRemoved:         "LiquidityRemoved",
	EventTypeFeesCollected:            "FeesCollected",
	EventTypeTraderLossSettled:        "TraderLossSettled",
	EventTypeTraderProfitSettled:      "TraderProfitSettled",
	EventTypeInsuranceFundUsed:        "InsuranceFundUsed",
	EventTypeRewardPaid:               "RewardPaid",
	EventTypeUtilizationRateUpdated:   "UtilizationRateUpdated",
	EventTypeFeeRateUpdated:           "FeeRateUpdated",
	EventTypeInsuranceFundRateUpdated: "InsuranceFundRateUpdated",
	EventTypePositionOpened:           "PositionOpened",
	EventTypePositionClosed:           "PositionClosed",
	EventTypePositionLiquidated:       "PositionLiquidated",
	EventTypeFundingRateUpdated:       "FundingRateUpdated",
	EventTypeMarketPaused:             "MarketPaused",
	EventTypeMarketResumed:            "MarketResumed",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// Event is the interface all committed event payloads implement.
type Event interface {
	// EventType returns the discriminator
	EventType() EventType
}

// Envelope wraps the outcome of one committed command in the log.
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type that produced the events
	Command string

	// Command caller
	Caller uuid.UUID

	// Versioned input timestamp in unix seconds (NOT wall-clock)
	Timestamp int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command, kept for replay
	Payload []byte

	// Events emitted by the command, in emission order
	Events []Event

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Record is the wire form of a single event.
type Record struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode converts events to their wire records.
func Encode(events []Event) ([]Record, error) {
	records := make([]Record, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
		}
		records = append(records, Record{Type: e.EventType().String(), Payload: payload})
	}
	return records, nil
}

// Find returns the first event of type T in events.
func Find[T Event](events []Event) (T, bool) {
	for _, e := range events {
		if typed, ok := e.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

var constructors = map[string]func() Event{
	"Transfer":                 func() Event { return &Transfer{} },
	"Approval":                 func() Event { return &Approval{} },
	"PriceUpdated":             func() Event { return &PriceUpdated{} },
	"FeederAuthorized":         func() Event { return &FeederAuthorized{} },
	"FeederDeauthorized":       func() Event { return &FeederDeauthorized{} },
	"CollateralDeposited":      func() Event { return &CollateralDeposited{} },
	"CollateralWithdrawn":      func() Event { return &CollateralWithdrawn{} },
	"CollateralLocked":         func() Event { return &CollateralLocked{} },
	"CollateralReleased":       func() Event { return &CollateralReleased{} },
	"CollateralSeized":         func() Event { return &CollateralSeized{} },
	"CollateralCredited":       func() Event { return &CollateralCredited{} },
	"CollateralTransferred":    func() Event { return &CollateralTransferred{} },
	"MarketAuthorized":         func() Event { return &MarketAuthorized{} },
	"MarketDeauthorized":       func() Event { return &MarketDeauthorized{} },
	"LiquidityAdded":           func() Event { return &LiquidityAdded{} },
	"LiquidityRemoved":         func() Event { return &LiquidityRemoved{} },
	"FeesCollected":            func() Event { return &FeesCollected{} },
	"TraderLossSettled":        func() Event { return &TraderLossSettled{} },
	"TraderProfitSettled":      func() Event { return &TraderProfitSettled{} },
	"InsuranceFundUsed":        func() Event { return &InsuranceFundUsed{} },
	"RewardPaid":               func() Event { return &RewardPaid{} },
	"UtilizationRateUpdated":   func() Event { return &UtilizationRateUpdated{} },
	"FeeRateUpdated":           func() Event { return &FeeRateUpdated{} },
	"InsuranceFundRateUpdated": func() Event { return &InsuranceFundRateUpdated{} },
	"PositionOpened":           func() Event { return &PositionOpened{} },
	"PositionClosed":           func() Event { return &PositionClosed{} },
	"PositionLiquidated":       func() Event { return &PositionLiquidated{} },
	"FundingRateUpdated":       func() Event { return &FundingRateUpdated{} },
	"MarketPaused":             func() Event { return &MarketPaused{} },
	"MarketResumed":            func() Event { return &MarketResumed{} },
}

// Decode converts wire records back to typed events.
func Decode(records []Record) ([]Event, error) {
	events := make([]Event, 0, len(records))
	for _, r := range records {
		ctor, ok := constructors[r.Type]
		if !ok {
			return nil, fmt.Errorf("unknown event type %q", r.Type)
		}
		e := ctor()
		if err := json.Unmarshal(r.Payload, e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.Type, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// internal/event/mark_price.go
package event

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

type PriceUpdated struct {
	Symbol    string      `json:"symbol"`
	Price     fixed.Price `json:"price"`
	Updater   uuid.UUID   `json:"updater"`
	UpdatedAt int64       `json:"updated_at"`
}

func (e *PriceUpdated) EventType() EventType { return EventTypePriceUpdated }

type FeederAuthorized struct {
	Feeder uuid.UUID `json:"feeder"`
}

func (e *FeederAuthorized) EventType() EventType { return EventTypeFeederAuthorized }

type FeederDeauthorized struct {
	Feeder uuid.UUID `json:"feeder"`
}

func (e *FeederDeauthorized) EventType() EventType { return EventTypeFeederDeauthorized }

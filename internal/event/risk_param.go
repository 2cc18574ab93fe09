// internal/event/risk_param.go
package event

import (
	"PerpClearing/internal/fixed"
)

type UtilizationRateUpdated struct {
	Rate fixed.Price `json:"rate"`
}

func (e *UtilizationRateUpdated) EventType() EventType { return EventTypeUtilizationRateUpdated }

type FeeRateUpdated struct {
	Rate fixed.Price `json:"rate"`
}

func (e *FeeRateUpdated) EventType() EventType { return EventTypeFeeRateUpdated }

type InsuranceFundRateUpdated struct {
	Rate fixed.Price `json:"rate"`
}

func (e *InsuranceFundRateUpdated) EventType() EventType { return EventTypeInsuranceFundRateUpdated }

// internal/event/funding.go
package event

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

// FundingRateUpdated is emitted when a recomputation changes the rate.
type FundingRateUpdated struct {
	Market            uuid.UUID   `json:"market"`
	Rate              fixed.Rate  `json:"rate"`
	CumulativeFunding fixed.Rate  `json:"cumulative_funding"`
	OpenInterestLong  fixed.Quote `json:"open_interest_long"`
	OpenInterestShort fixed.Quote `json:"open_interest_short"`
	Timestamp         int64       `json:"timestamp"`
}

func (e *FundingRateUpdated) EventType() EventType { return EventTypeFundingRateUpdated }

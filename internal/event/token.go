package event

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

// Transfer mirrors an ERC20 transfer. From is uuid.Nil for mints.
type Transfer struct {
	From   uuid.UUID   `json:"from"`
	To     uuid.UUID   `json:"to"`
	Amount fixed.Quote `json:"amount"`
}

func (e *Transfer) EventType() EventType { return EventTypeTransfer }

type Approval struct {
	Owner   uuid.UUID   `json:"owner"`
	Spender uuid.UUID   `json:"spender"`
	Amount  fixed.Quote `json:"amount"`
}

func (e *Approval) EventType() EventType { return EventTypeApproval }

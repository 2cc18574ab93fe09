package token

import (
	"PerpClearing/internal/fixed"
	"fmt"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeTransfer
	JournalTypeTransferFrom
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeMint:
		return "mint"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeTransferFrom:
		return "transfer_from"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry movement of tokens.
// Debit receives, credit pays.
type Journal struct {
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Amount        fixed.Quote // ALWAYS positive
	JournalType   JournalType
}

// Validate ensures the journal is well-formed. Each journal is balanced by
// construction: one positive amount moves from credit to debit.
func (j Journal) Validate() error {
	if j.Amount <= 0 {
		return fmt.Errorf("%s journal has non-positive amount: %d", j.JournalType, j.Amount)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("%s journal has same debit and credit account", j.JournalType)
	}
	return nil
}

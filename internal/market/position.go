package market

import (
	"PerpClearing/internal/fixed"

	"github.com/google/uuid"
)

// Position is a trader's single open position in a market.
type Position struct {
	Trader            uuid.UUID   `json:"trader"`
	Size              fixed.Quote `json:"size"`   // notional at entry
	Margin            fixed.Quote `json:"margin"` // locked collateral
	EntryPrice        fixed.Price `json:"entry_price"`
	IsLong            bool        `json:"is_long"`
	Leverage          int64       `json:"leverage"`
	LastFundingCursor fixed.Rate  `json:"last_funding_cursor"`
	OpenedAt          int64       `json:"opened_at"`
}

// SideSign returns +1 for long, -1 for short.
func (p Position) SideSign() int64 {
	if p.IsLong {
		return 1
	}
	return -1
}

func (p Position) Side() string {
	if p.IsLong {
		return "long"
	}
	return "short"
}

// CanonicalBytes returns deterministic serialization for hashing
func (p Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)

	// trader (16 bytes UUID binary)
	buf = append(buf, p.Trader[:]...)

	// side (1 byte)
	if p.IsLong {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = appendInt64LE(buf, int64(p.Size))
	buf = appendInt64LE(buf, int64(p.Margin))

	// entry_price (32 bytes big-endian)
	entry := p.EntryPrice.Bytes32()
	buf = append(buf, entry[:]...)

	buf = appendInt64LE(buf, p.Leverage)

	// last_funding_cursor (32 bytes, two's complement)
	cursor := p.LastFundingCursor.Bytes32()
	buf = append(buf, cursor[:]...)

	buf = appendInt64LE(buf, p.OpenedAt)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

package fixed

import (
	"PerpClearing/internal/types"
	"fmt"

	"github.com/holiman/uint256"
)

// AtLeastPct reports whether x ≥ y × pct / 100 without truncation.
func AtLeastPct(x, y Quote, pct uint64) bool {
	if x < 0 || y < 0 {
		return false
	}
	var lhs, rhs uint256.Int
	lhs.Mul(uint256.NewInt(uint64(x)), uint256.NewInt(100))
	rhs.Mul(uint256.NewInt(uint64(y)), uint256.NewInt(pct))
	return !lhs.Lt(&rhs)
}

// LiquidationPrice returns the mark price at which the loss on a position
// of size entered at entry reaches thresholdPct of margin:
//
//	long:  entry × (100·size − threshold·margin) / (100·size)
//	short: entry × (100·size + threshold·margin) / (100·size)
//
// A long whose margin covers the whole move returns zero.
func LiquidationPrice(entry Price, size, margin Quote, thresholdPct uint64, isLong bool) (Price, error) {
	if size <= 0 || margin < 0 {
		return Price{}, fmt.Errorf("liquidation price: invalid size %d or margin %d", size, margin)
	}
	var den, cushion, num uint256.Int
	den.Mul(uint256.NewInt(uint64(size)), uint256.NewInt(100))
	cushion.Mul(uint256.NewInt(uint64(margin)), uint256.NewInt(thresholdPct))
	if isLong {
		if !cushion.Lt(&den) {
			return Price{}, nil
		}
		num.Sub(&den, &cushion)
	} else {
		num.Add(&den, &cushion)
	}
	var out Price
	if _, overflow := out.v.MulDivOverflow(&entry.v, &num, &den); overflow {
		return Price{}, types.ErrArithmeticOverflow
	}
	return out, nil
}

package pool

import (
	"PerpClearing/internal/fixed"
)

// ComputeCoverage returns how much of deficit a fund of fundBalance can
// cover, and what remains uncovered.
func ComputeCoverage(fundBalance, deficit fixed.Quote) (covered, remaining fixed.Quote) {
	if deficit <= 0 {
		return 0, 0
	}
	if fundBalance >= deficit {
		return deficit, 0
	}
	if fundBalance < 0 {
		return 0, deficit
	}
	return fundBalance, deficit - fundBalance
}

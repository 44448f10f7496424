package ledger

import (
	"fmt"
	"math"

	"github.com/dmitrijs2005/promptseal/internal/common"
)

// BaseUnitScale is the number of base units in one native coin.
const BaseUnitScale = 1e9

// ToBaseUnits converts a display-currency price to on-chain base units:
// floor((display / rate) * 1e9).
func ToBaseUnits(display, rate float64) (uint64, error) {
	if math.IsNaN(display) || math.IsInf(display, 0) || display < 0 {
		return 0, fmt.Errorf("%w: price %v", common.ErrInvalidArgument, display)
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return 0, fmt.Errorf("%w: exchange rate %v", common.ErrInvalidArgument, rate)
	}

	v := math.Floor((display / rate) * BaseUnitScale)
	if v >= math.MaxUint64 || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: price %v overflows u64", common.ErrInvalidArgument, display)
	}
	return uint64(v), nil
}

// FromBaseUnits converts on-chain base units back to the display currency.
// A rate <= 0 is treated as 1.
func FromBaseUnits(v uint64, rate float64) float64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		rate = 1
	}
	return float64(v) / BaseUnitScale * rate
}

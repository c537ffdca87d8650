// Package cost provides fixed-point money arithmetic and token pricing for
// extraction API usage.
package cost

import (
	"fmt"
	"math"
)

// USD is a monetary amount in micro-dollars (6 decimal places). Ledger and
// store arithmetic stays in integers; float64 appears only at configuration
// and display boundaries, so repeated accumulation cannot drift.
type USD int64

// FromFloat converts a dollar amount to USD, rounding half away from zero at
// the sixth decimal place.
func FromFloat(dollars float64) USD {
	return USD(math.Round(dollars * 1e6))
}

// Float64 returns the amount in dollars. Display use only.
func (u USD) Float64() float64 {
	return float64(u) / 1e6
}

// String formats the amount as a dollar figure with six decimal places.
func (u USD) String() string {
	sign := ""
	v := int64(u)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%06d", sign, v/1e6, v%1e6)
}

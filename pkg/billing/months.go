package billing

import "fmt"

// MonthsFunc converts a vendor order period in days into whole months for catalog lookup.
// The same function must be used everywhere a duration is priced.
type MonthsFunc func(days int) int

// Rounding selects how partial months are treated by NewMonthsFunc.
type Rounding int

const (
	RoundFloor Rounding = iota
	RoundNearest
	RoundCeil
)

// DaysPerMonth is the month length used by MonthsFloor30.
const DaysPerMonth = 30

// MonthsFloor30 is the default conversion: 30-day months, partial months dropped,
// never less than one month. 365 days price as 12 months, 730 as 24.
var MonthsFloor30 = NewMonthsFunc(DaysPerMonth, RoundFloor)

// NewMonthsFunc returns a conversion with the given month length and rounding.
// Non-positive periods map to 0 so that the catalog lookup fails loudly; any positive
// period maps to at least one month.
func NewMonthsFunc(daysPerMonth int, rounding Rounding) MonthsFunc {
	if daysPerMonth <= 0 {
		panic(fmt.Sprintf("billing: days per month must be positive, got %d", daysPerMonth))
	}
	return func(days int) int {
		if days <= 0 {
			return 0
		}
		var months int
		switch rounding {
		case RoundCeil:
			months = (days + daysPerMonth - 1) / daysPerMonth
		case RoundNearest:
			months = (days + daysPerMonth/2) / daysPerMonth
		default:
			months = days / daysPerMonth
		}
		return max(months, 1)
	}
}

// ParseRounding maps "floor", "nearest" and "ceil" to a Rounding. Empty means floor.
func ParseRounding(name string) (Rounding, error) {
	switch name {
	case "", "floor":
		return RoundFloor, nil
	case "nearest":
		return RoundNearest, nil
	case "ceil":
		return RoundCeil, nil
	}
	return RoundFloor, fmt.Errorf("billing: unknown month rounding %q", name)
}

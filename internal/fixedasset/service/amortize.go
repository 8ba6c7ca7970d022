package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// monthlyPeriodKeys returns n consecutive YYYY-MM keys starting at the
// month of start.
func monthlyPeriodKeys(start time.Time, n int) []string {
	keys := make([]string, 0, n)
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		keys = append(keys, cursor.Format("2006-01"))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return keys
}

// periodEnd returns the last instant of the given YYYY-MM period, used as
// the effective date of the period's posting.
func periodEnd(periodKey string) (time.Time, error) {
	start, err := time.Parse("2006-01", periodKey)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 1, 0).Add(-time.Second), nil
}

// straightLineAmounts spreads base evenly over n periods. Every period
// gets the rounded per-period amount; the final period absorbs the
// rounding remainder so the total is exactly base.
func straightLineAmounts(base int64, n int) []int64 {
	per := decimal.NewFromInt(base).
		DivRound(decimal.NewFromInt(int64(n)), 0).
		IntPart()
	last := base - per*int64(n-1)
	if last < 0 {
		// Rounding up would overshoot; fall back to floor division.
		per = base / int64(n)
		last = base - per*int64(n-1)
	}

	amounts := make([]int64, n)
	for i := 0; i < n-1; i++ {
		amounts[i] = per
	}
	amounts[n-1] = last
	return amounts
}

// decliningBalanceAmounts applies a fixed rate to the remaining book
// value each period, switching to straight-line over the remaining life
// once that yields more, and never depreciating below salvage. The final
// period absorbs any residue so the total is exactly cost-salvage.
func decliningBalanceAmounts(cost, salvage int64, n int, ratePct int64) []int64 {
	monthlyRate := decimal.NewFromInt(ratePct).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(n)))

	amounts := make([]int64, n)
	book := cost
	remaining := cost - salvage
	for i := 0; i < n; i++ {
		if i == n-1 {
			amounts[i] = remaining
			break
		}
		amount := decimal.NewFromInt(book).Mul(monthlyRate).Round(0).IntPart()
		straight := decimal.NewFromInt(remaining).
			DivRound(decimal.NewFromInt(int64(n-i)), 0).
			IntPart()
		if straight > amount {
			amount = straight
		}
		if amount > remaining {
			amount = remaining
		}
		amounts[i] = amount
		book -= amount
		remaining -= amount
	}
	return amounts
}

// unitsAmounts prorates base by actual usage against total expected
// units. When usage consumes the full total, the last used period absorbs
// the rounding remainder so the total is exactly base.
func unitsAmounts(base, totalUnits int64, usage []int64) []int64 {
	amounts := make([]int64, len(usage))
	var consumed, assigned int64
	for i, units := range usage {
		amounts[i] = decimal.NewFromInt(base).
			Mul(decimal.NewFromInt(units)).
			DivRound(decimal.NewFromInt(totalUnits), 0).
			IntPart()
		consumed += units
		assigned += amounts[i]
	}
	if consumed == totalUnits && len(amounts) > 0 {
		amounts[len(amounts)-1] += base - assigned
	}
	return amounts
}

// macrsAmounts expands an annual percentage table over the depreciable
// base into monthly amounts. Each year's amount is spread evenly with the
// twelfth month absorbing the year's rounding residue; the final month
// trues the total up to exactly base.
func macrsAmounts(base int64, rates []decimal.Decimal) []int64 {
	amounts := make([]int64, 0, len(rates)*12)
	hundred := decimal.NewFromInt(100)
	twelve := decimal.NewFromInt(12)

	var assigned int64
	for yearIdx, rate := range rates {
		annual := decimal.NewFromInt(base).Mul(rate).DivRound(hundred, 0).IntPart()
		if yearIdx == len(rates)-1 {
			annual = base - assigned
		}
		monthly := decimal.NewFromInt(annual).DivRound(twelve, 0).IntPart()
		var yearAssigned int64
		for month := 0; month < 12; month++ {
			amount := monthly
			if month == 11 {
				amount = annual - yearAssigned
			}
			amounts = append(amounts, amount)
			yearAssigned += amount
		}
		assigned += annual
	}
	return amounts
}

// accretionAmounts compounds a present value monthly at rate/12 toward
// the settlement value, one amount per period. The final period is trued
// up so the ending liability equals pv*(1+rate/12)^n exactly.
func accretionAmounts(pv int64, annualRate decimal.Decimal, n int) []int64 {
	monthlyRate := annualRate.Div(decimal.NewFromInt(12))
	target := decimal.NewFromInt(pv).
		Mul(decimal.NewFromInt(1).Add(monthlyRate).Pow(decimal.NewFromInt(int64(n)))).
		Round(0).
		IntPart()

	amounts := make([]int64, n)
	opening := pv
	for i := 0; i < n; i++ {
		if i == n-1 {
			amounts[i] = target - opening
			break
		}
		amount := decimal.NewFromInt(opening).Mul(monthlyRate).Round(0).IntPart()
		amounts[i] = amount
		opening += amount
	}
	return amounts
}

// monthsBetween counts whole calendar months from start to end, minimum 1.
func monthsBetween(start, end time.Time) int {
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if months < 1 {
		months = 1
	}
	return months
}

func sumAmounts(amounts []int64) int64 {
	var total int64
	for _, amount := range amounts {
		total += amount
	}
	return total
}

package shared

import "math"

// RoundMoney rounds a non-negative amount half-up to two decimal places.
// Every fee leaving the tariff calculator passes through here so that
// stored costs always carry exactly two fractional digits.
func RoundMoney(amount float64) float64 {
	return math.Floor(amount*100+0.5) / 100
}

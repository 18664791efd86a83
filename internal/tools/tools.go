package tools

import "github.com/shopspring/decimal"

// RoundMoney rounds a dollar amount to cents without accumulating
// binary float artifacts.
func RoundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// RoundPct rounds a percentage to two decimal places.
func RoundPct(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

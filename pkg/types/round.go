package types

import "github.com/shopspring/decimal"

// Round2 rounds money amounts (prices, costs, P&L) to 2 decimal places.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Round4 rounds greeks to 4 decimal places.
func Round4(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}

// RoundTo rounds a value to the nearest multiple of target. Used to snap
// order prices and volumes to the contract's tick and lot.
func RoundTo(v, target float64) float64 {
	if target == 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	t := decimal.NewFromFloat(target)
	f, _ := d.Div(t).Round(0).Mul(t).Float64()
	return f
}

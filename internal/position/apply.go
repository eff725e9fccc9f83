package position

import "options-engine/pkg/types"

// signedVolume converts a fill to a signed quantity, positive for LONG.
func signedVolume(direction types.Direction, volume float64) int {
	q := int(volume)
	if direction == types.DirectionShort {
		return -q
	}
	return q
}

// applyChange folds one fill into a position's cost and P&L state.
//
// Same-sign fills (or fills into a flat position) extend the position at a
// volume-weighted average cost. Opposite-sign fills close against the
// average cost, realizing P&L for the matched size; any excess reverses
// the position at the fill price. Money amounts round to 2 decimals.
//
// comboParent marks the aggregate side of a multi-leg position, which
// tracks only quantity and cost value; its cost basis is rebuilt from the
// legs on each metrics refresh.
func applyChange(pos *types.Position, direction types.Direction, price float64, volume float64, comboParent bool) {
	s := signedVolume(direction, volume)
	if s == 0 {
		return
	}

	if comboParent {
		pos.Quantity += s
		pos.CostValue = types.Round2(pos.AvgCost * float64(absInt(pos.Quantity)) * pos.Multiplier)
		return
	}

	q0 := pos.Quantity
	a0 := pos.AvgCost

	// Same-sign open or fresh position.
	if q0 == 0 || sameSign(q0, s) {
		if q0 == 0 {
			pos.AvgCost = types.Round2(price)
		} else {
			total := float64(absInt(q0) + absInt(s))
			pos.AvgCost = types.Round2((a0*float64(absInt(q0)) + price*float64(absInt(s))) / total)
		}
		pos.Quantity = q0 + s
		pos.CostValue = types.Round2(pos.AvgCost * float64(absInt(pos.Quantity)) * pos.Multiplier)
		return
	}

	// Opposite sign: close against the average cost.
	closed := min(absInt(q0), absInt(s))
	var pnl float64
	if q0 > 0 {
		pnl = types.Round2((price - a0) * float64(closed))
	} else {
		pnl = types.Round2((a0 - price) * float64(closed))
	}
	pos.RealizedPnL += types.Round2(pnl * pos.Multiplier)

	remaining := absInt(q0) - closed
	extra := absInt(s) - closed

	switch {
	case extra > 0:
		// Reversal: flat, then reopen the excess at the fill price.
		pos.AvgCost = types.Round2(price)
		pos.Quantity = sign(s) * extra
		pos.CostValue = types.Round2(pos.AvgCost * float64(extra) * pos.Multiplier)
	case remaining == 0:
		pos.Quantity = 0
		pos.AvgCost = 0
		pos.CostValue = 0
	default:
		pos.Quantity = sign(q0) * remaining
		pos.CostValue = types.Round2(pos.AvgCost * float64(remaining) * pos.Multiplier)
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}

func sameSign(a, b int) bool {
	return (a > 0) == (b > 0)
}

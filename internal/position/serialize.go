package position

import (
	"fmt"

	"options-engine/pkg/types"
)

// SerializeHolding produces the nested plain-data snapshot persisted in
// the strategy data file. Only numeric state and symbols are captured;
// market snapshots are rebuilt on load.
func (e *Engine) SerializeHolding(strategy string) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	holding, ok := e.holdings[strategy]
	if !ok {
		return nil, fmt.Errorf("serialize holding: no holding for %s", strategy)
	}

	options := make([]map[string]any, 0, len(holding.Options))
	for _, pos := range holding.Options {
		options = append(options, serializePosition(pos))
	}
	combos := make([]map[string]any, 0, len(holding.Combos))
	for _, combo := range holding.Combos {
		legs := make([]map[string]any, 0, len(combo.Legs))
		for _, leg := range combo.Legs {
			legs = append(legs, serializePosition(leg))
		}
		m := serializePosition(&combo.Position)
		m["combo_type"] = string(combo.ComboType)
		m["legs"] = legs
		combos = append(combos, m)
	}

	return map[string]any{
		"underlying": serializePosition(holding.Underlying),
		"options":    options,
		"combos":     combos,
		"summary": map[string]any{
			"total_cost":     holding.Summary.TotalCost,
			"current_value":  holding.Summary.CurrentValue,
			"unrealized_pnl": holding.Summary.UnrealizedPnL,
			"realized_pnl":   holding.Summary.RealizedPnL,
			"pnl":            holding.Summary.PnL,
			"delta":          holding.Summary.Delta,
			"gamma":          holding.Summary.Gamma,
			"theta":          holding.Summary.Theta,
			"vega":           holding.Summary.Vega,
		},
	}, nil
}

// LoadHolding reconstructs a strategy holding from a serialized snapshot,
// replacing any holding already present.
func (e *Engine) LoadHolding(strategy string, blob map[string]any) error {
	holding := types.NewHolding()

	if u, ok := blob["underlying"].(map[string]any); ok {
		loadPosition(holding.Underlying, u)
	}
	for _, raw := range asSlice(blob["options"]) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		pos := types.NewOptionPosition(asString(m["symbol"]))
		loadPosition(pos, m)
		holding.Options[pos.Symbol] = pos
	}
	for _, raw := range asSlice(blob["combos"]) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		combo := types.NewComboPosition(
			asString(m["symbol"]),
			types.ComboType(asString(m["combo_type"])),
		)
		loadPosition(&combo.Position, m)
		for _, rawLeg := range asSlice(m["legs"]) {
			lm, ok := rawLeg.(map[string]any)
			if !ok {
				continue
			}
			leg := types.NewOptionPosition(asString(lm["symbol"]))
			loadPosition(leg, lm)
			combo.Legs = append(combo.Legs, leg)
		}
		holding.Combos[combo.Symbol] = combo
	}
	if s, ok := blob["summary"].(map[string]any); ok {
		holding.Summary = types.Summary{
			TotalCost:     asFloat(s["total_cost"]),
			CurrentValue:  asFloat(s["current_value"]),
			UnrealizedPnL: asFloat(s["unrealized_pnl"]),
			RealizedPnL:   asFloat(s["realized_pnl"]),
			PnL:           asFloat(s["pnl"]),
			Delta:         asFloat(s["delta"]),
			Gamma:         asFloat(s["gamma"]),
			Theta:         asFloat(s["theta"]),
			Vega:          asFloat(s["vega"]),
		}
	}

	e.mu.Lock()
	e.holdings[strategy] = holding
	e.mu.Unlock()
	return nil
}

func serializePosition(p *types.Position) map[string]any {
	return map[string]any{
		"symbol":       p.Symbol,
		"quantity":     p.Quantity,
		"avg_cost":     p.AvgCost,
		"cost_value":   p.CostValue,
		"realized_pnl": p.RealizedPnL,
		"multiplier":   p.Multiplier,
	}
}

func loadPosition(p *types.Position, m map[string]any) {
	if sym := asString(m["symbol"]); sym != "" {
		p.Symbol = sym
	}
	p.Quantity = asInt(m["quantity"])
	p.AvgCost = asFloat(m["avg_cost"])
	p.CostValue = asFloat(m["cost_value"])
	p.RealizedPnL = asFloat(m["realized_pnl"])
	if mult := asFloat(m["multiplier"]); mult != 0 {
		p.Multiplier = mult
	}
}

// YAML and JSON decoders hand numbers back as assorted widths; these
// helpers normalize them.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out
	}
	return nil
}

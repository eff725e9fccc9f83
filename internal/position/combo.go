package position

import (
	"fmt"

	"options-engine/pkg/types"
)

// ContractSource resolves option symbols to contract definitions.
type ContractSource interface {
	Contract(symbol string) (*types.Contract, error)
}

// ComboRequest names the option inputs for one multi-leg shape.
//
// Named shapes read their inputs from Options, keyed by the shape's role
// names (see the role tables below). CUSTOM reads the ordered Symbols
// list and applies Direction uniformly to every leg, which is how combo
// positions are closed. Ratio only affects RATIO_SPREAD (default 2).
type ComboRequest struct {
	Type      types.ComboType
	Options   map[string]string
	Symbols   []string
	Direction types.Direction
	Volume    int
	Ratio     int
}

// comboShape describes one named combo: ordered roles, each role's
// direction under the anchor intent, the role's ratio multiplier, and the
// intent the table is written for. The opposite intent flips every leg.
type comboShape struct {
	roles  []comboRole
	anchor types.Direction
}

type comboRole struct {
	name      string
	direction types.Direction
	mult      int
}

var comboShapes = map[types.ComboType]comboShape{
	types.ComboStraddle: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"call", types.DirectionLong, 1},
			{"put", types.DirectionLong, 1},
		},
	},
	types.ComboStrangle: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"call", types.DirectionLong, 1},
			{"put", types.DirectionLong, 1},
		},
	},
	types.ComboSpread: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"long_leg", types.DirectionLong, 1},
			{"short_leg", types.DirectionShort, 1},
		},
	},
	types.ComboDiagonalSpread: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"long_leg", types.DirectionLong, 1},
			{"short_leg", types.DirectionShort, 1},
		},
	},
	types.ComboRatioSpread: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"long_leg", types.DirectionLong, 1},
			{"short_leg", types.DirectionShort, 0}, // 0 marks the ratio leg
		},
	},
	types.ComboRiskReversal: {
		anchor: types.DirectionShort,
		roles: []comboRole{
			{"long_leg", types.DirectionLong, 1},
			{"short_leg", types.DirectionShort, 1},
		},
	},
	types.ComboButterfly: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"lower", types.DirectionLong, 1},
			{"middle", types.DirectionShort, 2},
			{"upper", types.DirectionLong, 1},
		},
	},
	types.ComboInverseButterfly: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"lower", types.DirectionShort, 1},
			{"middle", types.DirectionLong, 2},
			{"upper", types.DirectionShort, 1},
		},
	},
	types.ComboIronButterfly: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"put_wing", types.DirectionLong, 1},
			{"put_atm", types.DirectionShort, 1},
			{"call_atm", types.DirectionShort, 1},
			{"call_wing", types.DirectionLong, 1},
		},
	},
	types.ComboIronCondor: {
		anchor: types.DirectionShort,
		roles: []comboRole{
			{"put_lower", types.DirectionLong, 1},
			{"put_upper", types.DirectionShort, 1},
			{"call_lower", types.DirectionShort, 1},
			{"call_upper", types.DirectionLong, 1},
		},
	},
	types.ComboCondor: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"lower", types.DirectionLong, 1},
			{"lower_middle", types.DirectionShort, 1},
			{"upper_middle", types.DirectionShort, 1},
			{"upper", types.DirectionLong, 1},
		},
	},
	types.ComboBoxSpread: {
		anchor: types.DirectionLong,
		roles: []comboRole{
			{"call_lower", types.DirectionLong, 1},
			{"call_upper", types.DirectionShort, 1},
			{"put_lower", types.DirectionShort, 1},
			{"put_upper", types.DirectionLong, 1},
		},
	},
}

func flip(d types.Direction) types.Direction {
	if d == types.DirectionLong {
		return types.DirectionShort
	}
	return types.DirectionLong
}

// BuildCombo assembles the legs and canonical signature for a combo order.
// Leg ratios carry the order volume times the role's multiplicity, so one
// combo order fully describes its per-leg quantities.
func BuildCombo(contracts ContractSource, req ComboRequest) ([]types.Leg, string, error) {
	if req.Volume <= 0 {
		return nil, "", fmt.Errorf("combo %s: volume must be positive", req.Type)
	}

	if req.Type == types.ComboCustom {
		return buildCustom(contracts, req)
	}

	shape, ok := comboShapes[req.Type]
	if !ok {
		return nil, "", fmt.Errorf("unknown combo type %q", req.Type)
	}

	ratio := req.Ratio
	if ratio <= 0 {
		ratio = 2
	}

	legs := make([]types.Leg, 0, len(shape.roles))
	symbols := make([]string, 0, len(shape.roles))
	for _, role := range shape.roles {
		symbol, ok := req.Options[role.name]
		if !ok || symbol == "" {
			return nil, "", fmt.Errorf("combo %s: missing option %q", req.Type, role.name)
		}
		dir := role.direction
		if req.Direction != shape.anchor {
			dir = flip(dir)
		}
		mult := role.mult
		if mult == 0 {
			mult = ratio
		}
		leg, err := newLeg(contracts, symbol, dir, req.Volume*mult)
		if err != nil {
			return nil, "", fmt.Errorf("combo %s: %w", req.Type, err)
		}
		legs = append(legs, leg)
		symbols = append(symbols, symbol)
	}
	return legs, types.ComboSignature(symbols), nil
}

func buildCustom(contracts ContractSource, req ComboRequest) ([]types.Leg, string, error) {
	if len(req.Symbols) == 0 {
		return nil, "", fmt.Errorf("custom combo: no legs")
	}
	legs := make([]types.Leg, 0, len(req.Symbols))
	for _, symbol := range req.Symbols {
		leg, err := newLeg(contracts, symbol, req.Direction, req.Volume)
		if err != nil {
			return nil, "", fmt.Errorf("custom combo: %w", err)
		}
		legs = append(legs, leg)
	}
	return legs, types.ComboSignature(req.Symbols), nil
}

func newLeg(contracts ContractSource, symbol string, dir types.Direction, ratio int) (types.Leg, error) {
	c, err := contracts.Contract(symbol)
	if err != nil {
		return types.Leg{}, err
	}
	return types.Leg{
		ConID:        c.ConID,
		Symbol:       c.Symbol,
		Exchange:     c.Exchange,
		Ratio:        ratio,
		Direction:    dir,
		TradingClass: c.TradingClass,
	}, nil
}

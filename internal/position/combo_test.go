package position

import (
	"errors"
	"testing"
	"time"

	"options-engine/internal/portfolio"
	"options-engine/pkg/types"
)

// fakeMarket serves contracts and snapshots from plain maps.
type fakeMarket struct {
	contracts map[string]*types.Contract
	snaps     map[string]portfolio.Snapshot
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		contracts: make(map[string]*types.Contract),
		snaps:     make(map[string]portfolio.Snapshot),
	}
}

func (m *fakeMarket) addOption(root string, expiry time.Time, right types.OptionType, strike float64) string {
	sym := types.OptionSymbol(root, expiry, right, strike, 100, "USD")
	m.contracts[sym] = &types.Contract{
		Symbol:       sym,
		Exchange:     types.ExchangeSmart,
		Product:      types.ProductOption,
		Size:         100,
		ConID:        int64(len(m.contracts) + 1),
		OptionStrike: strike,
		OptionType:   right,
		OptionExpiry: expiry,
	}
	return sym
}

func (m *fakeMarket) Contract(symbol string) (*types.Contract, error) {
	c, ok := m.contracts[symbol]
	if !ok {
		return nil, portfolio.ErrContractNotFound
	}
	return c, nil
}

func (m *fakeMarket) Snapshot(symbol string) (portfolio.Snapshot, bool) {
	s, ok := m.snaps[symbol]
	return s, ok
}

var testExpiry = time.Date(2025, 10, 24, 0, 0, 0, 0, time.Local)

func TestBuildStraddleFollowsIntent(t *testing.T) {
	t.Parallel()

	m := newFakeMarket()
	call := m.addOption("SPY", testExpiry, types.OptionCall, 450)
	put := m.addOption("SPY", testExpiry, types.OptionPut, 450)

	legs, sig, err := BuildCombo(m, ComboRequest{
		Type:      types.ComboStraddle,
		Options:   map[string]string{"call": call, "put": put},
		Direction: types.DirectionShort,
		Volume:    2,
	})
	if err != nil {
		t.Fatalf("BuildCombo: %v", err)
	}
	if len(legs) != 2 {
		t.Fatalf("legs = %d", len(legs))
	}
	for _, leg := range legs {
		if leg.Direction != types.DirectionShort {
			t.Errorf("leg %s direction = %s", leg.Symbol, leg.Direction)
		}
		if leg.Ratio != 2 {
			t.Errorf("leg %s ratio = %d, want 2", leg.Symbol, leg.Ratio)
		}
	}
	if sig == "" {
		t.Error("empty signature")
	}
}

func TestBuildIronCondorShortIntent(t *testing.T) {
	t.Parallel()

	m := newFakeMarket()
	putLower := m.addOption("SPY", testExpiry, types.OptionPut, 430)
	putUpper := m.addOption("SPY", testExpiry, types.OptionPut, 440)
	callLower := m.addOption("SPY", testExpiry, types.OptionCall, 460)
	callUpper := m.addOption("SPY", testExpiry, types.OptionCall, 470)

	legs, _, err := BuildCombo(m, ComboRequest{
		Type: types.ComboIronCondor,
		Options: map[string]string{
			"put_lower":  putLower,
			"put_upper":  putUpper,
			"call_lower": callLower,
			"call_upper": callUpper,
		},
		Direction: types.DirectionShort,
		Volume:    1,
	})
	if err != nil {
		t.Fatalf("BuildCombo: %v", err)
	}

	want := []types.Direction{
		types.DirectionLong,  // put_lower
		types.DirectionShort, // put_upper
		types.DirectionShort, // call_lower
		types.DirectionLong,  // call_upper
	}
	for i, leg := range legs {
		if leg.Direction != want[i] {
			t.Errorf("leg %d (%s) direction = %s, want %s", i, leg.Symbol, leg.Direction, want[i])
		}
	}
}

func TestBuildIronCondorLongIntentInverts(t *testing.T) {
	t.Parallel()

	m := newFakeMarket()
	opts := map[string]string{
		"put_lower":  m.addOption("SPY", testExpiry, types.OptionPut, 430),
		"put_upper":  m.addOption("SPY", testExpiry, types.OptionPut, 440),
		"call_lower": m.addOption("SPY", testExpiry, types.OptionCall, 460),
		"call_upper": m.addOption("SPY", testExpiry, types.OptionCall, 470),
	}
	legs, _, err := BuildCombo(m, ComboRequest{
		Type:      types.ComboIronCondor,
		Options:   opts,
		Direction: types.DirectionLong,
		Volume:    1,
	})
	if err != nil {
		t.Fatalf("BuildCombo: %v", err)
	}
	want := []types.Direction{
		types.DirectionShort, types.DirectionLong,
		types.DirectionLong, types.DirectionShort,
	}
	for i, leg := range legs {
		if leg.Direction != want[i] {
			t.Errorf("leg %d direction = %s, want %s", i, leg.Direction, want[i])
		}
	}
}

func TestBuildRatioSpreadMultipliesShortLeg(t *testing.T) {
	t.Parallel()

	m := newFakeMarket()
	longLeg := m.addOption("SPY", testExpiry, types.OptionCall, 450)
	shortLeg := m.addOption("SPY", testExpiry, types.OptionCall, 460)

	legs, _, err := BuildCombo(m, ComboRequest{
		Type:      types.ComboRatioSpread,
		Options:   map[string]string{"long_leg": longLeg, "short_leg": shortLeg},
		Direction: types.DirectionLong,
		Volume:    1,
	})
	if err != nil {
		t.Fatalf("BuildCombo: %v", err)
	}
	if legs[0].Ratio != 1 || legs[1].Ratio != 2 {
		t.Errorf("ratios = %d/%d, want 1/2", legs[0].Ratio, legs[1].Ratio)
	}

	legs, _, err = BuildCombo(m, ComboRequest{
		Type:      types.ComboRatioSpread,
		Options:   map[string]string{"long_leg": longLeg, "short_leg": shortLeg},
		Direction: types.DirectionLong,
		Volume:    2,
		Ratio:     3,
	})
	if err != nil {
		t.Fatalf("BuildCombo: %v", err)
	}
	if legs[0].Ratio != 2 || legs[1].Ratio != 6 {
		t.Errorf("ratios = %d/%d, want 2/6", legs[0].Ratio, legs[1].Ratio)
	}
}

func TestBuildCustomUniformDirection(t *testing.T) {
	t.Parallel()

	m := newFakeMarket()
	call := m.addOption("SPY", testExpiry, types.OptionCall, 450)
	put := m.addOption("SPY", testExpiry, types.OptionPut, 450)

	legs, sigA, err := BuildCombo(m, ComboRequest{
		Type:      types.ComboCustom,
		Symbols:   []string{call, put},
		Direction: types.DirectionShort,
		Volume:    1,
	})
	if err != nil {
		t.Fatalf("BuildCombo: %v", err)
	}
	for _, leg := range legs {
		if leg.Direction != types.DirectionShort {
			t.Errorf("leg %s direction = %s", leg.Symbol, leg.Direction)
		}
	}

	// Signature matches the named shape with the same legs.
	_, sigB, err := BuildCombo(m, ComboRequest{
		Type:      types.ComboStraddle,
		Options:   map[string]string{"call": call, "put": put},
		Direction: types.DirectionLong,
		Volume:    1,
	})
	if err != nil {
		t.Fatalf("BuildCombo: %v", err)
	}
	if sigA != sigB {
		t.Errorf("signatures differ: %q vs %q", sigA, sigB)
	}
}

func TestBuildComboMissingContract(t *testing.T) {
	t.Parallel()

	m := newFakeMarket()
	_, _, err := BuildCombo(m, ComboRequest{
		Type: types.ComboStraddle,
		Options: map[string]string{
			"call": "SPY-20251024-C-450.0-100-USD-OPT",
			"put":  "SPY-20251024-P-450.0-100-USD-OPT",
		},
		Direction: types.DirectionLong,
		Volume:    1,
	})
	if !errors.Is(err, portfolio.ErrContractNotFound) {
		t.Fatalf("err = %v, want ErrContractNotFound", err)
	}
}

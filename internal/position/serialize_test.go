package position

import (
	"testing"

	"gopkg.in/yaml.v3"

	"options-engine/pkg/types"
)

func TestHoldingSerializationRoundTrip(t *testing.T) {
	t.Parallel()

	m := newFakeMarket()
	call := m.addOption("SPY", testExpiry, types.OptionCall, 450)
	put := m.addOption("SPY", testExpiry, types.OptionPut, 450)
	sig := types.ComboSignature([]string{call, put})
	comboSym := types.ComboSymbol("SPY", types.ComboStraddle, sig)

	e, resolver, _ := newTestEngine(m)
	e.CreateHolding("s")
	resolver.owners["1"] = "s"
	resolver.owners["2"] = "s"

	legs, _, _ := BuildCombo(m, ComboRequest{
		Type:      types.ComboStraddle,
		Options:   map[string]string{"call": call, "put": put},
		Direction: types.DirectionLong,
		Volume:    2,
	})
	e.ProcessOrder(types.Order{OrderID: "1", Symbol: comboSym, IsCombo: true, ComboType: types.ComboStraddle, Legs: legs})
	e.ProcessTrade(types.Trade{OrderID: "1", TradeID: "t1", Symbol: comboSym, Direction: types.DirectionLong, Price: 3.50, Volume: 2})
	e.ProcessTrade(types.Trade{OrderID: "1", TradeID: "t2", Symbol: call, Direction: types.DirectionLong, Price: 2.00, Volume: 2})
	e.ProcessTrade(types.Trade{OrderID: "1", TradeID: "t3", Symbol: put, Direction: types.DirectionLong, Price: 1.50, Volume: 2})
	e.ProcessTrade(types.Trade{OrderID: "2", TradeID: "t4", Symbol: "SPY-USD-STK", Direction: types.DirectionLong, Price: 450, Volume: 3})
	e.RefreshMetrics()

	blob, err := e.SerializeHolding("s")
	if err != nil {
		t.Fatalf("SerializeHolding: %v", err)
	}

	// Through YAML, the way the data file stores it.
	raw, err := yaml.Marshal(blob)
	if err != nil {
		t.Fatalf("yaml marshal: %v", err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}

	e2, _, _ := newTestEngine(m)
	if err := e2.LoadHolding("s", decoded); err != nil {
		t.Fatalf("LoadHolding: %v", err)
	}

	orig, _ := e.Holding("s")
	loaded, _ := e2.Holding("s")

	if loaded.Underlying.Quantity != orig.Underlying.Quantity ||
		loaded.Underlying.AvgCost != orig.Underlying.AvgCost ||
		loaded.Underlying.Symbol != orig.Underlying.Symbol {
		t.Errorf("underlying mismatch: %+v vs %+v", loaded.Underlying, orig.Underlying)
	}

	origCombo := orig.Combos[comboSym]
	loadedCombo := loaded.Combos[comboSym]
	if loadedCombo == nil {
		t.Fatalf("combo not restored, have %v", loaded.Combos)
	}
	if loadedCombo.ComboType != types.ComboStraddle {
		t.Errorf("combo type = %s", loadedCombo.ComboType)
	}
	if loadedCombo.Quantity != origCombo.Quantity ||
		loadedCombo.AvgCost != origCombo.AvgCost ||
		loadedCombo.CostValue != origCombo.CostValue ||
		loadedCombo.RealizedPnL != origCombo.RealizedPnL {
		t.Errorf("combo mismatch: %+v vs %+v", loadedCombo.Position, origCombo.Position)
	}
	if len(loadedCombo.Legs) != len(origCombo.Legs) {
		t.Fatalf("legs = %d, want %d", len(loadedCombo.Legs), len(origCombo.Legs))
	}
	if loaded.Summary != orig.Summary {
		t.Errorf("summary mismatch: %+v vs %+v", loaded.Summary, orig.Summary)
	}
}

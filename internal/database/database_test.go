package database

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"options-engine/pkg/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "trading.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestContractRoundTrip(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	expiry := time.Now().AddDate(0, 2, 0)
	equity := &types.Contract{
		Symbol: "SPY-USD-STK", Name: "SPDR S&P 500", Exchange: types.ExchangeSmart,
		Product: types.ProductEquity, Size: 1, PriceTick: 0.01, MinVolume: 1, ConID: 756733,
	}
	option := &types.Contract{
		Symbol:   types.OptionSymbol("SPY", expiry, types.OptionCall, 470, 100, "USD"),
		Exchange: types.ExchangeSmart, Product: types.ProductOption, Size: 100,
		PriceTick: 0.01, MinVolume: 1, ConID: 99, OptionStrike: 470,
		OptionType: types.OptionCall, OptionExpiry: expiry,
		OptionPortfolio: "756733_O", OptionIndex: "470.0",
	}
	if err := db.SaveContract(equity); err != nil {
		t.Fatalf("SaveContract equity: %v", err)
	}
	if err := db.SaveContract(option); err != nil {
		t.Fatalf("SaveContract option: %v", err)
	}

	contracts, err := db.LoadContracts()
	if err != nil {
		t.Fatalf("LoadContracts: %v", err)
	}
	if len(contracts) != 2 {
		t.Fatalf("loaded %d contracts, want 2", len(contracts))
	}
	bySymbol := map[string]*types.Contract{}
	for _, c := range contracts {
		bySymbol[c.Symbol] = c
	}
	got := bySymbol[option.Symbol]
	if got == nil {
		t.Fatal("option contract not loaded")
	}
	if got.OptionStrike != 470 || got.OptionType != types.OptionCall ||
		got.OptionExpiry.Format("20060102") != expiry.Format("20060102") {
		t.Errorf("option fields lost: %+v", got)
	}
	if got.OptionIndex != "470.0" || got.OptionPortfolio != "756733_O" {
		t.Errorf("option metadata lost: %+v", got)
	}
}

func TestSaveContractUpserts(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	c := &types.Contract{Symbol: "SPY-USD-STK", Product: types.ProductEquity, Size: 1}
	if err := db.SaveContract(c); err != nil {
		t.Fatal(err)
	}
	c.Name = "renamed"
	if err := db.SaveContract(c); err != nil {
		t.Fatal(err)
	}
	contracts, err := db.LoadContracts()
	if err != nil {
		t.Fatal(err)
	}
	if len(contracts) != 1 || contracts[0].Name != "renamed" {
		t.Fatalf("contracts = %+v", contracts)
	}
}

func TestCleanExpiredOptions(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	expired := &types.Contract{
		Symbol:  "SPY-20200117-C-300.0-100-USD-OPT",
		Product: types.ProductOption, Size: 100, OptionType: types.OptionCall,
		OptionStrike: 300, OptionExpiry: time.Date(2020, 1, 17, 0, 0, 0, 0, time.Local),
	}
	live := &types.Contract{
		Symbol:  types.OptionSymbol("SPY", time.Now().AddDate(1, 0, 0), types.OptionCall, 470, 100, "USD"),
		Product: types.ProductOption, Size: 100, OptionType: types.OptionCall,
		OptionStrike: 470, OptionExpiry: time.Now().AddDate(1, 0, 0),
	}
	if err := db.SaveContract(expired); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveContract(live); err != nil {
		t.Fatal(err)
	}

	n, err := db.CleanExpiredOptions()
	if err != nil {
		t.Fatalf("CleanExpiredOptions: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned %d, want 1", n)
	}
	contracts, _ := db.LoadContracts()
	if len(contracts) != 1 || contracts[0].Symbol != live.Symbol {
		t.Errorf("remaining = %+v", contracts)
	}
}

func TestOrderRoundTripWithLegs(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	order := &types.Order{
		OrderID: "12", Symbol: "SPY_straddle_sig", Exchange: types.ExchangeSmart,
		Type: types.OrderTypeLimit, Direction: types.DirectionLong,
		Price: 3.50, Volume: 1, Traded: 1, Status: types.StatusAllTraded,
		Reference: "ShortStraddle_SPY", IsCombo: true, ComboType: types.ComboStraddle,
		Legs: []types.Leg{
			{ConID: 1, Symbol: "SPY-20251024-C-450.0-100-USD-OPT", Ratio: 1, Direction: types.DirectionLong},
			{ConID: 2, Symbol: "SPY-20251024-P-450.0-100-USD-OPT", Ratio: 1, Direction: types.DirectionLong},
		},
		Time: time.Now().Truncate(time.Second),
	}
	if err := db.SaveOrder(order); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	orders, err := db.OrderHistory()
	if err != nil {
		t.Fatalf("OrderHistory: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d", len(orders))
	}
	got := orders[0]
	if !got.IsCombo || got.ComboType != types.ComboStraddle || len(got.Legs) != 2 {
		t.Fatalf("combo fields lost: %+v", got)
	}
	if got.Legs[0].ConID != 1 || got.Legs[0].Direction != types.DirectionLong ||
		got.Legs[1].Symbol != order.Legs[1].Symbol {
		t.Errorf("legs = %+v", got.Legs)
	}
}

func TestTradeHistoryOrderedByTime(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		err := db.SaveTrade(&types.Trade{
			TradeID: id, OrderID: "1", Symbol: "SPY-USD-STK",
			Direction: types.DirectionLong, Price: 100, Volume: 1,
			Time: base.Add(time.Duration(2-i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	trades, err := db.TradeHistory()
	if err != nil {
		t.Fatalf("TradeHistory: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("trades = %d", len(trades))
	}
	if trades[0].TradeID != "c" || trades[2].TradeID != "b" {
		t.Errorf("order = %s,%s,%s", trades[0].TradeID, trades[1].TradeID, trades[2].TradeID)
	}
}

func TestWipeTradingDataKeepsContracts(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	db.SaveContract(&types.Contract{Symbol: "SPY-USD-STK", Product: types.ProductEquity, Size: 1})
	db.SaveOrder(&types.Order{OrderID: "1", Symbol: "SPY-USD-STK", Time: time.Now()})
	db.SaveTrade(&types.Trade{TradeID: "t1", OrderID: "1", Symbol: "SPY-USD-STK", Time: time.Now()})

	if err := db.WipeTradingData(); err != nil {
		t.Fatalf("WipeTradingData: %v", err)
	}
	orders, _ := db.OrderHistory()
	trades, _ := db.TradeHistory()
	contracts, _ := db.LoadContracts()
	if len(orders) != 0 || len(trades) != 0 {
		t.Errorf("history not wiped: %d orders, %d trades", len(orders), len(trades))
	}
	if len(contracts) != 1 {
		t.Errorf("contracts wiped: %d", len(contracts))
	}
}

func TestDeletePortfolio(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	expiry := time.Now().AddDate(0, 1, 0)
	db.SaveContract(&types.Contract{Symbol: "SPY-USD-STK", Product: types.ProductEquity, Size: 1})
	db.SaveContract(&types.Contract{
		Symbol:  types.OptionSymbol("SPY", expiry, types.OptionCall, 470, 100, "USD"),
		Product: types.ProductOption, Size: 100, OptionExpiry: expiry, OptionType: types.OptionCall,
	})
	db.SaveContract(&types.Contract{Symbol: "QQQ-USD-STK", Product: types.ProductEquity, Size: 1})

	if err := db.DeletePortfolio("SPY"); err != nil {
		t.Fatalf("DeletePortfolio: %v", err)
	}
	contracts, _ := db.LoadContracts()
	if len(contracts) != 1 || contracts[0].Symbol != "QQQ-USD-STK" {
		t.Errorf("remaining = %+v", contracts)
	}
}

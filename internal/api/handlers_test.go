package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"options-engine/internal/portfolio"
	"options-engine/internal/strategy"
	"options-engine/pkg/types"
)

type fakeRuntime struct {
	connected  bool
	statuses   []strategy.Status
	holdings   map[string]*types.Holding
	accounts   []types.Account
	portfolios []*portfolio.Portfolio
	orders     []*types.Order
	trades     []*types.Trade

	historyOrders []types.Order
	historyTrades []types.Trade
	historyErr    error
}

func (f *fakeRuntime) Connected() bool                     { return f.connected }
func (f *fakeRuntime) Statuses() []strategy.Status         { return f.statuses }
func (f *fakeRuntime) Holdings() map[string]*types.Holding { return f.holdings }
func (f *fakeRuntime) Accounts() []types.Account           { return f.accounts }
func (f *fakeRuntime) Portfolios() []*portfolio.Portfolio  { return f.portfolios }
func (f *fakeRuntime) Orders() []*types.Order              { return f.orders }
func (f *fakeRuntime) Trades() []*types.Trade              { return f.trades }

func (f *fakeRuntime) OrderHistory() ([]types.Order, error) {
	return f.historyOrders, f.historyErr
}

func (f *fakeRuntime) TradeHistory() ([]types.Trade, error) {
	return f.historyTrades, f.historyErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	h := NewHandlers(&fakeRuntime{connected: true}, testLogger())

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["connected"] != true {
		t.Errorf("connected = %v, want true", body["connected"])
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{
		connected: true,
		statuses: []strategy.Status{
			{Name: "ShortStraddle_SPY", ClassName: "ShortStraddle", Portfolio: "SPY"},
		},
		holdings: map[string]*types.Holding{
			"ShortStraddle_SPY": types.NewHolding(),
		},
		accounts: []types.Account{{AccountID: "DU12345.USD", Balance: 100000}},
		portfolios: []*portfolio.Portfolio{
			{
				Name:       "SPY",
				Underlying: &portfolio.Underlying{Symbol: "SPY-USD-STK", Mid: 470.5},
				Chains: map[string]*portfolio.Chain{
					"SPY_20270115": {
						Symbol:       "SPY_20270115",
						DaysToExpiry: 30,
						ATMIndex:     "470.0",
						ATMPrice:     470.5,
						Indexes:      []string{"465.0", "470.0", "475.0"},
					},
				},
				Options: map[string]*portfolio.Option{},
			},
		},
	}

	h := NewHandlers(rt, testLogger())

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest("GET", "/api/snapshot", nil))

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Connected {
		t.Error("connected = false, want true")
	}
	if len(snap.Strategies) != 1 || snap.Strategies[0].Name != "ShortStraddle_SPY" {
		t.Errorf("strategies = %+v", snap.Strategies)
	}
	if _, ok := snap.Holdings["ShortStraddle_SPY"]; !ok {
		t.Error("holding missing from snapshot")
	}
	if len(snap.Portfolios) != 1 {
		t.Fatalf("portfolios = %d, want 1", len(snap.Portfolios))
	}
	p := snap.Portfolios[0]
	if p.Name != "SPY" || p.UnderlyingMid != 470.5 {
		t.Errorf("portfolio = %+v", p)
	}
	if len(p.Chains) != 1 || p.Chains[0].Strikes != 3 || p.Chains[0].ATMIndex != "470.0" {
		t.Errorf("chains = %+v", p.Chains)
	}
}

func TestHandleOrdersLiveAndHistory(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{
		orders:        []*types.Order{{OrderID: "1", Symbol: "SPY-USD-STK"}},
		historyOrders: []types.Order{{OrderID: "old-1"}, {OrderID: "old-2"}},
	}
	h := NewHandlers(rt, testLogger())

	rec := httptest.NewRecorder()
	h.HandleOrders(rec, httptest.NewRequest("GET", "/api/orders", nil))
	var live []types.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &live); err != nil {
		t.Fatalf("decode live: %v", err)
	}
	if len(live) != 1 || live[0].OrderID != "1" {
		t.Errorf("live orders = %+v", live)
	}

	rec = httptest.NewRecorder()
	h.HandleOrders(rec, httptest.NewRequest("GET", "/api/orders?history=1", nil))
	var hist []types.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 2 {
		t.Errorf("history orders = %d, want 2", len(hist))
	}
}

func TestHandleOrdersHistoryError(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{historyErr: fmt.Errorf("db closed")}
	h := NewHandlers(rt, testLogger())

	rec := httptest.NewRecorder()
	h.HandleOrders(rec, httptest.NewRequest("GET", "/api/orders?history=1", nil))
	if rec.Code != 500 {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHandleTrades(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{
		trades:        []*types.Trade{{TradeID: "t1", OrderID: "1"}},
		historyTrades: []types.Trade{{TradeID: "old"}},
	}
	h := NewHandlers(rt, testLogger())

	rec := httptest.NewRecorder()
	h.HandleTrades(rec, httptest.NewRequest("GET", "/api/trades", nil))
	var live []types.Trade
	if err := json.Unmarshal(rec.Body.Bytes(), &live); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(live) != 1 || live[0].TradeID != "t1" {
		t.Errorf("trades = %+v", live)
	}

	rec = httptest.NewRecorder()
	h.HandleTrades(rec, httptest.NewRequest("GET", "/api/trades?history=1", nil))
	var hist []types.Trade
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 1 || hist[0].TradeID != "old" {
		t.Errorf("history = %+v", hist)
	}
}

package hedge

import (
	"io"
	"log/slog"
	"testing"

	"options-engine/internal/portfolio"
	"options-engine/pkg/types"
)

type fakeOrders struct {
	sent      []types.OrderRequest
	cancelled []types.CancelRequest
	active    []*types.Order
}

func (f *fakeOrders) SendStrategyOrder(strategy string, req types.OrderRequest) (string, error) {
	f.sent = append(f.sent, req)
	return "1", nil
}

func (f *fakeOrders) CancelStrategyOrder(strategy string, req types.CancelRequest) error {
	f.cancelled = append(f.cancelled, req)
	return nil
}

func (f *fakeOrders) ActiveOrders(strategy string) []*types.Order {
	return f.active
}

type fakeHoldings struct {
	holding *types.Holding
}

func (f *fakeHoldings) Holding(strategy string) (*types.Holding, bool) {
	if f.holding == nil {
		return nil, false
	}
	return f.holding, true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() *portfolio.Store {
	s := portfolio.NewStore(testLogger())
	s.AddContract(&types.Contract{
		Symbol:   "SPY-USD-STK",
		Exchange: types.ExchangeSmart,
		Product:  types.ProductEquity,
		Size:     1,
	})
	return s
}

func fire(e *Engine) {
	for i := 0; i < DefaultTimerTrigger; i++ {
		e.OnTimer()
	}
}

func TestDeltaInsideBandIsNoop(t *testing.T) {
	t.Parallel()

	orders := &fakeOrders{}
	holdings := &fakeHoldings{holding: types.NewHolding()}
	holdings.holding.Summary.Delta = 3.2

	e := NewEngine(testLogger(), newTestStore(), holdings, orders)
	e.Register("Straddle_SPY", Config{DeltaTarget: 0, DeltaRange: 5})

	fire(e)
	if len(orders.sent) != 0 {
		t.Fatalf("orders sent inside band: %+v", orders.sent)
	}
}

func TestHedgeClosesThenOpens(t *testing.T) {
	t.Parallel()

	orders := &fakeOrders{}
	holdings := &fakeHoldings{holding: types.NewHolding()}
	holdings.holding.Summary.Delta = 12
	holdings.holding.Underlying.Quantity = 3
	holdings.holding.Underlying.Symbol = "SPY-USD-STK"

	e := NewEngine(testLogger(), newTestStore(), holdings, orders)
	e.Register("Straddle_SPY", Config{DeltaTarget: 0, DeltaRange: 0})

	fire(e)
	if len(orders.sent) != 2 {
		t.Fatalf("sent = %d orders, want 2: %+v", len(orders.sent), orders.sent)
	}
	closeOrd, openOrd := orders.sent[0], orders.sent[1]
	if closeOrd.Direction != types.DirectionShort || closeOrd.Volume != 3 {
		t.Errorf("close order = %+v", closeOrd)
	}
	if openOrd.Direction != types.DirectionShort || openOrd.Volume != 9 {
		t.Errorf("open order = %+v", openOrd)
	}
	for _, o := range orders.sent {
		if o.Type != types.OrderTypeMarket {
			t.Errorf("order type = %s, want MARKET", o.Type)
		}
		if o.Reference != "Hedge_Straddle_SPY" {
			t.Errorf("reference = %q", o.Reference)
		}
	}
}

func TestHedgeBelowOneUnitSkips(t *testing.T) {
	t.Parallel()

	orders := &fakeOrders{}
	holdings := &fakeHoldings{holding: types.NewHolding()}
	holdings.holding.Summary.Delta = 0.6

	e := NewEngine(testLogger(), newTestStore(), holdings, orders)
	e.Register("Straddle_SPY", Config{DeltaTarget: 0, DeltaRange: 0.1})

	fire(e)
	if len(orders.sent) != 0 {
		t.Fatalf("orders sent for sub-unit hedge: %+v", orders.sent)
	}
}

func TestPendingHedgeOrdersCancelledAndCycleSkipped(t *testing.T) {
	t.Parallel()

	orders := &fakeOrders{
		active: []*types.Order{
			{OrderID: "7", Symbol: "SPY-USD-STK", Reference: "Hedge_Straddle_SPY", Status: types.StatusNotTraded},
		},
	}
	holdings := &fakeHoldings{holding: types.NewHolding()}
	holdings.holding.Summary.Delta = 40

	e := NewEngine(testLogger(), newTestStore(), holdings, orders)
	e.Register("Straddle_SPY", Config{DeltaTarget: 0, DeltaRange: 0})

	fire(e)
	if len(orders.cancelled) != 1 || orders.cancelled[0].OrderID != "7" {
		t.Fatalf("cancelled = %+v", orders.cancelled)
	}
	if len(orders.sent) != 0 {
		t.Fatalf("orders sent while hedge pending: %+v", orders.sent)
	}
}

func TestCounterOnlyFiresAtTrigger(t *testing.T) {
	t.Parallel()

	orders := &fakeOrders{}
	holdings := &fakeHoldings{holding: types.NewHolding()}
	holdings.holding.Summary.Delta = 12

	e := NewEngine(testLogger(), newTestStore(), holdings, orders)
	e.Register("Straddle_SPY", Config{DeltaTarget: 0, DeltaRange: 0})

	for i := 0; i < DefaultTimerTrigger-1; i++ {
		e.OnTimer()
	}
	if len(orders.sent) != 0 {
		t.Fatalf("fired before trigger: %+v", orders.sent)
	}
	e.OnTimer()
	if len(orders.sent) == 0 {
		t.Fatal("did not fire at trigger")
	}
}

func TestUnregisterStopsHedging(t *testing.T) {
	t.Parallel()

	orders := &fakeOrders{}
	holdings := &fakeHoldings{holding: types.NewHolding()}
	holdings.holding.Summary.Delta = 12

	e := NewEngine(testLogger(), newTestStore(), holdings, orders)
	e.Register("Straddle_SPY", Config{DeltaTarget: 0, DeltaRange: 0})
	e.Unregister("Straddle_SPY")

	fire(e)
	if len(orders.sent) != 0 {
		t.Fatalf("orders sent after unregister: %+v", orders.sent)
	}
}

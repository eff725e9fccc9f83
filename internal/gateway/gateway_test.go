package gateway

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"options-engine/internal/bus"
	"options-engine/pkg/types"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []frame
	block  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{block: make(chan struct{})}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := v.(frame); ok {
		c.frames = append(c.frames, f)
	}
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.block
	return 0, nil, io.EOF
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.block:
	default:
		close(c.block)
	}
	return nil
}

func (c *fakeConn) sent() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

// eventSink collects bus events for assertions.
type eventSink struct {
	mu     sync.Mutex
	orders []types.Order
	trades []types.Trade
	logs   []bus.LogData
}

func (s *eventSink) attach(b *bus.Bus) {
	b.Subscribe(bus.EventOrder, func(evt bus.Event) {
		if o, ok := evt.Data.(types.Order); ok {
			s.mu.Lock()
			s.orders = append(s.orders, o)
			s.mu.Unlock()
		}
	})
	b.Subscribe(bus.EventTrade, func(evt bus.Event) {
		if t, ok := evt.Data.(types.Trade); ok {
			s.mu.Lock()
			s.trades = append(s.trades, t)
			s.mu.Unlock()
		}
	})
	b.Subscribe(bus.EventLog, func(evt bus.Event) {
		if rec, ok := evt.Data.(bus.LogData); ok {
			s.mu.Lock()
			s.logs = append(s.logs, rec)
			s.mu.Unlock()
		}
	})
}

func (s *eventSink) waitOrders(t *testing.T, n int) []types.Order {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.orders) >= n {
			out := append([]types.Order(nil), s.orders...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Fatalf("got %d order events, want %d", len(s.orders), n)
	return nil
}

func (s *eventSink) waitTrades(t *testing.T, n int) []types.Trade {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.trades) >= n {
			out := append([]types.Trade(nil), s.trades...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Fatalf("got %d trade events, want %d", len(s.trades), n)
	return nil
}

func (s *eventSink) waitLogs(t *testing.T, n int) []bus.LogData {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.logs) >= n {
			out := append([]bus.LogData(nil), s.logs...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Fatalf("got %d log events, want %d", len(s.logs), n)
	return nil
}

func (s *eventSink) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func newTestGateway(t *testing.T) (*Gateway, *eventSink, *fakeConn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.NewWithInterval(logger, time.Hour)
	b.Start()
	t.Cleanup(b.Stop)

	sink := &eventSink{}
	sink.attach(b)

	g := New(logger, b, "ws://bridge.test/ws", nil)
	fc := newFakeConn()
	g.dial = func(string) (conn, error) { return fc, nil }
	if err := g.Connect(1, "DU12345"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return g, sink, fc
}

func TestSendOrderPublishesSubmittingBeforeSend(t *testing.T) {
	t.Parallel()
	g, sink, fc := newTestGateway(t)

	id, err := g.SendOrder(types.OrderRequest{
		Symbol:    "SPY-USD-STK",
		Exchange:  types.ExchangeSmart,
		Direction: types.DirectionLong,
		Type:      types.OrderTypeLimit,
		Volume:    5,
		Price:     470.25,
		Reference: "test",
	})
	if err != nil {
		t.Fatalf("SendOrder: %v", err)
	}
	if id == "" {
		t.Fatal("empty order id")
	}

	orders := sink.waitOrders(t, 1)
	if orders[0].Status != types.StatusSubmitting || orders[0].OrderID != id {
		t.Errorf("synthetic order = %+v", orders[0])
	}

	var placed bool
	for _, f := range fc.sent() {
		if f.Type == msgPlaceOrder {
			placed = true
		}
	}
	if !placed {
		t.Error("place_order frame never sent")
	}
}

func TestSendOrderComboParentIsBuy(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGateway(t)

	msg, err := g.buildPlaceOrder(types.OrderRequest{
		Symbol:    "SPY_straddle_sig",
		Exchange:  types.ExchangeSmart,
		Direction: types.DirectionShort,
		Type:      types.OrderTypeMarket,
		Volume:    1,
		IsCombo:   true,
		ComboType: types.ComboStraddle,
		Legs: []types.Leg{
			{ConID: 1, Ratio: 1, Direction: types.DirectionShort, Exchange: types.ExchangeSmart},
			{ConID: 2, Ratio: 1, Direction: types.DirectionShort, Exchange: types.ExchangeSmart},
		},
	})
	if err != nil {
		t.Fatalf("buildPlaceOrder: %v", err)
	}
	if msg.Action != "BUY" {
		t.Errorf("combo parent action = %q, want BUY", msg.Action)
	}
	if msg.Contract.SecType != "BAG" || msg.Contract.Symbol != "SPY" {
		t.Errorf("combo contract = %+v", msg.Contract)
	}
	for _, leg := range msg.ComboLegs {
		if leg.Action != "SELL" {
			t.Errorf("leg action = %q, want SELL", leg.Action)
		}
	}
}

func TestSendOrderRejectsUnknownType(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGateway(t)

	if _, err := g.SendOrder(types.OrderRequest{
		Symbol: "SPY-USD-STK",
		Type:   types.OrderType("STOP"),
	}); err == nil {
		t.Fatal("unsupported order type accepted")
	}
}

func TestSendOrderWhileDisconnected(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGateway(t)
	g.Disconnect()

	if _, err := g.SendOrder(types.OrderRequest{
		Symbol: "SPY-USD-STK",
		Type:   types.OrderTypeMarket,
	}); err == nil {
		t.Fatal("send succeeded while disconnected")
	}
}

func TestOrderStatusDeduplicates(t *testing.T) {
	t.Parallel()
	g, sink, _ := newTestGateway(t)

	id, err := g.SendOrder(types.OrderRequest{
		Symbol:    "SPY-USD-STK",
		Exchange:  types.ExchangeSmart,
		Direction: types.DirectionLong,
		Type:      types.OrderTypeLimit,
		Volume:    5,
		Price:     470,
	})
	if err != nil {
		t.Fatalf("SendOrder: %v", err)
	}
	sink.waitOrders(t, 1)

	g.handleOrderStatus(orderStatusMsg{OrderID: id, Status: "Submitted", Filled: 0})
	g.handleOrderStatus(orderStatusMsg{OrderID: id, Status: "Submitted", Filled: 0})
	g.handleOrderStatus(orderStatusMsg{OrderID: id, Status: "PartiallyFilled", Filled: 2})

	orders := sink.waitOrders(t, 3)
	time.Sleep(20 * time.Millisecond)
	if sink.orderCount() != 3 {
		t.Fatalf("order events = %d, want 3 (duplicate published)", sink.orderCount())
	}
	if orders[1].Status != types.StatusNotTraded {
		t.Errorf("second event status = %s", orders[1].Status)
	}
	if orders[2].Status != types.StatusPartTraded || orders[2].Traded != 2 {
		t.Errorf("third event = %+v", orders[2])
	}
}

func TestTerminalStatusRetiresOrder(t *testing.T) {
	t.Parallel()
	g, sink, _ := newTestGateway(t)

	id, _ := g.SendOrder(types.OrderRequest{
		Symbol: "SPY-USD-STK", Exchange: types.ExchangeSmart,
		Direction: types.DirectionLong, Type: types.OrderTypeLimit, Volume: 1, Price: 470,
	})
	sink.waitOrders(t, 1)

	g.handleOrderStatus(orderStatusMsg{OrderID: id, Status: "Filled", Filled: 1})
	orders := sink.waitOrders(t, 2)
	if orders[1].Status != types.StatusAllTraded {
		t.Fatalf("status = %s", orders[1].Status)
	}

	// Replays of the terminal state are dropped: the order is retired.
	g.handleOrderStatus(orderStatusMsg{OrderID: id, Status: "Filled", Filled: 1})
	time.Sleep(20 * time.Millisecond)
	if sink.orderCount() != 2 {
		t.Errorf("order events = %d, want 2", sink.orderCount())
	}
}

func TestOpenOrderSynthesizesUnknown(t *testing.T) {
	t.Parallel()
	g, sink, _ := newTestGateway(t)

	g.handleOpenOrder(openOrderMsg{
		OrderID: "900",
		Contract: wireContract{
			Symbol: "SPY", SecType: "STK", Currency: "USD", Exchange: "SMART",
		},
		Action:     "SELL",
		OrderType:  "LMT",
		Quantity:   3,
		LimitPrice: 471.50,
	})

	orders := sink.waitOrders(t, 1)
	o := orders[0]
	if o.OrderID != "900" || o.Symbol != "SPY-USD-STK" {
		t.Errorf("synthesized order = %+v", o)
	}
	if o.Direction != types.DirectionShort || o.Status != types.StatusSubmitting {
		t.Errorf("synthesized order = %+v", o)
	}
}

func TestOpenOrderSkipsPendingIntent(t *testing.T) {
	t.Parallel()
	g, sink, _ := newTestGateway(t)

	id, _ := g.SendOrder(types.OrderRequest{
		Symbol: "SPY-USD-STK", Exchange: types.ExchangeSmart,
		Direction: types.DirectionLong, Type: types.OrderTypeLimit, Volume: 1, Price: 470,
	})
	sink.waitOrders(t, 1)

	g.handleOpenOrder(openOrderMsg{
		OrderID:  id,
		Contract: wireContract{Symbol: "SPY", SecType: "STK", Currency: "USD", Exchange: "SMART"},
		Action:   "BUY", OrderType: "LMT", Quantity: 1, LimitPrice: 470,
	})
	time.Sleep(20 * time.Millisecond)
	if sink.orderCount() != 1 {
		t.Errorf("order events = %d, want 1 (echo republished)", sink.orderCount())
	}
}

func TestExecDetailsComboDirectionOverride(t *testing.T) {
	t.Parallel()
	g, sink, _ := newTestGateway(t)

	id, _ := g.SendOrder(types.OrderRequest{
		Symbol:    "SPY_straddle_sig",
		Exchange:  types.ExchangeSmart,
		Direction: types.DirectionShort,
		Type:      types.OrderTypeMarket,
		Volume:    1,
		IsCombo:   true,
		ComboType: types.ComboStraddle,
		Legs: []types.Leg{
			{ConID: 1, Ratio: 1, Direction: types.DirectionShort, Exchange: types.ExchangeSmart},
		},
	})
	sink.waitOrders(t, 1)

	// Combo parents always report BOT externally; the intent wins.
	g.handleExecDetails(execDetailsMsg{
		ExecID:   "e1",
		OrderID:  id,
		Contract: wireContract{Symbol: "SPY", SecType: "BAG", Currency: "USD", Exchange: "SMART"},
		Side:     "BOT",
		Shares:   1,
		Price:    3.40,
		Time:     "20260105 10:30:00",
	})

	trades := sink.waitTrades(t, 1)
	if trades[0].Direction != types.DirectionShort {
		t.Errorf("direction = %s, want SHORT (intent override)", trades[0].Direction)
	}
	if trades[0].Symbol != "SPY_straddle_sig" {
		t.Errorf("symbol = %q, want cached combo symbol", trades[0].Symbol)
	}
}

func TestParseExecTime(t *testing.T) {
	t.Parallel()

	got, err := parseExecTime("20260105 10:30:00")
	if err != nil {
		t.Fatalf("naked time: %v", err)
	}
	want := time.Date(2026, 1, 5, 10, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("naked = %v, want %v", got, want)
	}

	got, err = parseExecTime("20260105 10:30:00 UTC")
	if err != nil {
		t.Fatalf("zoned time: %v", err)
	}
	wantUTC := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)
	if !got.Equal(wantUTC) {
		t.Errorf("zoned = %v, want instant %v", got, wantUTC)
	}

	if _, err := parseExecTime("not a time"); err == nil {
		t.Error("garbage accepted")
	}
}

func TestBridgeErrorsRouteToLogStream(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.NewWithInterval(logger, time.Hour)
	b.Start()
	t.Cleanup(b.Stop)

	sink := &eventSink{}
	sink.attach(b)

	g := New(logger, b, "ws://bridge.test/ws", nil)

	g.handleError(errorMsg{Code: 2104, Message: "Market data farm connection is OK"})
	g.handleError(errorMsg{Code: 202, Message: "Order cancelled"})
	g.handleError(errorMsg{ReqID: 4, Code: 321, Message: "validation failed"})

	logs := sink.waitLogs(t, 3)
	for _, rec := range logs[:2] {
		if rec.Level != slog.LevelInfo {
			t.Errorf("harmless code surfaced at %v: %s", rec.Level, rec.Msg)
		}
	}
	last := logs[2]
	if last.Level != slog.LevelError {
		t.Errorf("bridge error surfaced at %v, want ERROR", last.Level)
	}
	if last.Source != "gateway" || !strings.Contains(last.Msg, "321") {
		t.Errorf("log record = %+v", last)
	}
}

func TestFormattedSymbol(t *testing.T) {
	t.Parallel()

	opt := wireContract{
		Symbol: "SPY", SecType: "OPT", Expiry: "20260116", Right: "C",
		Strike: 470, Multiplier: "100", Currency: "USD", Exchange: "SMART",
	}
	if got, want := opt.formattedSymbol(), "SPY-20260116-C-470.0-100-USD-OPT"; got != want {
		t.Errorf("option symbol = %q, want %q", got, want)
	}

	stk := wireContract{Symbol: "SPY", SecType: "STK", Currency: "USD", Exchange: "SMART"}
	if got, want := stk.formattedSymbol(), "SPY-USD-STK"; got != want {
		t.Errorf("stock symbol = %q, want %q", got, want)
	}
}

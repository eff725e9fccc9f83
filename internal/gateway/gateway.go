// Package gateway maintains the brokerage session: a WebSocket connection
// to the broker bridge carrying JSON frames for order routing, executions,
// account data, and contract queries.
//
// The reader goroutine only decodes frames and publishes events onto the
// bus; it never mutates core engine state directly. Order state is
// reconciled locally: synthetic SUBMITTING orders are published before the
// external send, status callbacks are deduplicated per order, and unknown
// open orders seen after a reconnect are synthesized from the bridge's
// contract fields.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"options-engine/internal/bus"
	"options-engine/pkg/types"
)

// ErrDisconnected reports an operation attempted without a live session.
var ErrDisconnected = errors.New("gateway disconnected")

// harmlessCodes are vendor status codes that are informational chatter,
// not failures: order-cancelled confirmations and farm connection notices.
var harmlessCodes = map[int]struct{}{
	202: {}, 2104: {}, 2106: {}, 2158: {},
}

// connectionCheckTicks is how many timer ticks pass between liveness
// checks of the bridge session.
const connectionCheckTicks = 10

const readTimeout = 60 * time.Second

// conn is the slice of *websocket.Conn the gateway uses.
type conn interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// ContractSink receives contract definitions discovered via the bridge.
type ContractSink interface {
	AddContract(c *types.Contract)
}

type statusKey struct {
	status types.Status
	filled float64
}

// Gateway is the brokerage session.
type Gateway struct {
	logger *slog.Logger
	bus    *bus.Bus
	sink   ContractSink

	url      string
	account  string
	clientID int

	connMu    sync.Mutex
	conn      conn
	connected bool

	mu          sync.Mutex
	nextOrderID int64
	orders      map[string]*types.Order
	lastStatus  map[string]statusKey
	pending     map[string]struct{}
	completed   map[string]struct{}
	accounts    map[string]*types.Account
	reqID       int
	timerCount  int

	dial func(url string) (conn, error)
}

// New creates a gateway for the given bridge URL. The sink receives
// contract details as they arrive; it may be nil.
func New(logger *slog.Logger, b *bus.Bus, url string, sink ContractSink) *Gateway {
	g := &Gateway{
		logger:     logger.With("component", "gateway"),
		bus:        b,
		sink:       sink,
		url:        url,
		orders:     make(map[string]*types.Order),
		lastStatus: make(map[string]statusKey),
		pending:    make(map[string]struct{}),
		completed:  make(map[string]struct{}),
		accounts:   make(map[string]*types.Account),
	}
	g.dial = func(url string) (conn, error) {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return g
}

// Attach subscribes the session liveness check to TIMER events.
func (g *Gateway) Attach(b *bus.Bus) {
	b.Subscribe(bus.EventTimer, func(bus.Event) { g.onTimer() })
}

// Connect establishes the bridge session and starts the reader. Calling
// Connect while connected is a no-op.
func (g *Gateway) Connect(clientID int, account string) error {
	g.connMu.Lock()
	if g.connected {
		g.connMu.Unlock()
		return nil
	}
	g.clientID = clientID
	g.account = account
	g.connMu.Unlock()

	return g.establish()
}

func (g *Gateway) establish() error {
	c, err := g.dial(g.url)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", g.url, err)
	}

	g.connMu.Lock()
	g.conn = c
	g.connected = true
	g.connMu.Unlock()

	if err := g.writeFrameTo(c, msgConnect, connectMsg{ClientID: g.clientID, Account: g.account}); err != nil {
		g.markDisconnected(c)
		return fmt.Errorf("bridge handshake: %w", err)
	}

	go g.readLoop(c)
	g.logger.Info("bridge session established", "url", g.url, "client_id", g.clientID)
	return nil
}

// Disconnect closes the session.
func (g *Gateway) Disconnect() {
	g.connMu.Lock()
	c := g.conn
	g.conn = nil
	g.connected = false
	g.connMu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Connected reports session liveness.
// Accounts returns the latest account summary rows, keyed by
// account.currency, in stable order.
func (g *Gateway) Accounts() []types.Account {
	g.mu.Lock()
	out := make([]types.Account, 0, len(g.accounts))
	for _, a := range g.accounts {
		out = append(out, *a)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (g *Gateway) Connected() bool {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	return g.connected
}

// onTimer reconnects with the saved parameters when the session has
// dropped, checking every connectionCheckTicks ticks.
func (g *Gateway) onTimer() {
	g.mu.Lock()
	g.timerCount++
	if g.timerCount < connectionCheckTicks {
		g.mu.Unlock()
		return
	}
	g.timerCount = 0
	g.mu.Unlock()

	if g.Connected() {
		return
	}
	g.logger.Warn("bridge session down, reconnecting")
	if err := g.establish(); err != nil {
		g.logger.Error("reconnect failed", "error", err)
	}
}

func (g *Gateway) markDisconnected(c conn) {
	g.connMu.Lock()
	if g.conn == c {
		g.conn = nil
		g.connected = false
	}
	g.connMu.Unlock()
	c.Close()
}

func (g *Gateway) readLoop(c conn) {
	for {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := c.ReadMessage()
		if err != nil {
			g.connMu.Lock()
			current := g.conn == c
			g.connMu.Unlock()
			if current {
				g.logger.Error("bridge read failed", "error", err)
				g.markDisconnected(c)
			}
			return
		}
		g.dispatch(raw)
	}
}

// dispatch peeks the envelope type and routes the payload.
func (g *Gateway) dispatch(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		g.logger.Warn("undecodable bridge frame", "error", err)
		return
	}
	switch f.Type {
	case msgNextValidID:
		decodeInto(g, f.Data, g.handleNextValidID)
	case msgOrderStatus:
		decodeInto(g, f.Data, g.handleOrderStatus)
	case msgOpenOrder:
		decodeInto(g, f.Data, g.handleOpenOrder)
	case msgExecDetails:
		decodeInto(g, f.Data, g.handleExecDetails)
	case msgPosition:
		decodeInto(g, f.Data, g.handlePosition)
	case msgAccountSummary:
		decodeInto(g, f.Data, g.handleAccountSummary)
	case msgContractDetails:
		decodeInto(g, f.Data, g.handleContractDetails)
	case msgContractDetailsEnd:
		g.logger.Info("contract query complete")
	case msgError:
		decodeInto(g, f.Data, g.handleError)
	default:
		g.logger.Debug("unhandled bridge frame", "frame_type", f.Type)
	}
}

func decodeInto[T any](g *Gateway, raw json.RawMessage, handle func(T)) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		g.logger.Warn("undecodable bridge payload", "error", err)
		return
	}
	handle(msg)
}

// ————————————————————————————————————————————————————————————————————————
// Outbound
// ————————————————————————————————————————————————————————————————————————

func (g *Gateway) writeFrame(msgType string, payload any) error {
	g.connMu.Lock()
	c := g.conn
	g.connMu.Unlock()
	if c == nil {
		return ErrDisconnected
	}
	return g.writeFrameTo(c, msgType, payload)
}

func (g *Gateway) writeFrameTo(c conn, msgType string, payload any) error {
	f, err := newFrame(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	g.connMu.Lock()
	defer g.connMu.Unlock()
	return c.WriteJSON(f)
}

// SendOrder allocates a local order id, publishes the synthetic
// SUBMITTING order, then forwards the request to the bridge. The combo
// parent action is always BUY; per-leg actions carry the real sides.
func (g *Gateway) SendOrder(req types.OrderRequest) (string, error) {
	if !g.Connected() {
		return "", ErrDisconnected
	}
	switch req.Type {
	case types.OrderTypeLimit, types.OrderTypeMarket:
	default:
		return "", fmt.Errorf("unsupported order type %q", req.Type)
	}

	msg, err := g.buildPlaceOrder(req)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.nextOrderID++
	orderID := strconv.FormatInt(g.nextOrderID, 10)
	msg.OrderID = orderID

	order := req.NewOrder(orderID)
	order.Time = time.Now()
	g.orders[orderID] = &order
	g.lastStatus[orderID] = statusKey{status: types.StatusSubmitting, filled: 0}
	g.pending[orderID] = struct{}{}
	g.mu.Unlock()

	// Intent first: downstream accounting must see the order before any
	// execution callback referencing it.
	g.bus.Publish(bus.Event{Type: bus.EventOrder, Data: order})

	if err := g.writeFrame(msgPlaceOrder, msg); err != nil {
		g.logger.Error("order send failed", "orderid", orderID, "error", err)
		return "", err
	}
	return orderID, nil
}

func (g *Gateway) buildPlaceOrder(req types.OrderRequest) (placeOrderMsg, error) {
	orderType := "LMT"
	if req.Type == types.OrderTypeMarket {
		orderType = "MKT"
	}

	if req.IsCombo {
		legs := make([]wireLeg, 0, len(req.Legs))
		for _, leg := range req.Legs {
			ratio := leg.Ratio
			if ratio < 0 {
				ratio = -ratio
			}
			legs = append(legs, wireLeg{
				ConID:    leg.ConID,
				Ratio:    ratio,
				Action:   actionFromDirection(leg.Direction),
				Exchange: string(leg.Exchange),
			})
		}
		root, _, _ := strings.Cut(req.Symbol, "_")
		return placeOrderMsg{
			Contract: wireContract{
				Symbol:   root,
				SecType:  "BAG",
				Currency: "USD",
				Exchange: string(req.Exchange),
			},
			Action:       "BUY",
			OrderType:    orderType,
			Quantity:     req.Volume,
			LimitPrice:   req.Price,
			ComboLegs:    legs,
			TradingClass: req.TradingClass,
		}, nil
	}

	contract, err := wireContractFor(req.Symbol, req.Exchange)
	if err != nil {
		return placeOrderMsg{}, err
	}
	contract.TradingClass = req.TradingClass
	return placeOrderMsg{
		Contract:   contract,
		Action:     actionFromDirection(req.Direction),
		OrderType:  orderType,
		Quantity:   req.Volume,
		LimitPrice: req.Price,
	}, nil
}

// CancelOrder is fire and forget; the cancellation is observed through a
// subsequent order status update.
func (g *Gateway) CancelOrder(req types.CancelRequest) error {
	return g.writeFrame(msgCancelOrder, cancelOrderMsg{OrderID: req.OrderID})
}

// QueryAccount requests an account summary refresh.
func (g *Gateway) QueryAccount() error {
	return g.writeFrame(msgReqAccount, reqAccountMsg{
		Tags: "NetLiquidation,AvailableFunds,MaintMarginReq,UnrealizedPnL",
	})
}

// QueryPositions requests the broker's position list.
func (g *Gateway) QueryPositions() error {
	return g.writeFrame(msgReqPositions, struct{}{})
}

// QueryPortfolio requests contract details for an underlying and its
// option chain. secType is "STK" or "IND".
func (g *Gateway) QueryPortfolio(root, secType string) error {
	g.mu.Lock()
	g.reqID++
	underReq := g.reqID
	g.reqID++
	chainReq := g.reqID
	g.mu.Unlock()

	underExchange := "SMART"
	tradingClass := ""
	if secType == "IND" {
		// Index options route to their listing venue.
		underExchange = string(types.ExchangeCBOE)
		tradingClass = root
	}

	if err := g.writeFrame(msgReqContractData, reqContractDetailsMsg{
		ReqID: underReq,
		Contract: wireContract{
			Symbol:   root,
			SecType:  secType,
			Currency: "USD",
			Exchange: underExchange,
		},
	}); err != nil {
		return err
	}
	return g.writeFrame(msgReqContractData, reqContractDetailsMsg{
		ReqID: chainReq,
		Contract: wireContract{
			Symbol:       root,
			SecType:      "OPT",
			Currency:     "USD",
			Exchange:     "SMART",
			TradingClass: tradingClass,
		},
	})
}

// ————————————————————————————————————————————————————————————————————————
// Inbound handlers
// ————————————————————————————————————————————————————————————————————————

func (g *Gateway) handleNextValidID(msg nextValidIDMsg) {
	g.mu.Lock()
	if msg.OrderID > g.nextOrderID {
		g.nextOrderID = msg.OrderID
	}
	g.mu.Unlock()
}

// handleOrderStatus reconciles a status callback against the local order
// cache, publishing only when the (status, filled) pair changes.
func (g *Gateway) handleOrderStatus(msg orderStatusMsg) {
	status, ok := statusFromBridge[msg.Status]
	if !ok {
		g.logger.Warn("unknown bridge order status", "status", msg.Status, "orderid", msg.OrderID)
		return
	}

	g.mu.Lock()
	key := statusKey{status: status, filled: msg.Filled}
	if prev, seen := g.lastStatus[msg.OrderID]; seen && prev == key {
		g.mu.Unlock()
		return
	}
	g.lastStatus[msg.OrderID] = key

	order, known := g.orders[msg.OrderID]
	if !known {
		g.mu.Unlock()
		return
	}
	order.Traded = msg.Filled
	order.Status = status
	snapshot := *order

	if !status.IsActive() {
		delete(g.pending, msg.OrderID)
		delete(g.orders, msg.OrderID)
		delete(g.lastStatus, msg.OrderID)
		g.completed[msg.OrderID] = struct{}{}
	}
	g.mu.Unlock()

	g.bus.Publish(bus.Event{Type: bus.EventOrder, Data: snapshot})
}

// handleOpenOrder synthesizes orders the session has no intent for, which
// happens when reconnecting with working orders at the broker.
func (g *Gateway) handleOpenOrder(msg openOrderMsg) {
	g.mu.Lock()
	if _, isPending := g.pending[msg.OrderID]; isPending {
		delete(g.pending, msg.OrderID)
		g.mu.Unlock()
		return
	}
	if _, done := g.completed[msg.OrderID]; done {
		g.mu.Unlock()
		return
	}
	if _, known := g.orders[msg.OrderID]; known {
		g.mu.Unlock()
		return
	}

	direction := types.DirectionLong
	if msg.Action == "SELL" {
		direction = types.DirectionShort
	}
	orderType := types.OrderTypeLimit
	if msg.OrderType == "MKT" {
		orderType = types.OrderTypeMarket
	}
	order := &types.Order{
		Symbol:    msg.Contract.formattedSymbol(),
		Exchange:  types.Exchange(msg.Contract.Exchange),
		OrderID:   msg.OrderID,
		Type:      orderType,
		Direction: direction,
		Price:     msg.LimitPrice,
		Volume:    msg.Quantity,
		Status:    types.StatusSubmitting,
		Time:      time.Now(),
	}
	g.orders[msg.OrderID] = order
	g.lastStatus[msg.OrderID] = statusKey{status: types.StatusSubmitting, filled: 0}
	snapshot := *order
	g.mu.Unlock()

	g.bus.Publish(bus.Event{Type: bus.EventOrder, Data: snapshot})
}

// handleExecDetails converts an execution into a TRADE event. The cached
// order's intent direction overrides the side for combo fills, whose
// external side is always BUY.
func (g *Gateway) handleExecDetails(msg execDetailsMsg) {
	direction, ok := directionFromSide[msg.Side]
	if !ok {
		g.logger.Warn("unknown execution side", "side", msg.Side, "execid", msg.ExecID)
		return
	}

	g.mu.Lock()
	order, known := g.orders[msg.OrderID]
	symbol := msg.Contract.formattedSymbol()
	exchange := types.Exchange(msg.Contract.Exchange)
	if known {
		if order.IsCombo {
			direction = order.Direction
		}
		if msg.Contract.SecType == "BAG" {
			symbol = order.Symbol
		}
		exchange = order.Exchange
	}
	g.mu.Unlock()

	ts, err := parseExecTime(msg.Time)
	if err != nil {
		g.logger.Warn("unparseable execution time", "time", msg.Time, "error", err)
		ts = time.Now()
	}

	g.bus.Publish(bus.Event{Type: bus.EventTrade, Data: types.Trade{
		Symbol:    symbol,
		Exchange:  exchange,
		OrderID:   msg.OrderID,
		TradeID:   msg.ExecID,
		Direction: direction,
		Price:     msg.Price,
		Volume:    msg.Shares,
		Time:      ts,
	}})
}

func (g *Gateway) handlePosition(msg positionMsg) {
	mult := 1.0
	if m, err := strconv.ParseFloat(msg.Contract.Multiplier, 64); err == nil && m > 0 {
		mult = m
	}
	g.bus.Publish(bus.Event{Type: bus.EventPosition, Data: types.BrokerPosition{
		Symbol:    msg.Contract.formattedSymbol(),
		Exchange:  types.Exchange(msg.Contract.Exchange),
		Direction: types.DirectionNet,
		Volume:    msg.Position,
		Price:     types.Round2(msg.AvgCost / mult),
	}})
}

func (g *Gateway) handleAccountSummary(msg accountSummaryMsg) {
	id := msg.Account + "." + msg.Currency
	value, err := strconv.ParseFloat(msg.Value, 64)
	if err != nil {
		return
	}

	g.mu.Lock()
	acct, ok := g.accounts[id]
	if !ok {
		acct = &types.Account{AccountID: id}
		g.accounts[id] = acct
	}
	switch msg.Tag {
	case "NetLiquidation":
		acct.Balance = value
	case "AvailableFunds":
		acct.AvailableFunds = value
	case "MaintMarginReq":
		acct.Margin = value
	case "UnrealizedPnL":
		acct.UnrealizedPnL = value
	}
	snapshot := *acct
	g.mu.Unlock()

	g.bus.Publish(bus.Event{Type: bus.EventAccount, Data: snapshot})
}

// handleContractDetails builds a runtime contract from the bridge fields
// and hands it to the sink and the bus.
func (g *Gateway) handleContractDetails(msg contractDetailsMsg) {
	wc := msg.Contract
	contract := &types.Contract{
		Symbol:       wc.formattedSymbol(),
		Exchange:     types.Exchange(wc.Exchange),
		Name:         msg.LongName,
		Size:         1,
		PriceTick:    msg.MinTick,
		MinVolume:    1,
		ConID:        wc.ConID,
		TradingClass: wc.TradingClass,
		GatewayName:  "bridge",
	}
	if m, err := strconv.ParseFloat(wc.Multiplier, 64); err == nil && m > 0 {
		contract.Size = m
	}

	switch wc.SecType {
	case "OPT":
		contract.Product = types.ProductOption
		contract.OptionStrike = wc.Strike
		contract.OptionIndex = types.FormatStrike(wc.Strike)
		if wc.Right == "P" {
			contract.OptionType = types.OptionPut
		} else {
			contract.OptionType = types.OptionCall
		}
		if t, err := time.ParseInLocation("20060102", wc.Expiry, time.Local); err == nil {
			contract.OptionExpiry = t
		}
		contract.OptionPortfolio = strconv.FormatInt(msg.UnderConID, 10) + "_O"
		contract.OptionUnderlying = strconv.FormatInt(msg.UnderConID, 10) + "_" + wc.Expiry
	case "IND":
		contract.Product = types.ProductIndex
	case "STK":
		contract.Product = types.ProductEquity
	default:
		contract.Product = types.ProductUnknown
	}

	if g.sink != nil {
		g.sink.AddContract(contract)
	}
	g.bus.Publish(bus.Event{Type: bus.EventContract, Data: contract})
}

// handleError routes the bridge's error stream onto the LOG event,
// demoting informational vendor codes to notices.
func (g *Gateway) handleError(msg errorMsg) {
	if _, harmless := harmlessCodes[msg.Code]; harmless {
		g.publishLog(slog.LevelInfo, fmt.Sprintf("bridge notice %d: %s", msg.Code, msg.Message))
		return
	}
	g.publishLog(slog.LevelError, fmt.Sprintf("bridge error %d (req %d): %s", msg.Code, msg.ReqID, msg.Message))
}

func (g *Gateway) publishLog(level slog.Level, msg string) {
	g.bus.Publish(bus.Event{Type: bus.EventLog, Data: bus.LogData{
		Time:   time.Now(),
		Level:  level,
		Source: "gateway",
		Msg:    msg,
	}})
}

package strategy

import (
	"fmt"
	"log/slog"
	"sync"

	"options-engine/internal/bus"
	"options-engine/internal/hedge"
	"options-engine/internal/portfolio"
	"options-engine/internal/position"
	"options-engine/internal/store"
	"options-engine/pkg/types"
)

// referencePrefix tags orders the manager sends on a strategy's behalf
// when the caller gives no reference of its own.
const referencePrefix = "Strategy_"

// OrderGateway is the slice of the brokerage session the manager needs.
type OrderGateway interface {
	SendOrder(req types.OrderRequest) (string, error)
	CancelOrder(req types.CancelRequest) error
}

// ChainFeed subscribes strategies to quote-poller chains.
type ChainFeed interface {
	SubscribeChains(strategy string, chainKeys []string)
	UnsubscribeChains(strategy string)
}

// TradeLog persists order and trade records. May be nil-backed in tests.
type TradeLog interface {
	SaveOrder(o *types.Order) error
	SaveTrade(t *types.Trade) error
}

// HedgeRegistrar enrolls strategies with the hedging controller.
type HedgeRegistrar interface {
	Register(strategy string, cfg hedge.Config)
	Unregister(strategy string)
}

// Manager owns strategy instances and their order flow. It is the OMS:
// every order a strategy sends is mapped back to it, so fills, status
// updates, and position accounting all route by order id.
type Manager struct {
	logger    *slog.Logger
	store     *portfolio.Store
	positions *position.Engine
	gateway   OrderGateway
	feed      ChainFeed
	db        TradeLog
	hedger    HedgeRegistrar

	settingFile *store.File
	dataFile    *store.File

	mu            sync.Mutex
	strategies    map[string]Strategy
	orderStrategy map[string]string
	orders        map[string]*types.Order
	trades        map[string]*types.Trade
	activeOrders  map[string]map[string]struct{}
	settings      map[string]any

	// initMu serializes on_init runs: one warm-up at a time.
	initMu sync.Mutex
}

// NewManager creates the manager and loads the persisted settings index.
// db and hedger may be nil.
func NewManager(logger *slog.Logger, ps *portfolio.Store, pe *position.Engine,
	gw OrderGateway, feed ChainFeed, db TradeLog,
	settingFile, dataFile *store.File) *Manager {

	m := &Manager{
		logger:        logger.With("component", "strategy"),
		store:         ps,
		positions:     pe,
		gateway:       gw,
		feed:          feed,
		db:            db,
		settingFile:   settingFile,
		dataFile:      dataFile,
		strategies:    make(map[string]Strategy),
		orderStrategy: make(map[string]string),
		orders:        make(map[string]*types.Order),
		trades:        make(map[string]*types.Trade),
		activeOrders:  make(map[string]map[string]struct{}),
		settings:      make(map[string]any),
	}

	if settings, err := settingFile.Load(); err != nil {
		m.logger.Error("strategy settings load failed", "error", err)
	} else {
		m.settings = settings
		m.logger.Info("strategy settings loaded", "count", len(settings))
	}
	return m
}

// SetHedger wires the hedging controller after construction; the
// controller itself needs the manager as its order surface.
func (m *Manager) SetHedger(h HedgeRegistrar) { m.hedger = h }

// Attach subscribes the manager to ORDER, TRADE, and TIMER events.
func (m *Manager) Attach(b *bus.Bus) {
	b.Subscribe(bus.EventOrder, func(evt bus.Event) {
		if o, ok := evt.Data.(types.Order); ok {
			m.processOrder(o)
		}
	})
	b.Subscribe(bus.EventTrade, func(evt bus.Event) {
		if t, ok := evt.Data.(types.Trade); ok {
			m.processTrade(t)
		}
	})
	b.Subscribe(bus.EventTimer, func(bus.Event) { m.processTimer() })
}

// ————————————————————————————————————————————————————————————————————————
// Event processing
// ————————————————————————————————————————————————————————————————————————

func (m *Manager) processOrder(order types.Order) {
	m.mu.Lock()
	name, owned := m.orderStrategy[order.OrderID]
	if !owned {
		m.mu.Unlock()
		return
	}
	snapshot := order
	m.orders[order.OrderID] = &snapshot

	switch order.Status {
	case types.StatusCancelled, types.StatusRejected:
		delete(m.orderStrategy, order.OrderID)
		if set := m.activeOrders[name]; set != nil {
			delete(set, order.OrderID)
		}
	case types.StatusAllTraded:
		// Keep the strategy mapping: fills can still trail the status.
		if set := m.activeOrders[name]; set != nil {
			delete(set, order.OrderID)
		}
	}
	s := m.strategies[name]
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.SaveOrder(&order); err != nil {
			m.logger.Error("order persist failed", "orderid", order.OrderID, "error", err)
		}
	}
	if s != nil {
		s.OnOrder(order)
	}
}

func (m *Manager) processTrade(trade types.Trade) {
	m.mu.Lock()
	name, owned := m.orderStrategy[trade.OrderID]
	if !owned {
		m.mu.Unlock()
		return
	}
	snapshot := trade
	m.trades[trade.TradeID] = &snapshot
	s := m.strategies[name]
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.SaveTrade(&trade); err != nil {
			m.logger.Error("trade persist failed", "tradeid", trade.TradeID, "error", err)
		}
	}
	if s != nil {
		s.OnTrade(trade)
	}
}

func (m *Manager) processTimer() {
	m.mu.Lock()
	live := make([]Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		b := s.base()
		if b.inited && b.started && !b.errored {
			live = append(live, s)
		}
	}
	m.mu.Unlock()

	for _, s := range live {
		s.base().onTimer(s)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Lifecycle
// ————————————————————————————————————————————————————————————————————————

// AddStrategy creates a strategy instance named "{class}_{portfolio}".
// When a persisted setting already exists under that name the strategy is
// recovered instead, restoring its saved holding.
func (m *Manager) AddStrategy(className, portfolioName string, setting map[string]any) error {
	name := className + "_" + portfolioName

	m.mu.Lock()
	_, exists := m.strategies[name]
	_, persisted := m.settings[name]
	m.mu.Unlock()

	if exists {
		return fmt.Errorf("strategy %s already exists", name)
	}
	if persisted {
		m.logger.Info("found removed strategy, recovering", "strategy", name)
		return m.RecoverStrategy(name)
	}

	factory, ok := classFactory(className)
	if !ok {
		return fmt.Errorf("strategy class %q not registered", className)
	}
	s, err := factory(m, name, portfolioName, setting)
	if err != nil {
		return fmt.Errorf("create strategy %s: %w", name, err)
	}
	s.base().Holding = m.positions.CreateHolding(name)

	m.mu.Lock()
	m.strategies[name] = s
	m.mu.Unlock()

	if err := m.saveSetting(name, s); err != nil {
		m.logger.Error("setting persist failed", "strategy", name, "error", err)
	}
	m.logger.Info("strategy created", "strategy", name)
	return nil
}

// RecoverStrategy rebuilds a removed strategy from its persisted setting
// and reloads the saved holding.
func (m *Manager) RecoverStrategy(name string) error {
	entry, ok, err := m.settingFile.Get(name)
	if err != nil {
		return fmt.Errorf("recover %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("recover %s: no persisted setting", name)
	}

	className := asString(entry["class_name"])
	portfolioName := asString(entry["portfolio_name"])
	setting, _ := entry["setting"].(map[string]any)

	factory, found := classFactory(className)
	if !found {
		return fmt.Errorf("recover %s: class %q not registered", name, className)
	}
	s, err := factory(m, name, portfolioName, setting)
	if err != nil {
		return fmt.Errorf("recover %s: %w", name, err)
	}

	m.positions.CreateHolding(name)
	if blob, ok, err := m.dataFile.Get(name); err != nil {
		m.logger.Error("holding data load failed", "strategy", name, "error", err)
	} else if ok {
		if err := m.positions.LoadHolding(name, blob); err != nil {
			return fmt.Errorf("recover %s: restore holding: %w", name, err)
		}
	}
	h, _ := m.positions.Holding(name)
	s.base().Holding = h

	m.mu.Lock()
	m.strategies[name] = s
	m.settings[name] = entry
	m.mu.Unlock()

	m.logger.Info("strategy recovered", "strategy", name)
	return nil
}

// InitStrategy queues the strategy's warm-up on the single init worker.
func (m *Manager) InitStrategy(name string) {
	go m.runInit(name)
}

func (m *Manager) runInit(name string) {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	s, ok := m.strategy(name)
	if !ok {
		m.logger.Error("init failed, unknown strategy", "strategy", name)
		return
	}
	b := s.base()
	if b.inited {
		m.logger.Warn("strategy already initialized", "strategy", name)
		return
	}
	b.inited = true
	if err := s.OnInitLogic(); err != nil {
		b.SetError(err.Error())
		return
	}
	m.logger.Info("strategy initialized", "strategy", name)
}

// StartStrategy takes an initialized strategy live.
func (m *Manager) StartStrategy(name string) error {
	s, ok := m.strategy(name)
	if !ok {
		return fmt.Errorf("start: unknown strategy %s", name)
	}
	b := s.base()
	if !b.inited {
		return fmt.Errorf("start %s: initialize first", name)
	}
	if b.started {
		return fmt.Errorf("start %s: already started", name)
	}
	b.started = true
	m.logger.Info("strategy started", "strategy", name)
	return nil
}

// StopStrategy halts a live strategy: stop logic, cancel its working
// orders, and persist the holding.
func (m *Manager) StopStrategy(name string) error {
	s, ok := m.strategy(name)
	if !ok {
		return fmt.Errorf("stop: unknown strategy %s", name)
	}
	b := s.base()
	if !b.started {
		return fmt.Errorf("stop %s: not started", name)
	}
	b.started = false
	if err := s.OnStopLogic(); err != nil {
		m.logger.Error("stop logic failed", "strategy", name, "error", err)
	}
	m.cancelAll(name)
	if err := m.syncData(name); err != nil {
		m.logger.Error("holding persist failed", "strategy", name, "error", err)
	}
	m.logger.Info("strategy stopped", "strategy", name)
	return nil
}

// RemoveStrategy drops a stopped strategy from memory, keeping its
// persisted setting so it can be recovered later.
func (m *Manager) RemoveStrategy(name string) error {
	s, ok := m.strategy(name)
	if !ok {
		return fmt.Errorf("remove: unknown strategy %s", name)
	}
	if s.base().started {
		return fmt.Errorf("remove %s: stop first", name)
	}
	if err := m.syncData(name); err != nil {
		m.logger.Error("holding persist failed", "strategy", name, "error", err)
	}

	m.mu.Lock()
	for id := range m.activeOrders[name] {
		delete(m.orderStrategy, id)
	}
	delete(m.activeOrders, name)
	delete(m.strategies, name)
	m.mu.Unlock()

	m.feed.UnsubscribeChains(name)
	if m.hedger != nil {
		m.hedger.Unregister(name)
	}
	m.positions.RemoveHolding(name)
	m.logger.Info("strategy removed, setting kept", "strategy", name)
	return nil
}

// DeleteStrategy removes a stopped strategy and erases its persisted
// setting and holding data. It must be recreated from scratch afterwards.
func (m *Manager) DeleteStrategy(name string) error {
	s, ok := m.strategy(name)
	if !ok {
		return fmt.Errorf("delete: unknown strategy %s", name)
	}
	if s.base().started {
		return fmt.Errorf("delete %s: stop first", name)
	}

	m.mu.Lock()
	for id := range m.activeOrders[name] {
		delete(m.orderStrategy, id)
	}
	delete(m.activeOrders, name)
	delete(m.strategies, name)
	delete(m.settings, name)
	m.mu.Unlock()

	m.feed.UnsubscribeChains(name)
	if m.hedger != nil {
		m.hedger.Unregister(name)
	}
	m.positions.RemoveHolding(name)

	if err := m.settingFile.Delete(name); err != nil {
		m.logger.Error("setting delete failed", "strategy", name, "error", err)
	}
	if err := m.dataFile.Delete(name); err != nil {
		m.logger.Error("data delete failed", "strategy", name, "error", err)
	}
	m.logger.Info("strategy deleted", "strategy", name)
	return nil
}

// Close persists every strategy's setting and holding, then stops the
// live ones.
func (m *Manager) Close() {
	m.mu.Lock()
	names := make([]string, 0, len(m.strategies))
	for name := range m.strategies {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		s, ok := m.strategy(name)
		if !ok {
			continue
		}
		if err := m.saveSetting(name, s); err != nil {
			m.logger.Error("setting persist failed", "strategy", name, "error", err)
		}
		if s.base().started {
			if err := m.StopStrategy(name); err != nil {
				m.logger.Error("stop on close failed", "strategy", name, "error", err)
			}
		} else if err := m.syncData(name); err != nil {
			m.logger.Error("holding persist failed", "strategy", name, "error", err)
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Order routing
// ————————————————————————————————————————————————————————————————————————

type orderSpec struct {
	symbol    string
	direction types.Direction
	price     float64
	volume    float64
	orderType types.OrderType
	reference string
}

// sendOrder submits a single-instrument order, snapping volume to the
// contract lot and price to a cent.
func (m *Manager) sendOrder(strategyName string, spec orderSpec) (string, error) {
	contract, err := m.store.Contract(spec.symbol)
	if err != nil {
		return "", fmt.Errorf("send order: %w", err)
	}

	price := 0.0
	if spec.orderType != types.OrderTypeMarket {
		price = types.RoundTo(spec.price, 0.01)
	}
	reference := spec.reference
	if reference == "" {
		reference = referencePrefix + strategyName
	}

	return m.SendStrategyOrder(strategyName, types.OrderRequest{
		Symbol:       contract.Symbol,
		Exchange:     types.ExchangeSmart,
		Direction:    spec.direction,
		Type:         spec.orderType,
		Volume:       types.RoundTo(spec.volume, contract.MinVolume),
		Price:        price,
		Reference:    reference,
		TradingClass: contract.TradingClass,
	})
}

// sendComboOrder builds the legs for a named shape and submits one combo
// order under the "{portfolio}_{type}_{signature}" symbol.
func (m *Manager) sendComboOrder(strategyName, portfolioName string, comboType types.ComboType,
	options map[string]string, dir types.Direction, price, volume float64, orderType types.OrderType) (string, error) {

	legs, sig, err := position.BuildCombo(m.store, position.ComboRequest{
		Type:      comboType,
		Options:   options,
		Direction: dir,
		Volume:    int(volume),
	})
	if err != nil {
		return "", fmt.Errorf("send combo order: %w", err)
	}

	finalPrice := 0.0
	if orderType != types.OrderTypeMarket {
		finalPrice = types.RoundTo(price, 0.01)
	}
	return m.SendStrategyOrder(strategyName, types.OrderRequest{
		Symbol:       types.ComboSymbol(portfolioName, comboType, sig),
		Exchange:     types.ExchangeSmart,
		Direction:    dir,
		Type:         orderType,
		Volume:       volume,
		Price:        finalPrice,
		Reference:    referencePrefix + strategyName,
		TradingClass: legs[0].TradingClass,
		IsCombo:      true,
		ComboType:    comboType,
		Legs:         legs,
	})
}

// SendStrategyOrder submits a prepared request on a strategy's behalf and
// registers the order id under that strategy. The position engine and the
// hedging controller send through here too.
func (m *Manager) SendStrategyOrder(strategyName string, req types.OrderRequest) (string, error) {
	if req.Reference == "" {
		req.Reference = referencePrefix + strategyName
	}
	orderID, err := m.gateway.SendOrder(req)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.orderStrategy[orderID] = strategyName
	set, ok := m.activeOrders[strategyName]
	if !ok {
		set = make(map[string]struct{})
		m.activeOrders[strategyName] = set
	}
	set[orderID] = struct{}{}
	m.mu.Unlock()
	return orderID, nil
}

// CancelStrategyOrder cancels one order on a strategy's behalf.
func (m *Manager) CancelStrategyOrder(strategyName string, req types.CancelRequest) error {
	return m.gateway.CancelOrder(req)
}

// cancelOrder cancels by id, carrying combo legs when the cached order
// has them.
func (m *Manager) cancelOrder(orderID string) error {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel: unknown order %s", orderID)
	}
	return m.gateway.CancelOrder(order.CancelRequest())
}

func (m *Manager) cancelAll(strategyName string) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.activeOrders[strategyName]))
	for id := range m.activeOrders[strategyName] {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.cancelOrder(id); err != nil {
			m.logger.Error("cancel failed", "orderid", id, "error", err)
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Queries
// ————————————————————————————————————————————————————————————————————————

// StrategyOf maps an order id to its owning strategy.
func (m *Manager) StrategyOf(orderID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.orderStrategy[orderID]
	return name, ok
}

func (m *Manager) strategy(name string) (Strategy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[name]
	return s, ok
}

// ActiveOrders returns the strategy's working orders.
func (m *Manager) ActiveOrders(strategyName string) []*types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Order
	for id := range m.activeOrders[strategyName] {
		if order, ok := m.orders[id]; ok && order.IsActive() {
			out = append(out, order)
		}
	}
	return out
}

// Order returns a cached order by id.
func (m *Manager) Order(orderID string) (*types.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	return o, ok
}

// Orders returns every cached order.
func (m *Manager) Orders() []*types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

// Trades returns every cached trade.
func (m *Manager) Trades() []*types.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		out = append(out, t)
	}
	return out
}

// Status is one strategy's state as shown on the status surface.
type Status struct {
	Name      string         `json:"strategy_name"`
	ClassName string         `json:"class_name"`
	Author    string         `json:"author"`
	Portfolio string         `json:"portfolio_name"`
	Variables map[string]any `json:"variables"`
	Setting   map[string]any `json:"setting"`
}

// Statuses returns the state of every in-memory strategy.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.strategies))
	for _, s := range m.strategies {
		b := s.base()
		out = append(out, Status{
			Name:      b.name,
			ClassName: b.className,
			Author:    b.author,
			Portfolio: b.portfolioName,
			Variables: b.Variables(),
			Setting:   b.setting,
		})
	}
	return out
}

// StrategyNames lists the in-memory strategies.
func (m *Manager) StrategyNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.strategies))
	for name := range m.strategies {
		names = append(names, name)
	}
	return names
}

// RemovedStrategies lists strategies with a persisted setting but no
// in-memory instance, the recoverable set.
func (m *Manager) RemovedStrategies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.settings {
		if _, live := m.strategies[name]; !live {
			out = append(out, name)
		}
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Persistence
// ————————————————————————————————————————————————————————————————————————

func (m *Manager) saveSetting(name string, s Strategy) error {
	b := s.base()
	entry := map[string]any{
		"class_name":     b.className,
		"portfolio_name": b.portfolioName,
		"setting":        b.setting,
	}
	m.mu.Lock()
	m.settings[name] = entry
	m.mu.Unlock()
	return m.settingFile.Save(name, entry)
}

func (m *Manager) syncData(name string) error {
	blob, err := m.positions.SerializeHolding(name)
	if err != nil {
		return err
	}
	return m.dataFile.Save(name, blob)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

var (
	_ position.StrategyResolver = (*Manager)(nil)
	_ position.OrderSender      = (*Manager)(nil)
	_ hedge.OrderManager        = (*Manager)(nil)
)

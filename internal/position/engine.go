// Package position implements per-strategy position accounting: fills are
// folded into holdings, metrics are refreshed from market snapshots on
// each timer tick, and combo orders are assembled and closed.
//
// All state in this package is mutated only from the bus dispatcher
// goroutine, so no internal locking is needed beyond what the read-side
// query methods take.
package position

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"options-engine/internal/bus"
	"options-engine/internal/portfolio"
	"options-engine/pkg/types"
)

// Market provides contract definitions and live snapshots. Satisfied by
// *portfolio.Store.
type Market interface {
	Contract(symbol string) (*types.Contract, error)
	Snapshot(symbol string) (portfolio.Snapshot, bool)
}

// StrategyResolver maps an order id to the strategy that owns it.
type StrategyResolver interface {
	StrategyOf(orderID string) (string, bool)
}

// OrderSender submits an order on behalf of a strategy, registering the
// returned id under that strategy so fills route back here.
type OrderSender interface {
	SendStrategyOrder(strategy string, req types.OrderRequest) (string, error)
}

// comboMeta is the per-order metadata cached from combo ORDER events,
// needed later to route the order's fills.
type comboMeta struct {
	symbol    string
	comboType types.ComboType
	legs      []types.Leg
}

// Engine owns one Holding per strategy.
type Engine struct {
	logger   *slog.Logger
	market   Market
	resolver StrategyResolver
	sender   OrderSender

	mu        sync.RWMutex
	holdings  map[string]*types.Holding
	orderMeta map[string]comboMeta
	tradeIDs  map[string]struct{}
}

// NewEngine creates a position engine. The sender is attached later by
// the strategy manager, which owns order registration.
func NewEngine(logger *slog.Logger, market Market, resolver StrategyResolver) *Engine {
	return &Engine{
		logger:    logger.With("component", "position"),
		market:    market,
		resolver:  resolver,
		holdings:  make(map[string]*types.Holding),
		orderMeta: make(map[string]comboMeta),
		tradeIDs:  make(map[string]struct{}),
	}
}

// SetSender attaches the order submission path used by the close
// primitives.
func (e *Engine) SetSender(s OrderSender) { e.sender = s }

// SetResolver attaches the order-to-strategy lookup. The strategy manager
// is constructed after the engine, so the wiring happens in two steps.
func (e *Engine) SetResolver(r StrategyResolver) { e.resolver = r }

// Attach subscribes the engine to ORDER, TRADE, and TIMER events.
func (e *Engine) Attach(b *bus.Bus) {
	b.Subscribe(bus.EventOrder, func(evt bus.Event) {
		if o, ok := evt.Data.(types.Order); ok {
			e.ProcessOrder(o)
		}
	})
	b.Subscribe(bus.EventTrade, func(evt bus.Event) {
		if t, ok := evt.Data.(types.Trade); ok {
			e.ProcessTrade(t)
		}
	})
	b.Subscribe(bus.EventTimer, func(bus.Event) {
		e.RefreshMetrics()
	})
}

// CreateHolding makes an empty holding for a strategy. Existing holdings
// are kept.
func (e *Engine) CreateHolding(strategy string) *types.Holding {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.holdings[strategy]; ok {
		return h
	}
	h := types.NewHolding()
	e.holdings[strategy] = h
	return h
}

// RemoveHolding drops a strategy's holding.
func (e *Engine) RemoveHolding(strategy string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.holdings, strategy)
}

// Holding returns a strategy's holding.
func (e *Engine) Holding(strategy string) (*types.Holding, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.holdings[strategy]
	return h, ok
}

// Holdings returns the full strategy→holding map for read-only use.
func (e *Engine) Holdings() map[string]*types.Holding {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*types.Holding, len(e.holdings))
	for name, h := range e.holdings {
		out[name] = h
	}
	return out
}

// ProcessOrder caches the metadata needed to route a combo order's fills.
func (e *Engine) ProcessOrder(order types.Order) {
	if !order.IsCombo {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orderMeta[order.OrderID]; ok {
		return
	}
	e.orderMeta[order.OrderID] = comboMeta{
		symbol:    order.Symbol,
		comboType: order.ComboType,
		legs:      order.Legs,
	}
}

// ProcessTrade folds one fill into its strategy's holding. Trades are
// deduplicated by trade id; fills for untracked orders are ignored.
func (e *Engine) ProcessTrade(trade types.Trade) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, seen := e.tradeIDs[trade.TradeID]; seen {
		return
	}
	e.tradeIDs[trade.TradeID] = struct{}{}

	if e.resolver == nil {
		return
	}
	strategy, ok := e.resolver.StrategyOf(trade.OrderID)
	if !ok {
		return
	}
	holding, ok := e.holdings[strategy]
	if !ok {
		e.logger.Warn("trade for strategy without holding",
			"strategy", strategy, "orderid", trade.OrderID)
		return
	}

	if meta, isCombo := e.orderMeta[trade.OrderID]; isCombo {
		e.applyComboTrade(holding, meta, trade)
		return
	}

	switch {
	case types.IsUnderlyingSymbol(trade.Symbol):
		holding.Underlying.Symbol = trade.Symbol
		applyChange(holding.Underlying, trade.Direction, trade.Price, trade.Volume, false)
	case strings.HasSuffix(trade.Symbol, types.JoinSymbol+"OPT"):
		pos, ok := holding.Options[trade.Symbol]
		if !ok {
			pos = types.NewOptionPosition(trade.Symbol)
			holding.Options[trade.Symbol] = pos
		}
		applyChange(pos, trade.Direction, trade.Price, trade.Volume, false)
	default:
		e.logger.Warn("trade with unclassifiable symbol", "symbol", trade.Symbol)
	}
}

// applyComboTrade routes a fill from a combo order: the fill on the combo
// symbol itself updates the aggregate, leg fills update the leg positions.
func (e *Engine) applyComboTrade(holding *types.Holding, meta comboMeta, trade types.Trade) {
	combo := e.findOrCreateCombo(holding, meta)

	if trade.Symbol == meta.symbol {
		applyChange(&combo.Position, trade.Direction, trade.Price, trade.Volume, true)
		return
	}

	for _, leg := range combo.Legs {
		if leg.Symbol == trade.Symbol {
			applyChange(leg, trade.Direction, trade.Price, trade.Volume, false)
			return
		}
	}
	// Leg outside the prepopulated set, e.g. after a partial recovery.
	leg := types.NewOptionPosition(trade.Symbol)
	combo.Legs = append(combo.Legs, leg)
	applyChange(leg, trade.Direction, trade.Price, trade.Volume, false)
}

// findOrCreateCombo matches the order's combo symbol against the holding,
// first directly, then by normalized symbol so shapes that differ only in
// their type tag collapse onto one position.
func (e *Engine) findOrCreateCombo(holding *types.Holding, meta comboMeta) *types.ComboPosition {
	if combo, ok := holding.Combos[meta.symbol]; ok {
		return combo
	}
	want := types.NormalizeComboSymbol(meta.symbol)
	for sym, combo := range holding.Combos {
		if types.NormalizeComboSymbol(sym) == want {
			return combo
		}
	}

	combo := types.NewComboPosition(meta.symbol, meta.comboType)
	for _, leg := range meta.legs {
		combo.Legs = append(combo.Legs, types.NewOptionPosition(leg.Symbol))
	}
	holding.Combos[meta.symbol] = combo
	return combo
}

// RefreshMetrics recomputes every holding's summary from the latest
// market snapshots and clears flat positions.
func (e *Engine) RefreshMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, holding := range e.holdings {
		refreshHolding(e.market, holding)
	}
}

func refreshHolding(market Market, h *types.Holding) {
	var sum types.Summary

	u := h.Underlying
	if u.Quantity != 0 || u.RealizedPnL != 0 {
		accumulate(&sum, u, market)
	}
	for _, pos := range h.Options {
		accumulate(&sum, pos, market)
	}
	for _, combo := range h.Combos {
		accumulateCombo(&sum, combo, market)
	}

	sum.TotalCost = types.Round2(sum.TotalCost)
	sum.CurrentValue = types.Round2(sum.CurrentValue)
	sum.RealizedPnL = types.Round2(sum.RealizedPnL)
	sum.UnrealizedPnL = types.Round2(sum.CurrentValue - sum.TotalCost)
	sum.PnL = types.Round2(sum.UnrealizedPnL + sum.RealizedPnL)
	sum.Delta = types.Round4(sum.Delta)
	sum.Gamma = types.Round4(sum.Gamma)
	sum.Theta = types.Round4(sum.Theta)
	sum.Vega = types.Round4(sum.Vega)
	h.Summary = sum

	h.Underlying.ClearIfFlat()
	for _, pos := range h.Options {
		pos.ClearIfFlat()
	}
	for _, combo := range h.Combos {
		combo.ClearIfFlat()
	}
}

// accumulate refreshes one position from its snapshot and adds its
// contribution to the summary.
func accumulate(sum *types.Summary, pos *types.Position, market Market) {
	if snap, ok := market.Snapshot(pos.Symbol); ok {
		pos.MidPrice = types.Round2(snap.MidPrice)
		pos.Delta = types.Round4(snap.Delta)
		pos.Gamma = types.Round4(snap.Gamma)
		pos.Theta = types.Round4(snap.Theta)
		pos.Vega = types.Round4(snap.Vega)
	}
	q := float64(pos.Quantity)
	sum.CurrentValue += types.Round2(q * pos.MidPrice * pos.Multiplier)
	sum.TotalCost += pos.CostValue
	sum.RealizedPnL += pos.RealizedPnL
	sum.Delta += types.Round4(q * pos.Delta)
	sum.Gamma += types.Round4(q * pos.Gamma)
	sum.Theta += types.Round4(q * pos.Theta)
	sum.Vega += types.Round4(q * pos.Vega)
}

// accumulateCombo rebuilds the combo's aggregate fields from its legs and
// adds the leg totals to the summary. The combo's own mid and average
// cost derive from the leg totals, not from combo-symbol fills.
func accumulateCombo(sum *types.Summary, combo *types.ComboPosition, market Market) {
	var legSum types.Summary
	for _, leg := range combo.Legs {
		accumulate(&legSum, leg, market)
	}

	combo.CostValue = types.Round2(legSum.TotalCost)
	combo.RealizedPnL = types.Round2(legSum.RealizedPnL)
	combo.Delta = types.Round4(legSum.Delta)
	combo.Gamma = types.Round4(legSum.Gamma)
	combo.Theta = types.Round4(legSum.Theta)
	combo.Vega = types.Round4(legSum.Vega)

	if combo.Quantity != 0 {
		denom := float64(absInt(combo.Quantity)) * combo.Multiplier
		combo.MidPrice = types.Round2(legSum.CurrentValue / denom)
		if combo.CostValue > 0 {
			combo.AvgCost = types.Round2(combo.CostValue / denom)
		}
	}

	sum.CurrentValue += legSum.CurrentValue
	sum.TotalCost += legSum.TotalCost
	sum.RealizedPnL += legSum.RealizedPnL
	sum.Delta += legSum.Delta
	sum.Gamma += legSum.Gamma
	sum.Theta += legSum.Theta
	sum.Vega += legSum.Vega
}

// ————————————————————————————————————————————————————————————————————————
// Close primitives
// ————————————————————————————————————————————————————————————————————————

const closeReferencePrefix = "PositionEngine_"

// CloseUnderlying flattens the strategy's underlying position with one
// opposite MARKET order.
func (e *Engine) CloseUnderlying(strategy string) error {
	e.mu.RLock()
	holding, ok := e.holdings[strategy]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("close underlying: no holding for %s", strategy)
	}
	u := holding.Underlying
	if u.Quantity == 0 || u.Symbol == "Underlying" {
		return nil
	}

	contract, err := e.market.Contract(u.Symbol)
	if err != nil {
		return fmt.Errorf("close underlying: %w", err)
	}
	dir := types.DirectionShort
	if u.Quantity < 0 {
		dir = types.DirectionLong
	}
	_, err = e.sender.SendStrategyOrder(strategy, types.OrderRequest{
		Symbol:    u.Symbol,
		Exchange:  contract.Exchange,
		Direction: dir,
		Type:      types.OrderTypeMarket,
		Volume:    float64(absInt(u.Quantity)),
		Reference: closeReferencePrefix + strategy,
	})
	return err
}

// CloseOption flattens one standalone option position.
func (e *Engine) CloseOption(strategy, symbol string) error {
	e.mu.RLock()
	holding, ok := e.holdings[strategy]
	var pos *types.Position
	if ok {
		pos = holding.Options[symbol]
	}
	e.mu.RUnlock()
	if pos == nil {
		return fmt.Errorf("close option: no position %s for %s", symbol, strategy)
	}
	if pos.Quantity == 0 {
		return nil
	}

	contract, err := e.market.Contract(symbol)
	if err != nil {
		return fmt.Errorf("close option: %w", err)
	}
	dir := types.DirectionShort
	if pos.Quantity < 0 {
		dir = types.DirectionLong
	}
	_, err = e.sender.SendStrategyOrder(strategy, types.OrderRequest{
		Symbol:    symbol,
		Exchange:  contract.Exchange,
		Direction: dir,
		Type:      types.OrderTypeMarket,
		Volume:    float64(absInt(pos.Quantity)),
		Reference: closeReferencePrefix + strategy,
	})
	return err
}

// CloseCombo flattens one combo position with a CUSTOM combo order whose
// legs all carry the closing direction.
func (e *Engine) CloseCombo(strategy, comboSymbol string) error {
	e.mu.RLock()
	holding, ok := e.holdings[strategy]
	var combo *types.ComboPosition
	if ok {
		combo = holding.Combos[comboSymbol]
	}
	e.mu.RUnlock()
	if combo == nil {
		return fmt.Errorf("close combo: no position %s for %s", comboSymbol, strategy)
	}
	if combo.Quantity == 0 {
		return nil
	}

	dir := types.DirectionShort
	if combo.Quantity < 0 {
		dir = types.DirectionLong
	}
	volume := absInt(combo.Quantity)

	symbols := make([]string, 0, len(combo.Legs))
	for _, leg := range combo.Legs {
		symbols = append(symbols, leg.Symbol)
	}
	legs, sig, err := BuildCombo(e.market, ComboRequest{
		Type:      types.ComboCustom,
		Symbols:   symbols,
		Direction: dir,
		Volume:    volume,
	})
	if err != nil {
		return fmt.Errorf("close combo: %w", err)
	}

	root := strings.SplitN(comboSymbol, "_", 2)[0]
	req := types.OrderRequest{
		Symbol:    types.ComboSymbol(root, types.ComboCustom, sig),
		Exchange:  types.ExchangeSmart,
		Direction: dir,
		Type:      types.OrderTypeMarket,
		Volume:    float64(volume),
		Reference: closeReferencePrefix + strategy,
		IsCombo:   true,
		Legs:      legs,
		ComboType: types.ComboCustom,
	}
	if len(legs) > 0 {
		req.TradingClass = legs[0].TradingClass
	}
	_, err = e.sender.SendStrategyOrder(strategy, req)
	return err
}

// CloseAll flattens everything a strategy holds: combos first, then
// standalone options, then the underlying.
func (e *Engine) CloseAll(strategy string) error {
	e.mu.RLock()
	holding, ok := e.holdings[strategy]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("close all: no holding for %s", strategy)
	}

	var comboSyms, optionSyms []string
	e.mu.RLock()
	for sym, combo := range holding.Combos {
		if combo.Quantity != 0 {
			comboSyms = append(comboSyms, sym)
		}
	}
	for sym, pos := range holding.Options {
		if pos.Quantity != 0 {
			optionSyms = append(optionSyms, sym)
		}
	}
	e.mu.RUnlock()

	var firstErr error
	for _, sym := range comboSyms {
		if err := e.CloseCombo(strategy, sym); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, sym := range optionSyms {
		if err := e.CloseOption(strategy, sym); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.CloseUnderlying(strategy); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

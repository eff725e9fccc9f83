// Package strategy hosts the strategy runtime: a registry of strategy
// classes, the manager that owns their lifecycle and order routing, and
// the base type concrete strategies embed.
package strategy

import (
	"log/slog"

	"options-engine/internal/hedge"
	"options-engine/internal/portfolio"
	"options-engine/pkg/types"
)

// Strategy is one running strategy instance. Concrete strategies embed
// BaseStrategy for state and helpers and implement the three logic hooks;
// the manager drives them through the lifecycle.
type Strategy interface {
	base() *BaseStrategy

	// OnInitLogic runs once when the strategy is initialized, off the
	// event loop on the init worker.
	OnInitLogic() error

	// OnStopLogic runs when the strategy is stopped, before its active
	// orders are cancelled.
	OnStopLogic() error

	// OnTimerLogic runs every timer_trigger ticks while started. A
	// returned error sets the error flag and halts further timers.
	OnTimerLogic() error

	// OnOrder and OnTrade observe the strategy's own order flow.
	OnOrder(order types.Order)
	OnTrade(trade types.Trade)
}

// DefaultTimerTrigger is how many timer ticks pass between strategy
// timer callbacks unless the setting overrides it.
const DefaultTimerTrigger = 10

// BaseStrategy carries the state and helper surface shared by all
// strategies. Concrete types embed it by pointer.
type BaseStrategy struct {
	manager *Manager
	logger  *slog.Logger

	name          string
	className     string
	portfolioName string
	author        string

	// Portfolio is the live market view for the strategy's underlying.
	Portfolio *portfolio.Portfolio

	// Holding is the strategy's position book, owned by the position
	// engine.
	Holding *types.Holding

	inited       bool
	started      bool
	errored      bool
	errMsg       string
	timerTrigger int
	timerCnt     int

	setting map[string]any
}

// NewBase wires a base strategy into the manager. Factories call this
// first and embed the result.
func NewBase(m *Manager, name, className, portfolioName, author string, setting map[string]any) *BaseStrategy {
	b := &BaseStrategy{
		manager:       m,
		logger:        m.logger.With("strategy", name),
		name:          name,
		className:     className,
		portfolioName: portfolioName,
		author:        author,
		timerTrigger:  DefaultTimerTrigger,
		setting:       setting,
	}
	if p, ok := m.store.Portfolio(portfolioName); ok {
		b.Portfolio = p
	}
	if v, ok := setting["timer_trigger"]; ok {
		if n := asInt(v); n > 0 {
			b.timerTrigger = n
		}
	}
	return b
}

func (b *BaseStrategy) base() *BaseStrategy { return b }

// Name returns the instance name, "{class}_{portfolio}".
func (b *BaseStrategy) Name() string { return b.name }

// PortfolioName returns the underlying root the strategy trades.
func (b *BaseStrategy) PortfolioName() string { return b.portfolioName }

// Setting returns the raw setting map the strategy was created with.
func (b *BaseStrategy) Setting() map[string]any { return b.setting }

// Inited reports whether on_init has run.
func (b *BaseStrategy) Inited() bool { return b.inited }

// Started reports whether the strategy is live.
func (b *BaseStrategy) Started() bool { return b.started }

// Errored reports whether a timer error halted the strategy.
func (b *BaseStrategy) Errored() bool { return b.errored }

// Logger returns the strategy-scoped logger.
func (b *BaseStrategy) Logger() *slog.Logger { return b.logger }

// SetError flags the strategy as failed and takes it out of the timer
// rotation.
func (b *BaseStrategy) SetError(msg string) {
	b.errored = true
	b.errMsg = msg
	b.started = false
	b.logger.Error("strategy halted", "error", msg)
}

// Variables returns the introspection map shown on the status surface.
func (b *BaseStrategy) Variables() map[string]any {
	return map[string]any{
		"inited":        b.inited,
		"started":       b.started,
		"timer_trigger": b.timerTrigger,
		"error":         b.errored,
		"error_msg":     b.errMsg,
	}
}

// onTimer advances the per-strategy counter and fires the logic hook
// when it reaches the trigger.
func (b *BaseStrategy) onTimer(s Strategy) {
	if !b.started {
		return
	}
	b.timerCnt++
	if b.timerCnt < b.timerTrigger {
		return
	}
	b.timerCnt = 0
	if err := s.OnTimerLogic(); err != nil {
		b.SetError(err.Error())
	}
}

// OnOrder logs the order update. Strategies override for custom handling.
func (b *BaseStrategy) OnOrder(order types.Order) {
	b.logger.Info("order update", "orderid", order.OrderID,
		"direction", order.Direction, "volume", order.Volume,
		"price", order.Price, "status", order.Status)
}

// OnTrade logs the fill. Strategies override for custom handling.
func (b *BaseStrategy) OnTrade(trade types.Trade) {
	b.logger.Info("trade", "tradeid", trade.TradeID,
		"direction", trade.Direction, "volume", trade.Volume, "price", trade.Price)
}

// ————————————————————————————————————————————————————————————————————————
// Market data helpers
// ————————————————————————————————————————————————————————————————————————

// SubscribeChains registers the strategy's chains with the quote poller.
func (b *BaseStrategy) SubscribeChains(chainSymbols []string) {
	b.manager.feed.SubscribeChains(b.name, chainSymbols)
}

// Chain returns one of the portfolio's chains by symbol.
func (b *BaseStrategy) Chain(chainSymbol string) (*portfolio.Chain, bool) {
	if b.Portfolio == nil {
		return nil, false
	}
	c, ok := b.Portfolio.Chains[chainSymbol]
	return c, ok
}

// ————————————————————————————————————————————————————————————————————————
// Hedging helpers
// ————————————————————————————————————————————————————————————————————————

// RegisterHedging enrolls the strategy with the delta-hedging controller.
func (b *BaseStrategy) RegisterHedging(cfg hedge.Config) {
	if b.manager.hedger != nil {
		b.manager.hedger.Register(b.name, cfg)
	}
}

// UnregisterHedging removes the strategy from the hedging controller.
func (b *BaseStrategy) UnregisterHedging() {
	if b.manager.hedger != nil {
		b.manager.hedger.Unregister(b.name)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Order helpers
// ————————————————————————————————————————————————————————————————————————

// SendUnderlyingOrder trades the portfolio's underlying.
func (b *BaseStrategy) SendUnderlyingOrder(dir types.Direction, price, volume float64, orderType types.OrderType) (string, error) {
	return b.manager.sendOrder(b.name, orderSpec{
		symbol:    b.Portfolio.Underlying.Symbol,
		direction: dir,
		price:     price,
		volume:    volume,
		orderType: orderType,
	})
}

// SendOptionOrder trades a single option contract.
func (b *BaseStrategy) SendOptionOrder(symbol string, dir types.Direction, price, volume float64, orderType types.OrderType) (string, error) {
	return b.manager.sendOrder(b.name, orderSpec{
		symbol:    symbol,
		direction: dir,
		price:     price,
		volume:    volume,
		orderType: orderType,
	})
}

// SendComboOrder builds the legs for a named combo shape and submits a
// single combo order.
func (b *BaseStrategy) SendComboOrder(comboType types.ComboType, options map[string]string, dir types.Direction, price, volume float64, orderType types.OrderType) (string, error) {
	return b.manager.sendComboOrder(b.name, b.portfolioName, comboType, options, dir, price, volume, orderType)
}

// CancelOrder cancels one of the strategy's orders.
func (b *BaseStrategy) CancelOrder(orderID string) error {
	return b.manager.cancelOrder(orderID)
}

// CancelAll cancels every active order the strategy has working.
func (b *BaseStrategy) CancelAll() {
	b.manager.cancelAll(b.name)
}

// ————————————————————————————————————————————————————————————————————————
// Position helpers
// ————————————————————————————————————————————————————————————————————————

// CloseAllPositions flattens the strategy's whole book: combos, then
// options, then the underlying.
func (b *BaseStrategy) CloseAllPositions() error {
	return b.manager.positions.CloseAll(b.name)
}

// CloseCombo flattens one combo position.
func (b *BaseStrategy) CloseCombo(comboSymbol string) error {
	return b.manager.positions.CloseCombo(b.name, comboSymbol)
}

// CloseOption flattens one option position.
func (b *BaseStrategy) CloseOption(symbol string) error {
	return b.manager.positions.CloseOption(b.name, symbol)
}

// CloseUnderlying flattens the underlying position.
func (b *BaseStrategy) CloseUnderlying() error {
	return b.manager.positions.CloseUnderlying(b.name)
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

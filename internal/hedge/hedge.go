// Package hedge implements the delta-band hedging controller. Strategies
// register a target delta and tolerance band; every few timer ticks the
// controller checks each registered strategy's summary delta and trades
// the underlying back toward the target when the band is breached.
package hedge

import (
	"log/slog"
	"math"
	"strings"
	"sync"

	"options-engine/internal/bus"
	"options-engine/internal/portfolio"
	"options-engine/internal/position"
	"options-engine/pkg/types"
)

// ReferencePrefix tags hedge orders so in-flight hedges are recognized on
// the next cycle.
const ReferencePrefix = "Hedge_"

// DefaultTimerTrigger is the number of timer ticks between hedge passes.
const DefaultTimerTrigger = 5

// Config is one strategy's hedging registration.
type Config struct {
	TimerTrigger int
	DeltaTarget  float64
	DeltaRange   float64
}

// OrderManager is the slice of the strategy manager the controller needs:
// submitting and cancelling orders on a strategy's behalf and listing its
// active orders.
type OrderManager interface {
	SendStrategyOrder(strategy string, req types.OrderRequest) (string, error)
	CancelStrategyOrder(strategy string, req types.CancelRequest) error
	ActiveOrders(strategy string) []*types.Order
}

// Holdings exposes the position engine's per-strategy holdings.
type Holdings interface {
	Holding(strategy string) (*types.Holding, bool)
}

// Engine is the hedging controller.
type Engine struct {
	logger    *slog.Logger
	store     *portfolio.Store
	holdings  Holdings
	orders    OrderManager
	trigger   int
	timerCnt  int

	mu      sync.Mutex
	configs map[string]Config
}

// NewEngine creates a hedging controller with the default cycle trigger.
func NewEngine(logger *slog.Logger, store *portfolio.Store, holdings Holdings, orders OrderManager) *Engine {
	return &Engine{
		logger:   logger.With("component", "hedge"),
		store:    store,
		holdings: holdings,
		orders:   orders,
		trigger:  DefaultTimerTrigger,
		configs:  make(map[string]Config),
	}
}

// Attach subscribes the controller to TIMER events.
func (e *Engine) Attach(b *bus.Bus) {
	b.Subscribe(bus.EventTimer, func(bus.Event) { e.OnTimer() })
}

// Register enables hedging for a strategy.
func (e *Engine) Register(strategy string, cfg Config) {
	if cfg.TimerTrigger <= 0 {
		cfg.TimerTrigger = DefaultTimerTrigger
	}
	e.mu.Lock()
	e.configs[strategy] = cfg
	e.mu.Unlock()
	e.logger.Info("hedging registered", "strategy", strategy,
		"delta_target", cfg.DeltaTarget, "delta_range", cfg.DeltaRange)
}

// Unregister disables hedging for a strategy.
func (e *Engine) Unregister(strategy string) {
	e.mu.Lock()
	delete(e.configs, strategy)
	e.mu.Unlock()
}

// OnTimer advances the cycle counter and runs a hedge pass when it fires.
func (e *Engine) OnTimer() {
	e.timerCnt++
	if e.timerCnt < e.trigger {
		return
	}
	e.timerCnt = 0

	e.mu.Lock()
	names := make([]string, 0, len(e.configs))
	for name := range e.configs {
		names = append(names, name)
	}
	e.mu.Unlock()

	for _, name := range names {
		e.mu.Lock()
		cfg, ok := e.configs[name]
		e.mu.Unlock()
		if ok {
			e.hedgeStrategy(name, cfg)
		}
	}
}

func (e *Engine) hedgeStrategy(strategy string, cfg Config) {
	// An in-flight hedge means the book is about to move; cancel and wait
	// for the next cycle instead of stacking orders.
	if e.cancelPendingHedges(strategy) {
		return
	}

	holding, ok := e.holdings.Holding(strategy)
	if !ok {
		return
	}
	d := holding.Summary.Delta
	if d >= cfg.DeltaTarget-cfg.DeltaRange && d <= cfg.DeltaTarget+cfg.DeltaRange {
		return
	}

	root := portfolioOf(strategy)
	p, ok := e.store.Portfolio(root)
	if !ok || p.Underlying == nil || p.Underlying.TheoDelta == 0 {
		e.logger.Warn("no underlying to hedge with", "strategy", strategy, "portfolio", root)
		return
	}
	u := p.Underlying

	h := (cfg.DeltaTarget - d) / u.TheoDelta
	qty := int(math.Abs(h))
	if qty < 1 {
		return
	}

	dir := types.DirectionLong
	available := 0
	held := holding.Underlying.Quantity
	if h > 0 {
		if held < 0 {
			available = -held
		}
	} else {
		dir = types.DirectionShort
		if held > 0 {
			available = held
		}
	}

	contract, err := e.store.Contract(u.Symbol)
	if err != nil {
		e.logger.Error("hedge contract lookup failed", "symbol", u.Symbol, "error", err)
		return
	}

	closeQty := available
	if closeQty > qty {
		closeQty = qty
	}
	ref := ReferencePrefix + strategy

	if closeQty > 0 {
		e.send(strategy, u.Symbol, contract.Exchange, dir, closeQty, ref)
	}
	if open := qty - closeQty; open > 0 {
		e.send(strategy, u.Symbol, contract.Exchange, dir, open, ref)
	}
}

// cancelPendingHedges cancels any still-active hedge orders and reports
// whether there were any.
func (e *Engine) cancelPendingHedges(strategy string) bool {
	found := false
	for _, order := range e.orders.ActiveOrders(strategy) {
		if !strings.Contains(order.Reference, "Hedge") {
			continue
		}
		found = true
		if err := e.orders.CancelStrategyOrder(strategy, order.CancelRequest()); err != nil {
			e.logger.Error("cancel hedge order failed",
				"strategy", strategy, "orderid", order.OrderID, "error", err)
		}
	}
	return found
}

func (e *Engine) send(strategy, symbol string, exchange types.Exchange, dir types.Direction, qty int, ref string) {
	_, err := e.orders.SendStrategyOrder(strategy, types.OrderRequest{
		Symbol:    symbol,
		Exchange:  exchange,
		Direction: dir,
		Type:      types.OrderTypeMarket,
		Volume:    float64(qty),
		Reference: ref,
	})
	if err != nil {
		e.logger.Error("hedge order failed", "strategy", strategy, "error", err)
	}
}

// portfolioOf extracts the portfolio root from a strategy name of the form
// "{class}_{portfolio}".
func portfolioOf(strategy string) string {
	if _, after, ok := strings.Cut(strategy, "_"); ok {
		return after
	}
	return strategy
}

var _ Holdings = (*position.Engine)(nil)

// Package engine is the central orchestrator of the options trading
// runtime.
//
// It wires together all subsystems:
//
//  1. The event bus carries TICK/ORDER/TRADE/TIMER events between them.
//  2. The gateway maintains the broker bridge session and publishes order,
//     trade, account, and contract events.
//  3. The market-data poller pulls option chains with greeks from the
//     quote vendor and feeds the portfolio store.
//  4. The position engine turns fills into per-strategy holdings.
//  5. The strategy manager owns strategy lifecycles and order routing.
//  6. The hedging controller keeps enrolled strategies delta-neutral.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"options-engine/internal/bus"
	"options-engine/internal/config"
	"options-engine/internal/database"
	"options-engine/internal/gateway"
	"options-engine/internal/hedge"
	"options-engine/internal/marketdata"
	"options-engine/internal/portfolio"
	"options-engine/internal/position"
	"options-engine/internal/store"
	"options-engine/internal/strategy"
	"options-engine/pkg/types"
)

// Engine owns every component and their startup/shutdown order.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	bus        *bus.Bus
	db         *database.DB
	store      *portfolio.Store
	gateway    *gateway.Gateway
	feed       *marketdata.Engine
	positions  *position.Engine
	strategies *strategy.Manager
	hedger     *hedge.Engine
}

// New creates and wires all engine components. Contracts persisted from
// earlier sessions are loaded into the portfolio store so strategies can
// resolve symbols before the bridge reports anything.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	db, err := database.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ps := portfolio.NewStore(logger)
	contracts, err := db.LoadContracts()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load contracts: %w", err)
	}
	for _, c := range contracts {
		ps.AddContract(c)
	}

	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	settingFile := store.NewFile(filepath.Join(cfg.Store.DataDir, "strategy_setting.yaml"), "strategy settings")
	dataFile := store.NewFile(filepath.Join(cfg.Store.DataDir, "strategy_data.yaml"), "strategy holdings")

	b := bus.New(logger)
	b.AttachLogSink(logger)
	pe := position.NewEngine(logger, ps, nil)

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		bus:       b,
		db:        db,
		store:     ps,
		positions: pe,
	}

	e.gateway = gateway.New(logger, b, cfg.Bridge.URL, e)
	client := marketdata.NewClient(cfg.MarketData.BaseURL, cfg.MarketData.Token, logger)
	e.feed = marketdata.NewEngine(logger, client, ps)

	e.strategies = strategy.NewManager(logger, ps, pe, e.gateway, e.feed, db, settingFile, dataFile)

	// The manager resolves order ids back to strategies and sends hedge
	// orders, so the position engine gets it after construction.
	pe.SetResolver(e.strategies)
	pe.SetSender(e.strategies)

	e.hedger = hedge.NewEngine(logger, ps, pe, e.strategies)
	e.strategies.SetHedger(e.hedger)

	// Attach order matters: positions must see fills before the manager
	// notifies strategies, and the hedger reads refreshed holdings.
	pe.Attach(b)
	e.strategies.Attach(b)
	e.hedger.Attach(b)
	e.gateway.Attach(b)

	return e, nil
}

// Start launches the bus, connects the bridge session, and starts the
// quote poller. A failed bridge connect is not fatal: the gateway retries
// on the timer.
func (e *Engine) Start() error {
	e.bus.Start()

	if err := e.gateway.Connect(e.cfg.Bridge.ClientID, e.cfg.Bridge.Account); err != nil {
		e.logger.Error("bridge connect failed, will retry", "error", err)
	} else {
		if err := e.gateway.QueryAccount(); err != nil {
			e.logger.Error("account query failed", "error", err)
		}
		if err := e.gateway.QueryPositions(); err != nil {
			e.logger.Error("position query failed", "error", err)
		}
	}

	e.feed.Start()

	e.logger.Info("engine started",
		"contracts", len(e.store.Contracts()),
		"strategies", len(e.strategies.StrategyNames()),
	)
	return nil
}

// Stop shuts everything down in reverse order: strategies first so their
// holdings are persisted, then the poller, the bridge session, the bus,
// and finally the database.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.strategies.Close()
	e.feed.Stop()
	e.gateway.Disconnect()
	e.bus.Stop()

	if err := e.db.Close(); err != nil {
		e.logger.Error("database close failed", "error", err)
	}

	e.logger.Info("shutdown complete")
}

// AddContract feeds contracts discovered via the bridge into the store
// and persists them for the next session.
func (e *Engine) AddContract(c *types.Contract) {
	e.store.AddContract(c)
	if err := e.db.SaveContract(c); err != nil {
		e.logger.Error("contract save failed", "symbol", c.Symbol, "error", err)
	}
}

// SubscribePortfolio asks the bridge for an underlying and its option
// chain. secType is "STK" or "IND".
func (e *Engine) SubscribePortfolio(root, secType string) error {
	return e.gateway.QueryPortfolio(root, secType)
}

// ————————————————————————————————————————————————————————————————————————
// Strategy lifecycle pass-through
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) AddStrategy(className, portfolioName string, setting map[string]any) error {
	return e.strategies.AddStrategy(className, portfolioName, setting)
}

func (e *Engine) InitStrategy(name string)        { e.strategies.InitStrategy(name) }
func (e *Engine) StartStrategy(name string) error { return e.strategies.StartStrategy(name) }
func (e *Engine) StopStrategy(name string) error  { return e.strategies.StopStrategy(name) }

func (e *Engine) RemoveStrategy(name string) error {
	return e.strategies.RemoveStrategy(name)
}

func (e *Engine) DeleteStrategy(name string) error {
	return e.strategies.DeleteStrategy(name)
}

// StrategyClasses lists the registered strategy class names.
func (e *Engine) StrategyClasses() []string { return strategy.ClassNames() }

// ————————————————————————————————————————————————————————————————————————
// Read surface (used by the HTTP status API)
// ————————————————————————————————————————————————————————————————————————

// Connected reports whether the bridge session is live.
func (e *Engine) Connected() bool { return e.gateway.Connected() }

// Statuses returns the state of every in-memory strategy.
func (e *Engine) Statuses() []strategy.Status { return e.strategies.Statuses() }

// Holdings returns per-strategy holdings with freshly computed metrics.
func (e *Engine) Holdings() map[string]*types.Holding {
	e.positions.RefreshMetrics()
	return e.positions.Holdings()
}

// Accounts returns the latest broker account summaries.
func (e *Engine) Accounts() []types.Account { return e.gateway.Accounts() }

// Portfolios returns the tracked underlyings and their chains.
func (e *Engine) Portfolios() []*portfolio.Portfolio { return e.store.Portfolios() }

// Contracts returns every contract in the store.
func (e *Engine) Contracts() []*types.Contract { return e.store.Contracts() }

// Orders returns the orders seen this session.
func (e *Engine) Orders() []*types.Order { return e.strategies.Orders() }

// Trades returns the fills seen this session.
func (e *Engine) Trades() []*types.Trade { return e.strategies.Trades() }

// OrderHistory returns persisted orders across sessions.
func (e *Engine) OrderHistory() ([]types.Order, error) { return e.db.OrderHistory() }

// TradeHistory returns persisted fills across sessions.
func (e *Engine) TradeHistory() ([]types.Trade, error) { return e.db.TradeHistory() }

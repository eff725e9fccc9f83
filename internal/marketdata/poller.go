package marketdata

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"options-engine/internal/portfolio"
	"options-engine/pkg/types"
)

// Engine drives the background quote poll. Strategies subscribe chain
// keys; the poller walks the active set once per idle interval, fetching
// each chain plus the portfolio's underlying and injecting both into the
// store.
type Engine struct {
	logger *slog.Logger
	client *Client
	store  *portfolio.Store

	mu             sync.Mutex
	activeChains   map[string]map[string]struct{} // portfolio root -> chain keys
	strategyChains map[string]map[string]struct{} // strategy -> chain keys

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a stopped poller.
func NewEngine(logger *slog.Logger, client *Client, store *portfolio.Store) *Engine {
	return &Engine{
		logger:         logger.With("component", "marketdata"),
		client:         client,
		store:          store,
		activeChains:   make(map[string]map[string]struct{}),
		strategyChains: make(map[string]map[string]struct{}),
	}
}

// pollInterval spreads requests over the vendor's per-minute allowance.
func pollInterval() time.Duration {
	idle := 60.0 / float64(quoteRatePerMinute)
	if idle < 0.01 {
		idle = 0.01
	}
	return time.Duration(idle * float64(time.Second))
}

// SubscribeChains adds chain keys to a strategy's subscription. Keys are
// "{class}_{yyyymmdd}"; the portfolio grouping uses the part before the
// underscore.
func (e *Engine) SubscribeChains(strategy string, chainKeys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set, ok := e.strategyChains[strategy]
	if !ok {
		set = make(map[string]struct{})
		e.strategyChains[strategy] = set
	}
	for _, key := range chainKeys {
		set[key] = struct{}{}
		root, _, _ := strings.Cut(key, "_")
		chains, ok := e.activeChains[root]
		if !ok {
			chains = make(map[string]struct{})
			e.activeChains[root] = chains
		}
		chains[key] = struct{}{}
	}
	e.logger.Info("chains subscribed", "strategy", strategy, "chains", chainKeys)
}

// UnsubscribeChains drops every chain a strategy subscribed. Chains still
// held by another strategy stay active.
func (e *Engine) UnsubscribeChains(strategy string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.strategyChains[strategy]
	delete(e.strategyChains, strategy)

	for key := range keys {
		if e.stillSubscribed(key) {
			continue
		}
		root, _, _ := strings.Cut(key, "_")
		if chains, ok := e.activeChains[root]; ok {
			delete(chains, key)
			if len(chains) == 0 {
				delete(e.activeChains, root)
			}
		}
	}
	e.logger.Info("chains unsubscribed", "strategy", strategy)
}

// stillSubscribed reports whether any remaining strategy holds the key.
// Caller holds e.mu.
func (e *Engine) stillSubscribed(key string) bool {
	for _, set := range e.strategyChains {
		if _, ok := set[key]; ok {
			return true
		}
	}
	return false
}

// ActiveChains returns the currently polled chain keys, for inspection.
func (e *Engine) ActiveChains() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, chains := range e.activeChains {
		for key := range chains {
			out = append(out, key)
		}
	}
	return out
}

// Start launches the background poll loop. Idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.pollLoop(ctx)
	e.logger.Info("quote polling started")
}

// Stop cancels the poll loop and waits for it to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Info("quote polling stopped")
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

// pollOnce refreshes every active portfolio: each subscribed chain, then
// the underlying tick.
func (e *Engine) pollOnce(ctx context.Context) {
	e.mu.Lock()
	work := make(map[string][]string, len(e.activeChains))
	for root, chains := range e.activeChains {
		keys := make([]string, 0, len(chains))
		for key := range chains {
			keys = append(keys, key)
		}
		work[root] = keys
	}
	e.mu.Unlock()

	for root, keys := range work {
		for _, key := range keys {
			quote, err := e.client.ChainQuotes(ctx, key)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Error("chain fetch failed", "chain", key, "error", err)
				continue
			}
			e.injectChain(quote)
		}

		p, ok := e.store.Portfolio(mappedRoot(root))
		if !ok || p.Underlying == nil {
			continue
		}
		tick, err := e.client.UnderlyingQuote(ctx, p.Underlying.Symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("underlying fetch failed", "symbol", p.Underlying.Symbol, "error", err)
			continue
		}
		e.store.UpdateTick(tick)
	}
}

// injectChain stamps the chain quote with the underlying's current mid and
// hands it to the store.
func (e *Engine) injectChain(quote types.ChainQuote) {
	root, _, _ := strings.Cut(quote.ChainSymbol, "_")
	if p, ok := e.store.Portfolio(root); ok && p.Underlying != nil {
		quote.UnderlyingSymbol = p.Underlying.Symbol
		quote.UnderlyingLast = p.Underlying.Mid
	}
	e.store.UpdateChain(quote, time.Now())
}

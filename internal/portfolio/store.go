package portfolio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"options-engine/pkg/types"
)

// ErrContractNotFound reports a lookup for a symbol with no registered
// contract definition.
var ErrContractNotFound = errors.New("contract not found")

// Snapshot is the read-only market view of one instrument, consumed by the
// position engine when refreshing holdings.
type Snapshot struct {
	MidPrice float64
	Delta    float64
	Gamma    float64
	Theta    float64
	Vega     float64
}

// Store owns all contract definitions and live market state. Safe for
// concurrent use; market-data injection and contract registration take the
// write lock, queries the read lock.
type Store struct {
	logger *slog.Logger

	mu         sync.RWMutex
	contracts  map[string]*types.Contract
	portfolios map[string]*Portfolio
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:     logger.With("component", "portfolio"),
		contracts:  make(map[string]*types.Contract),
		portfolios: make(map[string]*Portfolio),
	}
}

// AddContract registers a contract definition and slots it into its
// portfolio. Options land in the chain for their expiry, creating the
// chain on first sight. Re-adding a known symbol replaces the definition.
func (s *Store) AddContract(c *types.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contracts[c.Symbol] = c
	root := types.SymbolRoot(c.Symbol)
	p, ok := s.portfolios[root]
	if !ok {
		p = newPortfolio(root)
		s.portfolios[root] = p
	}

	if c.Product != types.ProductOption {
		p.Underlying = &Underlying{
			Symbol:    c.Symbol,
			Exchange:  c.Exchange,
			Contract:  c,
			TheoDelta: c.Size,
		}
		// Chains created before the underlying arrived pick it up now.
		for _, chain := range p.Chains {
			chain.underlying = p.Underlying
		}
		return
	}

	chainSym := root + "_" + c.OptionExpiry.Format("20060102")
	chain, ok := p.Chains[chainSym]
	if !ok {
		chain = newChain(chainSym, c.OptionExpiry, p.Underlying)
		p.Chains[chainSym] = chain
	}

	o := &Option{
		Symbol:     c.Symbol,
		Contract:   c,
		Strike:     c.OptionStrike,
		Right:      c.OptionType,
		Size:       c.Size,
		Expiry:     c.OptionExpiry,
		ChainIndex: c.OptionIndex,
	}
	if o.ChainIndex == "" {
		o.ChainIndex = types.FormatStrike(c.OptionStrike)
	}
	chain.addOption(o)
	p.Options[c.Symbol] = o
}

// Contract returns a registered contract definition.
func (s *Store) Contract(symbol string) (*types.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, symbol)
	}
	return c, nil
}

// Contracts returns every registered contract.
func (s *Store) Contracts() []*types.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c)
	}
	return out
}

// Portfolio returns the portfolio for an underlying root.
func (s *Store) Portfolio(root string) (*Portfolio, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portfolios[root]
	return p, ok
}

// Portfolios returns all portfolios.
func (s *Store) Portfolios() []*Portfolio {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Portfolio, 0, len(s.portfolios))
	for _, p := range s.portfolios {
		out = append(out, p)
	}
	return out
}

// UpdateChain applies a full chain refresh: underlying mid, per-option
// quotes with size-scaled greeks, then the ATM index and the trading-day
// countdown.
func (s *Store) UpdateChain(q types.ChainQuote, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, _, _ := strings.Cut(q.ChainSymbol, "_")
	p, ok := s.portfolios[root]
	if !ok {
		s.logger.Warn("chain update for unknown portfolio", "chain", q.ChainSymbol)
		return
	}
	chain, ok := p.Chains[q.ChainSymbol]
	if !ok {
		s.logger.Warn("chain update for unknown chain", "chain", q.ChainSymbol)
		return
	}

	if p.Underlying != nil && q.UnderlyingLast > 0 {
		p.Underlying.Mid = types.Round2(q.UnderlyingLast)
	}

	for _, oq := range q.Options {
		o, ok := p.Options[oq.Symbol]
		if !ok {
			continue
		}
		o.Bid = oq.Bid
		o.Ask = oq.Ask
		o.Mid = oq.Last
		o.Delta = types.Round4(oq.Delta * o.Size)
		o.Gamma = types.Round4(oq.Gamma * o.Size)
		o.Theta = types.Round4(oq.Theta * o.Size)
		o.Vega = types.Round4(oq.Vega * o.Size)
		o.MidIV = oq.MidIV
	}

	chain.calcATM()
	chain.refreshExpiry(now)
}

// UpdateTick applies an underlying quote. Mid is the bid/ask midpoint when
// both sides are present, otherwise the last trade.
func (s *Store) UpdateTick(t types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := types.SymbolRoot(t.Symbol)
	p, ok := s.portfolios[root]
	if !ok || p.Underlying == nil {
		return
	}
	switch {
	case t.Bid > 0 && t.Ask > 0:
		p.Underlying.Mid = types.Round2((t.Bid + t.Ask) / 2)
	case t.Last > 0:
		p.Underlying.Mid = types.Round2(t.Last)
	}
}

// Snapshot returns the current market view for a symbol. Underlyings
// report their theoretical unit delta; options report size-scaled greeks.
func (s *Store) Snapshot(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := types.SymbolRoot(symbol)
	p, ok := s.portfolios[root]
	if !ok {
		return Snapshot{}, false
	}
	if o, ok := p.Options[symbol]; ok {
		return Snapshot{
			MidPrice: o.Mid,
			Delta:    o.Delta,
			Gamma:    o.Gamma,
			Theta:    o.Theta,
			Vega:     o.Vega,
		}, true
	}
	if p.Underlying != nil && p.Underlying.Symbol == symbol {
		return Snapshot{
			MidPrice: p.Underlying.Mid,
			Delta:    p.Underlying.TheoDelta,
		}, true
	}
	return Snapshot{}, false
}

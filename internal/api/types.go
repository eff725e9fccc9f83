package api

import (
	"time"

	"options-engine/internal/portfolio"
	"options-engine/internal/strategy"
	"options-engine/pkg/types"
)

// Runtime is the read-only slice of the engine the status API exposes.
type Runtime interface {
	Connected() bool
	Statuses() []strategy.Status
	Holdings() map[string]*types.Holding
	Accounts() []types.Account
	Portfolios() []*portfolio.Portfolio
	Orders() []*types.Order
	Trades() []*types.Trade
	OrderHistory() ([]types.Order, error)
	TradeHistory() ([]types.Trade, error)
}

// Snapshot is the complete runtime state returned by /api/snapshot.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Connected bool      `json:"connected"`

	Strategies []strategy.Status         `json:"strategies"`
	Holdings   map[string]*types.Holding `json:"holdings"`
	Accounts   []types.Account           `json:"accounts"`
	Portfolios []PortfolioStatus         `json:"portfolios"`
}

// PortfolioStatus summarizes one tracked underlying and its chains.
type PortfolioStatus struct {
	Name          string        `json:"name"`
	UnderlyingMid float64       `json:"underlying_mid"`
	OptionCount   int           `json:"option_count"`
	Chains        []ChainStatus `json:"chains"`
}

// ChainStatus summarizes one expiry within a portfolio.
type ChainStatus struct {
	Symbol       string  `json:"symbol"`
	DaysToExpiry int     `json:"days_to_expiry"`
	ATMIndex     string  `json:"atm_index"`
	ATMPrice     float64 `json:"atm_price"`
	Strikes      int     `json:"strikes"`
}

// BuildSnapshot assembles the full state from the runtime.
func BuildSnapshot(rt Runtime) Snapshot {
	snap := Snapshot{
		Timestamp:  time.Now(),
		Connected:  rt.Connected(),
		Strategies: rt.Statuses(),
		Holdings:   rt.Holdings(),
		Accounts:   rt.Accounts(),
	}

	for _, p := range rt.Portfolios() {
		ps := PortfolioStatus{
			Name:        p.Name,
			OptionCount: len(p.Options),
		}
		if p.Underlying != nil {
			ps.UnderlyingMid = p.Underlying.Mid
		}
		for _, c := range p.Chains {
			ps.Chains = append(ps.Chains, ChainStatus{
				Symbol:       c.Symbol,
				DaysToExpiry: c.DaysToExpiry,
				ATMIndex:     c.ATMIndex,
				ATMPrice:     c.ATMPrice,
				Strikes:      len(c.Indexes),
			})
		}
		snap.Portfolios = append(snap.Portfolios, ps)
	}
	return snap
}

// Package portfolio maintains the market snapshot layer: contract
// definitions grouped into per-underlying portfolios, option chains keyed
// by expiry, and the latest quotes and greeks for every instrument.
//
// The store is the single writer for market data. Chain refreshes and
// underlying ticks are injected by the market-data engine; strategies and
// the position engine read snapshots through the Store's query methods.
package portfolio

import (
	"sort"
	"strconv"
	"time"

	"options-engine/pkg/types"
)

// Underlying is the live state of an equity or index instrument.
type Underlying struct {
	Symbol   string
	Exchange types.Exchange
	Contract *types.Contract

	Mid float64

	// TheoDelta is the delta contributed per unit of underlying,
	// equal to the contract size.
	TheoDelta float64
}

// Option is the live state of one option contract within a chain.
// Greeks are size-scaled: the raw per-share greek times contract size.
type Option struct {
	Symbol     string
	Contract   *types.Contract
	Strike     float64
	Right      types.OptionType
	Size       float64
	Expiry     time.Time
	ChainIndex string

	Bid   float64
	Ask   float64
	Mid   float64
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	MidIV float64
}

// Chain groups the calls and puts of one underlying and expiry.
type Chain struct {
	Symbol string // "{root}_{yyyymmdd}"
	Expiry time.Time

	Calls map[string]*Option
	Puts  map[string]*Option

	// Indexes holds the chain's strike keys sorted numerically.
	Indexes []string

	ATMPrice float64
	ATMIndex string

	DaysToExpiry int
	TimeToExpiry float64

	underlying *Underlying
}

func newChain(symbol string, expiry time.Time, u *Underlying) *Chain {
	return &Chain{
		Symbol: symbol,
		Expiry: expiry,
		Calls:  make(map[string]*Option),
		Puts:   make(map[string]*Option),

		underlying: u,
	}
}

func (c *Chain) addOption(o *Option) {
	switch o.Right {
	case types.OptionPut:
		c.Puts[o.ChainIndex] = o
	default:
		c.Calls[o.ChainIndex] = o
	}
	if _, seen := c.indexSet()[o.ChainIndex]; !seen {
		c.Indexes = append(c.Indexes, o.ChainIndex)
		sortIndexes(c.Indexes)
	}
}

func (c *Chain) indexSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Indexes))
	for _, ix := range c.Indexes {
		set[ix] = struct{}{}
	}
	return set
}

// sortIndexes orders strike keys numerically, falling back to string
// order for any key that fails to parse.
func sortIndexes(ixs []string) {
	sort.Slice(ixs, func(i, j int) bool {
		a, errA := strconv.ParseFloat(ixs[i], 64)
		b, errB := strconv.ParseFloat(ixs[j], 64)
		if errA != nil || errB != nil {
			return ixs[i] < ixs[j]
		}
		return a < b
	})
}

// calcATM picks the strike closest to the underlying mid. Without an
// underlying price the median strike stands in.
func (c *Chain) calcATM() {
	if len(c.Indexes) == 0 {
		return
	}
	if c.underlying == nil || c.underlying.Mid == 0 {
		mid := c.Indexes[len(c.Indexes)/2]
		c.ATMIndex = mid
		c.ATMPrice, _ = strconv.ParseFloat(mid, 64)
		return
	}
	ref := c.underlying.Mid
	best := ""
	bestDist := 0.0
	for _, ix := range c.Indexes {
		strike, err := strconv.ParseFloat(ix, 64)
		if err != nil {
			continue
		}
		dist := strike - ref
		if dist < 0 {
			dist = -dist
		}
		if best == "" || dist < bestDist {
			best, bestDist = ix, dist
		}
	}
	if best != "" {
		c.ATMIndex = best
		c.ATMPrice, _ = strconv.ParseFloat(best, 64)
	}
}

// refreshExpiry recomputes the trading-day countdown.
func (c *Chain) refreshExpiry(now time.Time) {
	c.DaysToExpiry = TradingDaysUntil(now, c.Expiry)
	c.TimeToExpiry = float64(c.DaysToExpiry) / AnnualDays
}

// ATMIV returns the implied vol at the money, preferring the call side.
func (c *Chain) ATMIV() float64 {
	if c.ATMIndex == "" {
		return 0
	}
	if call, ok := c.Calls[c.ATMIndex]; ok && call.MidIV > 0 {
		return call.MidIV
	}
	if put, ok := c.Puts[c.ATMIndex]; ok {
		return put.MidIV
	}
	return 0
}

// Skew returns the ratio of OTM call to OTM put implied vol at the given
// absolute delta (in percent, e.g. 25). Zero when either side is missing.
func (c *Chain) Skew(targetDelta float64) float64 {
	target := targetDelta / 100

	pick := func(opts map[string]*Option, want float64) *Option {
		var best *Option
		bestDist := 0.0
		for _, o := range opts {
			if o.Size == 0 || o.MidIV <= 0 {
				continue
			}
			norm := o.Delta / o.Size
			if norm < 0 {
				norm = -norm
			}
			// OTM only
			if norm > 0.5 {
				continue
			}
			dist := norm - want
			if dist < 0 {
				dist = -dist
			}
			if best == nil || dist < bestDist {
				best, bestDist = o, dist
			}
		}
		return best
	}

	call := pick(c.Calls, target)
	put := pick(c.Puts, target)
	if call == nil || put == nil || put.MidIV == 0 {
		return 0
	}
	return types.Round4(call.MidIV / put.MidIV)
}

// Portfolio groups one underlying with all of its option chains.
type Portfolio struct {
	Name       string // underlying root
	Underlying *Underlying
	Chains     map[string]*Chain
	Options    map[string]*Option
}

func newPortfolio(name string) *Portfolio {
	return &Portfolio{
		Name:    name,
		Chains:  make(map[string]*Chain),
		Options: make(map[string]*Option),
	}
}

// ChainsByExpiry returns the chains whose trading-day countdown falls
// within [minDTE, maxDTE], ordered by expiry.
func (p *Portfolio) ChainsByExpiry(minDTE, maxDTE int) []*Chain {
	var out []*Chain
	for _, c := range p.Chains {
		if c.DaysToExpiry >= minDTE && c.DaysToExpiry <= maxDTE {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expiry.Before(out[j].Expiry) })
	return out
}

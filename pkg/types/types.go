// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading runtime — contracts,
// orders, trades, position holdings, and market-data snapshots. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Direction represents the side of an order, trade, or position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionNet   Direction = "NET"
)

// Status enumerates the order lifecycle states.
type Status string

const (
	StatusSubmitting Status = "SUBMITTING"
	StatusNotTraded  Status = "NOTTRADED"
	StatusPartTraded Status = "PARTTRADED"
	StatusAllTraded  Status = "ALLTRADED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

// IsActive reports whether an order in this status can still fill.
func (s Status) IsActive() bool {
	switch s {
	case StatusSubmitting, StatusNotTraded, StatusPartTraded:
		return true
	}
	return false
}

// Product classifies a tradeable instrument.
type Product string

const (
	ProductEquity  Product = "EQUITY"
	ProductIndex   Product = "INDEX"
	ProductOption  Product = "OPTION"
	ProductFutures Product = "FUTURES"
	ProductUnknown Product = "UNKNOWN"
)

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OptionType is CALL or PUT.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Sign returns +1 for calls and -1 for puts.
func (o OptionType) Sign() int {
	if o == OptionPut {
		return -1
	}
	return 1
}

// Exchange identifies a trading venue (or smart routing).
type Exchange string

const (
	ExchangeSmart  Exchange = "SMART"
	ExchangeNYSE   Exchange = "NYSE"
	ExchangeNasdaq Exchange = "NASDAQ"
	ExchangeAMEX   Exchange = "AMEX"
	ExchangeCBOE   Exchange = "CBOE"
	ExchangeLocal  Exchange = "LOCAL"
)

// ComboType enumerates the named multi-leg option shapes.
type ComboType string

const (
	ComboCustom ComboType = "custom"

	// 2-leg shapes
	ComboSpread         ComboType = "spread"
	ComboStraddle       ComboType = "straddle"
	ComboStrangle       ComboType = "strangle"
	ComboDiagonalSpread ComboType = "diagonal_spread"
	ComboRatioSpread    ComboType = "ratio_spread"
	ComboRiskReversal   ComboType = "risk_reversal"

	// 3-leg shapes
	ComboButterfly        ComboType = "butterfly"
	ComboInverseButterfly ComboType = "inverse_butterfly"

	// 4-leg shapes
	ComboIronCondor    ComboType = "ironcondor"
	ComboIronButterfly ComboType = "iron_butterfly"
	ComboCondor        ComboType = "condor"
	ComboBoxSpread     ComboType = "box_spread"
)

// ————————————————————————————————————————————————————————————————————————
// Contracts
// ————————————————————————————————————————————————————————————————————————

// Contract holds the static definition of a tradeable instrument.
// Contracts are immutable after creation and keyed uniquely by Symbol.
type Contract struct {
	Symbol    string   `json:"symbol"`
	Exchange  Exchange `json:"exchange"`
	Name      string   `json:"name"`
	Product   Product  `json:"product"`
	Size      float64  `json:"size"`       // contract multiplier (100 for equity options)
	PriceTick float64  `json:"price_tick"` // minimum price increment
	MinVolume float64  `json:"min_volume"`
	MaxVolume float64  `json:"max_volume,omitempty"`

	NetPosition   bool   `json:"net_position"`
	HistoryData   bool   `json:"history_data"`
	StopSupported bool   `json:"stop_supported"`
	GatewayName   string `json:"gateway_name"`
	ConID         int64  `json:"con_id"`
	TradingClass  string `json:"trading_class,omitempty"`

	// Option-only fields (zero values for equity/index contracts)
	OptionStrike     float64    `json:"option_strike,omitempty"`
	OptionType       OptionType `json:"option_type,omitempty"`
	OptionExpiry     time.Time  `json:"option_expiry,omitzero"`
	OptionPortfolio  string     `json:"option_portfolio,omitempty"`
	OptionIndex      string     `json:"option_index,omitempty"`
	OptionUnderlying string     `json:"option_underlying,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders and trades
// ————————————————————————————————————————————————————————————————————————

// Leg is one component of a multi-leg combo order. Ratio carries the leg
// quantity per combo unit; Direction carries the leg side, independent of
// the combo's overall intent direction.
type Leg struct {
	ConID        int64     `json:"con_id"`
	Symbol       string    `json:"symbol"`
	Exchange     Exchange  `json:"exchange"`
	Ratio        int       `json:"ratio"`
	Direction    Direction `json:"direction"`
	Price        float64   `json:"price,omitempty"`
	TradingClass string    `json:"trading_class,omitempty"`
}

// Order tracks the latest known state of one order.
type Order struct {
	Symbol       string    `json:"symbol"`
	Exchange     Exchange  `json:"exchange"`
	OrderID      string    `json:"orderid"`
	TradingClass string    `json:"trading_class,omitempty"`
	Type         OrderType `json:"type"`
	Direction    Direction `json:"direction"`
	Price        float64   `json:"price"`
	Volume       float64   `json:"volume"`
	Traded       float64   `json:"traded"`
	Status       Status    `json:"status"`
	Time         time.Time `json:"time,omitzero"`
	Reference    string    `json:"reference"`

	IsCombo   bool      `json:"is_combo"`
	Legs      []Leg     `json:"legs,omitempty"`
	ComboType ComboType `json:"combo_type,omitempty"`
}

// IsActive reports whether the order can still fill.
func (o *Order) IsActive() bool { return o.Status.IsActive() }

// CancelRequest returns the matching cancel request for this order.
func (o *Order) CancelRequest() CancelRequest {
	return CancelRequest{
		OrderID:  o.OrderID,
		Symbol:   o.Symbol,
		Exchange: o.Exchange,
		IsCombo:  o.IsCombo,
		Legs:     o.Legs,
	}
}

// Trade is a single fill of an order. One order can fill across several trades.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Exchange  Exchange  `json:"exchange"`
	OrderID   string    `json:"orderid"`
	TradeID   string    `json:"tradeid"`
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Time      time.Time `json:"time,omitzero"`
}

// OrderRequest describes a new order to be sent to the gateway.
type OrderRequest struct {
	Symbol       string
	Exchange     Exchange
	Direction    Direction
	Type         OrderType
	Volume       float64
	Price        float64
	Reference    string
	TradingClass string

	IsCombo   bool
	Legs      []Leg
	ComboType ComboType
}

// NewOrder builds the local order record for this request in SUBMITTING state.
func (r *OrderRequest) NewOrder(orderID string) Order {
	return Order{
		Symbol:       r.Symbol,
		Exchange:     r.Exchange,
		OrderID:      orderID,
		TradingClass: r.TradingClass,
		Type:         r.Type,
		Direction:    r.Direction,
		Price:        r.Price,
		Volume:       r.Volume,
		Status:       StatusSubmitting,
		Reference:    r.Reference,
		IsCombo:      r.IsCombo,
		Legs:         r.Legs,
		ComboType:    r.ComboType,
	}
}

// CancelRequest asks the gateway to cancel an existing order.
type CancelRequest struct {
	OrderID  string
	Symbol   string
	Exchange Exchange
	IsCombo  bool
	Legs     []Leg
}

// ————————————————————————————————————————————————————————————————————————
// Account and broker positions
// ————————————————————————————————————————————————————————————————————————

// Account carries a broker account summary snapshot.
type Account struct {
	AccountID      string  `json:"accountid"`
	Balance        float64 `json:"balance"`
	AvailableFunds float64 `json:"available_funds"`
	Margin         float64 `json:"margin"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
}

// BrokerPosition is a position line reported by the broker, independent of
// any per-strategy holding the runtime maintains itself.
type BrokerPosition struct {
	Symbol    string    `json:"symbol"`
	Exchange  Exchange  `json:"exchange"`
	Direction Direction `json:"direction"`
	Volume    float64   `json:"volume"`
	Price     float64   `json:"price"`
	PnL       float64   `json:"pnl"`
}

// ID returns the unique key for caching broker positions.
func (p *BrokerPosition) ID() string {
	return p.Symbol + "." + string(p.Direction)
}

// ————————————————————————————————————————————————————————————————————————
// Market data snapshots
// ————————————————————————————————————————————————————————————————————————

// Tick is an underlying quote update.
type Tick struct {
	Symbol   string    `json:"symbol"`
	Exchange Exchange  `json:"exchange"`
	Time     time.Time `json:"time"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	Last     float64   `json:"last"`
}

// OptionQuote is one option's market data within a chain refresh,
// greeks as delivered by the vendor (per-share, not size-scaled).
type OptionQuote struct {
	Symbol       string  `json:"symbol"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Last         float64 `json:"last"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
	Delta        float64 `json:"delta"`
	Gamma        float64 `json:"gamma"`
	Theta        float64 `json:"theta"`
	Vega         float64 `json:"vega"`
	MidIV        float64 `json:"mid_iv"`
}

// ChainQuote is a full option-chain refresh handed to the portfolio store.
type ChainQuote struct {
	ChainSymbol      string        `json:"chain_symbol"`
	Time             time.Time     `json:"time"`
	UnderlyingSymbol string        `json:"underlying_symbol"`
	UnderlyingLast   float64       `json:"underlying_last"`
	Options          []OptionQuote `json:"options"`
}

// ————————————————————————————————————————————————————————————————————————
// Strategy holdings
// ————————————————————————————————————————————————————————————————————————

// ComboMultiplier is the contract multiplier applied to combo cost values.
const ComboMultiplier = 100.0

// Position is the per-symbol accounting state inside a strategy holding.
// Quantity is signed: positive long, negative short. Greeks are copies of
// the latest size-scaled snapshot values, refreshed on each timer tick.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    int     `json:"quantity"`
	AvgCost     float64 `json:"avg_cost"`
	CostValue   float64 `json:"cost_value"`
	RealizedPnL float64 `json:"realized_pnl"`
	MidPrice    float64 `json:"mid_price"`
	Delta       float64 `json:"delta"`
	Gamma       float64 `json:"gamma"`
	Theta       float64 `json:"theta"`
	Vega        float64 `json:"vega"`
	Multiplier  float64 `json:"multiplier"`
}

// CurrentValue is quantity × mid × multiplier.
func (p *Position) CurrentValue() float64 {
	return float64(p.Quantity) * p.MidPrice * p.Multiplier
}

// ClearIfFlat zeroes everything but realized P&L once the position is flat.
func (p *Position) ClearIfFlat() {
	if p.Quantity != 0 {
		return
	}
	p.AvgCost = 0
	p.CostValue = 0
	p.MidPrice = 0
	p.Delta = 0
	p.Gamma = 0
	p.Theta = 0
	p.Vega = 0
}

// NewOptionPosition returns an empty option position at the standard multiplier.
func NewOptionPosition(symbol string) *Position {
	return &Position{Symbol: symbol, Multiplier: ComboMultiplier}
}

// NewUnderlyingPosition returns an empty underlying position. The underlying
// contributes delta equal to its quantity, so its unit delta is 1.
func NewUnderlyingPosition() *Position {
	return &Position{Symbol: "Underlying", Multiplier: 1, Delta: 1}
}

// ComboPosition aggregates a multi-leg position. The combo itself accumulates
// only quantity and cost value from combo-symbol fills; its legs carry the
// full per-leg accounting.
type ComboPosition struct {
	Position
	ComboType ComboType   `json:"combo_type"`
	Legs      []*Position `json:"legs"`
}

// ClearIfFlat clears the combo and all of its legs.
func (c *ComboPosition) ClearIfFlat() {
	c.Position.ClearIfFlat()
	for _, leg := range c.Legs {
		leg.ClearIfFlat()
	}
}

// NewComboPosition returns an empty combo position.
func NewComboPosition(symbol string, comboType ComboType) *ComboPosition {
	return &ComboPosition{
		Position:  Position{Symbol: symbol, Multiplier: ComboMultiplier},
		ComboType: comboType,
	}
}

// Summary is the aggregated risk and P&L roll-up across one strategy holding.
type Summary struct {
	TotalCost     float64 `json:"total_cost"`
	CurrentValue  float64 `json:"current_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	PnL           float64 `json:"pnl"`
	Delta         float64 `json:"delta"`
	Gamma         float64 `json:"gamma"`
	Theta         float64 `json:"theta"`
	Vega          float64 `json:"vega"`
}

// Holding is the per-strategy aggregation of positions. Pure data; all
// mutation goes through the position engine.
type Holding struct {
	Underlying *Position                 `json:"underlying"`
	Options    map[string]*Position      `json:"options"`
	Combos     map[string]*ComboPosition `json:"combos"`
	Summary    Summary                   `json:"summary"`
}

// NewHolding returns an empty holding.
func NewHolding() *Holding {
	return &Holding{
		Underlying: NewUnderlyingPosition(),
		Options:    make(map[string]*Position),
		Combos:     make(map[string]*ComboPosition),
	}
}

package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"options-engine/pkg/types"
)

// frame is the envelope for every message crossing the bridge socket.
// The type field is peeked first, then the payload decoded accordingly.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func newFrame(msgType string, payload any) (frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return frame{}, err
	}
	return frame{Type: msgType, Data: raw}, nil
}

// Outbound frame types.
const (
	msgConnect         = "connect"
	msgPlaceOrder      = "place_order"
	msgCancelOrder     = "cancel_order"
	msgReqPositions    = "req_positions"
	msgReqAccount      = "req_account_summary"
	msgReqContractData = "req_contract_details"
)

// Inbound frame types.
const (
	msgNextValidID        = "next_valid_id"
	msgOrderStatus        = "order_status"
	msgOpenOrder          = "open_order"
	msgExecDetails        = "exec_details"
	msgPosition           = "position"
	msgAccountSummary     = "account_summary"
	msgContractDetails    = "contract_details"
	msgContractDetailsEnd = "contract_details_end"
	msgError              = "error"
)

// wireContract is the bridge's description of an instrument, mirroring
// the broker's contract fields.
type wireContract struct {
	ConID        int64   `json:"con_id"`
	Symbol       string  `json:"symbol"` // root, e.g. "SPY"
	SecType      string  `json:"sec_type"`
	Expiry       string  `json:"expiry,omitempty"` // yyyymmdd
	Right        string  `json:"right,omitempty"`  // "C" / "P"
	Strike       float64 `json:"strike,omitempty"`
	Multiplier   string  `json:"multiplier,omitempty"`
	Currency     string  `json:"currency"`
	Exchange     string  `json:"exchange"`
	TradingClass string  `json:"trading_class,omitempty"`
}

// formattedSymbol renders the bridge contract in the runtime's symbol
// scheme, joining the populated fields in canonical order.
func (c wireContract) formattedSymbol() string {
	parts := []string{c.Symbol}
	if c.Expiry != "" {
		parts = append(parts, c.Expiry)
	}
	if c.Right != "" {
		parts = append(parts, c.Right)
	}
	if c.Strike != 0 {
		parts = append(parts, types.FormatStrike(c.Strike))
	}
	if c.Multiplier != "" {
		parts = append(parts, c.Multiplier)
	}
	parts = append(parts, c.Currency, c.SecType)
	return strings.Join(parts, types.JoinSymbol)
}

type connectMsg struct {
	ClientID int    `json:"client_id"`
	Account  string `json:"account"`
}

type wireLeg struct {
	ConID    int64  `json:"con_id"`
	Ratio    int    `json:"ratio"`
	Action   string `json:"action"` // "BUY" / "SELL"
	Exchange string `json:"exchange"`
}

type placeOrderMsg struct {
	OrderID      string       `json:"order_id"`
	Contract     wireContract `json:"contract"`
	Action       string       `json:"action"`
	OrderType    string       `json:"order_type"` // "LMT" / "MKT"
	Quantity     float64      `json:"quantity"`
	LimitPrice   float64      `json:"limit_price,omitempty"`
	ComboLegs    []wireLeg    `json:"combo_legs,omitempty"`
	TradingClass string       `json:"trading_class,omitempty"`
}

type cancelOrderMsg struct {
	OrderID string `json:"order_id"`
}

type reqAccountMsg struct {
	Tags string `json:"tags"`
}

type reqContractDetailsMsg struct {
	ReqID    int          `json:"req_id"`
	Contract wireContract `json:"contract"`
}

type nextValidIDMsg struct {
	OrderID int64 `json:"order_id"`
}

type orderStatusMsg struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	Filled    float64 `json:"filled"`
	Remaining float64 `json:"remaining"`
	AvgPrice  float64 `json:"avg_fill_price"`
}

type openOrderMsg struct {
	OrderID    string       `json:"order_id"`
	Contract   wireContract `json:"contract"`
	Action     string       `json:"action"`
	OrderType  string       `json:"order_type"`
	Quantity   float64      `json:"quantity"`
	LimitPrice float64      `json:"limit_price"`
	Status     string       `json:"status"`
}

type execDetailsMsg struct {
	ExecID   string       `json:"exec_id"`
	OrderID  string       `json:"order_id"`
	Contract wireContract `json:"contract"`
	Side     string       `json:"side"` // "BOT" / "SLD"
	Shares   float64      `json:"shares"`
	Price    float64      `json:"price"`
	Time     string       `json:"time"` // "yyyymmdd hh:mm:ss" with optional zone
}

type positionMsg struct {
	Account  string       `json:"account"`
	Contract wireContract `json:"contract"`
	Position float64      `json:"position"`
	AvgCost  float64      `json:"avg_cost"`
}

type accountSummaryMsg struct {
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type contractDetailsMsg struct {
	ReqID      int          `json:"req_id"`
	Contract   wireContract `json:"contract"`
	LongName   string       `json:"long_name"`
	MinTick    float64      `json:"min_tick"`
	UnderConID int64        `json:"under_con_id,omitempty"`
}

type errorMsg struct {
	ReqID   int    `json:"req_id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusFromBridge maps the broker's order states onto the runtime's.
var statusFromBridge = map[string]types.Status{
	"ApiPending":      types.StatusSubmitting,
	"PendingSubmit":   types.StatusSubmitting,
	"PreSubmitted":    types.StatusSubmitting,
	"PendingCancel":   types.StatusSubmitting,
	"Submitted":       types.StatusNotTraded,
	"PartiallyFilled": types.StatusPartTraded,
	"Filled":          types.StatusAllTraded,
	"Cancelled":       types.StatusCancelled,
	"ApiCancelled":    types.StatusCancelled,
	"Inactive":        types.StatusRejected,
}

// directionFromSide maps execution sides to directions.
var directionFromSide = map[string]types.Direction{
	"BOT": types.DirectionLong,
	"SLD": types.DirectionShort,
}

func actionFromDirection(d types.Direction) string {
	if d == types.DirectionShort {
		return "SELL"
	}
	return "BUY"
}

const execTimeLayout = "20060102 15:04:05"

// parseExecTime handles "yyyymmdd hh:mm:ss" with an optional trailing zone
// name. Times without a zone are taken as local; zoned times are converted
// to local.
func parseExecTime(s string) (time.Time, error) {
	fields := strings.Fields(s)
	if len(fields) >= 3 {
		loc, err := time.LoadLocation(fields[2])
		if err != nil {
			return time.Time{}, err
		}
		t, err := time.ParseInLocation(execTimeLayout, fields[0]+" "+fields[1], loc)
		if err != nil {
			return time.Time{}, err
		}
		return t.Local(), nil
	}
	return time.ParseInLocation(execTimeLayout, s, time.Local)
}

// wireContractFor converts a runtime symbol back into bridge contract
// fields for outbound requests.
func wireContractFor(symbol string, exchange types.Exchange) (wireContract, error) {
	info, err := types.ParseSymbol(symbol)
	if err != nil {
		return wireContract{}, err
	}
	c := wireContract{
		Symbol:   info.Root,
		SecType:  info.SecType,
		Currency: info.Currency,
		Exchange: string(exchange),
	}
	if info.IsOption() {
		c.Expiry = info.Expiry.Format("20060102")
		if info.OptionType == types.OptionPut {
			c.Right = "P"
		} else {
			c.Right = "C"
		}
		c.Strike = info.Strike
		c.Multiplier = strconv.Itoa(int(info.Size))
	}
	return c, nil
}

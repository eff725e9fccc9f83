package types

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrSymbolParse reports a symbol that does not match any known layout.
var ErrSymbolParse = errors.New("symbol parse")

// JoinSymbol separates the fields of an instrument symbol.
const JoinSymbol = "-"

const expiryLayout = "20060102"

// UnderlyingSymbol formats an equity or index symbol, e.g. "SPY-USD-STK".
func UnderlyingSymbol(root, currency string, product Product) string {
	secType := "STK"
	if product == ProductIndex {
		secType = "IND"
	}
	return strings.Join([]string{root, currency, secType}, JoinSymbol)
}

// OptionSymbol formats a full option symbol, e.g.
// "SPY-20260116-C-470.0-100-USD-OPT".
func OptionSymbol(root string, expiry time.Time, optType OptionType, strike, size float64, currency string) string {
	right := "C"
	if optType == OptionPut {
		right = "P"
	}
	return strings.Join([]string{
		root,
		expiry.Format(expiryLayout),
		right,
		FormatStrike(strike),
		strconv.Itoa(int(size)),
		currency,
		"OPT",
	}, JoinSymbol)
}

// FormatStrike renders a strike with a minimal decimal tail, keeping at
// least one decimal place so 470 becomes "470.0" and 472.5 stays "472.5".
func FormatStrike(strike float64) string {
	s := strconv.FormatFloat(strike, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// SymbolInfo is the decomposition of a single-instrument symbol.
type SymbolInfo struct {
	Root     string
	Currency string
	SecType  string

	// Option-only fields
	Expiry     time.Time
	OptionType OptionType
	Strike     float64
	Size       float64
}

// IsOption reports whether the symbol names an option contract.
func (i SymbolInfo) IsOption() bool { return i.SecType == "OPT" }

// ParseSymbol decomposes an instrument symbol. Underlyings have three
// fields, options seven.
func ParseSymbol(symbol string) (SymbolInfo, error) {
	parts := strings.Split(symbol, JoinSymbol)
	switch len(parts) {
	case 3:
		return SymbolInfo{Root: parts[0], Currency: parts[1], SecType: parts[2]}, nil
	case 7:
		expiry, err := time.ParseInLocation(expiryLayout, parts[1], time.Local)
		if err != nil {
			return SymbolInfo{}, fmt.Errorf("%w: %q: bad expiry %q", ErrSymbolParse, symbol, parts[1])
		}
		var optType OptionType
		switch parts[2] {
		case "C":
			optType = OptionCall
		case "P":
			optType = OptionPut
		default:
			return SymbolInfo{}, fmt.Errorf("%w: %q: bad right %q", ErrSymbolParse, symbol, parts[2])
		}
		strike, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return SymbolInfo{}, fmt.Errorf("%w: %q: bad strike %q", ErrSymbolParse, symbol, parts[3])
		}
		size, err := strconv.ParseFloat(parts[4], 64)
		if err != nil {
			return SymbolInfo{}, fmt.Errorf("%w: %q: bad size %q", ErrSymbolParse, symbol, parts[4])
		}
		return SymbolInfo{
			Root:       parts[0],
			Expiry:     expiry,
			OptionType: optType,
			Strike:     strike,
			Size:       size,
			Currency:   parts[5],
			SecType:    parts[6],
		}, nil
	default:
		return SymbolInfo{}, fmt.Errorf("%w: %q: want 3 or 7 fields, got %d", ErrSymbolParse, symbol, len(parts))
	}
}

// SymbolRoot returns the first field of any symbol without full parsing.
func SymbolRoot(symbol string) string {
	if i := strings.Index(symbol, JoinSymbol); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// IsUnderlyingSymbol reports whether the symbol names an equity or index.
func IsUnderlyingSymbol(symbol string) bool {
	return strings.HasSuffix(symbol, JoinSymbol+"STK") || strings.HasSuffix(symbol, JoinSymbol+"IND")
}

// ChainSymbol returns the chain key an option symbol belongs to,
// "{root}_{yyyymmdd}".
func ChainSymbol(optionSymbol string) (string, error) {
	parts := strings.Split(optionSymbol, JoinSymbol)
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q: no expiry field", ErrSymbolParse, optionSymbol)
	}
	return parts[0] + "_" + parts[1], nil
}

// ComboSignature derives the order-independent identity of a set of legs.
// Each leg contributes its expiry, right, and strike fields concatenated;
// the fragments are sorted and joined with the symbol separator.
func ComboSignature(legSymbols []string) string {
	frags := make([]string, 0, len(legSymbols))
	for _, sym := range legSymbols {
		parts := strings.Split(sym, JoinSymbol)
		if len(parts) >= 4 {
			frags = append(frags, parts[1]+parts[2]+parts[3])
		}
	}
	sort.Strings(frags)
	return strings.Join(frags, JoinSymbol)
}

// ComboSymbol formats a combo position symbol, "{root}_{type}_{signature}".
func ComboSymbol(root string, comboType ComboType, signature string) string {
	return root + "_" + string(comboType) + "_" + signature
}

// NormalizeComboSymbol strips the combo-type segment so that combos with
// identical legs compare equal regardless of their type tag. Symbols with
// fewer than three underscore-separated segments pass through unchanged.
func NormalizeComboSymbol(symbol string) string {
	parts := strings.SplitN(symbol, "_", 3)
	if len(parts) < 3 {
		return symbol
	}
	return parts[0] + "_" + parts[2]
}

// IsComboSymbol reports whether the symbol names a combo position.
func IsComboSymbol(symbol string) bool {
	return strings.Contains(symbol, "_")
}

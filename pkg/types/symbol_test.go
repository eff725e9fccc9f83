package types

import (
	"errors"
	"testing"
	"time"
)

func TestParseSymbolUnderlying(t *testing.T) {
	t.Parallel()

	info, err := ParseSymbol("SPY-USD-STK")
	if err != nil {
		t.Fatalf("ParseSymbol: %v", err)
	}
	if info.Root != "SPY" || info.Currency != "USD" || info.SecType != "STK" {
		t.Errorf("got %+v", info)
	}
	if info.IsOption() {
		t.Error("underlying parsed as option")
	}
}

func TestParseSymbolOption(t *testing.T) {
	t.Parallel()

	info, err := ParseSymbol("SPY-20260116-C-470.0-100-USD-OPT")
	if err != nil {
		t.Fatalf("ParseSymbol: %v", err)
	}
	if info.Root != "SPY" {
		t.Errorf("root = %q", info.Root)
	}
	if want := time.Date(2026, 1, 16, 0, 0, 0, 0, time.Local); !info.Expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", info.Expiry, want)
	}
	if info.OptionType != OptionCall || info.Strike != 470 || info.Size != 100 {
		t.Errorf("got %+v", info)
	}
	if !info.IsOption() {
		t.Error("option not recognized")
	}
}

func TestParseSymbolErrors(t *testing.T) {
	t.Parallel()

	for _, sym := range []string{
		"",
		"SPY",
		"SPY-USD",
		"SPY-notadate-C-470.0-100-USD-OPT",
		"SPY-20260116-X-470.0-100-USD-OPT",
		"SPY-20260116-C-oops-100-USD-OPT",
	} {
		if _, err := ParseSymbol(sym); !errors.Is(err, ErrSymbolParse) {
			t.Errorf("ParseSymbol(%q) err = %v, want ErrSymbolParse", sym, err)
		}
	}
}

func TestOptionSymbolRoundTrip(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2026, 3, 20, 0, 0, 0, 0, time.Local)
	sym := OptionSymbol("SPX", expiry, OptionPut, 4725.5, 100, "USD")
	if want := "SPX-20260320-P-4725.5-100-USD-OPT"; sym != want {
		t.Fatalf("OptionSymbol = %q, want %q", sym, want)
	}

	info, err := ParseSymbol(sym)
	if err != nil {
		t.Fatalf("ParseSymbol: %v", err)
	}
	if info.OptionType != OptionPut || info.Strike != 4725.5 || !info.Expiry.Equal(expiry) {
		t.Errorf("round trip lost fields: %+v", info)
	}
}

func TestFormatStrike(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   float64
		want string
	}{
		{470, "470.0"},
		{472.5, "472.5"},
		{0.5, "0.5"},
		{5000, "5000.0"},
	}
	for _, c := range cases {
		if got := FormatStrike(c.in); got != c.want {
			t.Errorf("FormatStrike(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestChainSymbol(t *testing.T) {
	t.Parallel()

	got, err := ChainSymbol("SPY-20260116-C-470.0-100-USD-OPT")
	if err != nil {
		t.Fatalf("ChainSymbol: %v", err)
	}
	if want := "SPY_20260116"; got != want {
		t.Errorf("ChainSymbol = %q, want %q", got, want)
	}
}

func TestComboSignatureOrderIndependent(t *testing.T) {
	t.Parallel()

	legsA := []string{
		"SPY-20260116-C-470.0-100-USD-OPT",
		"SPY-20260116-P-470.0-100-USD-OPT",
	}
	legsB := []string{legsA[1], legsA[0]}

	sigA := ComboSignature(legsA)
	sigB := ComboSignature(legsB)
	if sigA != sigB {
		t.Errorf("signature depends on leg order: %q vs %q", sigA, sigB)
	}
	if want := "20260116C470.0-20260116P470.0"; sigA != want {
		t.Errorf("signature = %q, want %q", sigA, want)
	}
}

func TestComboSymbolAndNormalize(t *testing.T) {
	t.Parallel()

	sig := ComboSignature([]string{
		"SPY-20260116-C-470.0-100-USD-OPT",
		"SPY-20260116-P-470.0-100-USD-OPT",
	})
	sym := ComboSymbol("SPY", ComboStraddle, sig)
	custom := ComboSymbol("SPY", ComboCustom, sig)

	if NormalizeComboSymbol(sym) != NormalizeComboSymbol(custom) {
		t.Errorf("normalized forms differ: %q vs %q",
			NormalizeComboSymbol(sym), NormalizeComboSymbol(custom))
	}
	if got, want := NormalizeComboSymbol(sym), "SPY_"+sig; got != want {
		t.Errorf("NormalizeComboSymbol = %q, want %q", got, want)
	}
	if NormalizeComboSymbol("SPY-USD-STK") != "SPY-USD-STK" {
		t.Error("non-combo symbol changed by normalization")
	}
}

func TestIsUnderlyingSymbol(t *testing.T) {
	t.Parallel()

	if !IsUnderlyingSymbol("SPY-USD-STK") {
		t.Error("STK not recognized")
	}
	if !IsUnderlyingSymbol("SPX-USD-IND") {
		t.Error("IND not recognized")
	}
	if IsUnderlyingSymbol("SPY-20260116-C-470.0-100-USD-OPT") {
		t.Error("option misclassified as underlying")
	}
}

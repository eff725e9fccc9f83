package strategy

import (
	"fmt"
	"sort"
	"time"

	"options-engine/internal/hedge"
	"options-engine/pkg/types"
)

func init() {
	RegisterClass("ShortStraddle", NewShortStraddle)
}

// ShortStraddle sells the at-the-money straddle on the nearest subscribed
// expiry and keeps the book delta-neutral through the hedging controller.
// It exits by flattening everything once the chain gets close to expiry.
type ShortStraddle struct {
	*BaseStrategy

	Volume      int
	DeltaTarget float64
	DeltaRange  float64
	ExitDTE     int

	chainSymbol string
	entered     bool
}

// NewShortStraddle is the registry factory.
func NewShortStraddle(m *Manager, name, portfolioName string, setting map[string]any) (Strategy, error) {
	s := &ShortStraddle{
		BaseStrategy: NewBase(m, name, "ShortStraddle", portfolioName, "options-engine", setting),
		Volume:       1,
		DeltaRange:   50,
		ExitDTE:      1,
	}
	if v, ok := setting["volume"]; ok {
		s.Volume = asInt(v)
	}
	if v, ok := setting["delta_target"]; ok {
		s.DeltaTarget = asFloat(v)
	}
	if v, ok := setting["delta_range"]; ok {
		s.DeltaRange = asFloat(v)
	}
	if v, ok := setting["exit_dte"]; ok {
		s.ExitDTE = asInt(v)
	}
	if s.Volume <= 0 {
		return nil, fmt.Errorf("short straddle: volume must be positive")
	}
	return s, nil
}

// OnInitLogic picks the nearest live expiry, subscribes its chain, and
// enrolls with the hedging controller.
func (s *ShortStraddle) OnInitLogic() error {
	if s.Portfolio == nil {
		return fmt.Errorf("portfolio %s not loaded", s.PortfolioName())
	}

	var symbols []string
	now := time.Now()
	for sym, chain := range s.Portfolio.Chains {
		if chain.Expiry.After(now) {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no live chains for %s", s.PortfolioName())
	}
	sort.Strings(symbols)
	s.chainSymbol = symbols[0]

	s.SubscribeChains([]string{s.chainSymbol})
	s.RegisterHedging(hedge.Config{
		DeltaTarget: s.DeltaTarget,
		DeltaRange:  s.DeltaRange,
	})
	s.Logger().Info("tracking chain", "chain", s.chainSymbol)
	return nil
}

// OnStopLogic leaves the hedging rotation; positions stay on the book
// until explicitly closed.
func (s *ShortStraddle) OnStopLogic() error {
	s.UnregisterHedging()
	return nil
}

// OnTimerLogic enters the ATM straddle once quotes are in, and flattens
// the book when the expiry countdown reaches the exit threshold.
func (s *ShortStraddle) OnTimerLogic() error {
	chain, ok := s.Chain(s.chainSymbol)
	if !ok {
		return fmt.Errorf("chain %s disappeared", s.chainSymbol)
	}

	if s.entered {
		if chain.DaysToExpiry > 0 && chain.DaysToExpiry <= s.ExitDTE {
			s.Logger().Info("expiry close, flattening", "chain", s.chainSymbol, "dte", chain.DaysToExpiry)
			if err := s.CloseAllPositions(); err != nil {
				return err
			}
			s.entered = false
		}
		return nil
	}

	if chain.ATMIndex == "" {
		return nil
	}
	call, okC := chain.Calls[chain.ATMIndex]
	put, okP := chain.Puts[chain.ATMIndex]
	if !okC || !okP || call.Mid <= 0 || put.Mid <= 0 {
		return nil
	}

	_, err := s.SendComboOrder(types.ComboStraddle, map[string]string{
		"call": call.Symbol,
		"put":  put.Symbol,
	}, types.DirectionShort, call.Mid+put.Mid, float64(s.Volume), types.OrderTypeLimit)
	if err != nil {
		return err
	}
	s.entered = true
	return nil
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

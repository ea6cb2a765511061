package analysis

import (
	"fmt"
	"math"

	"trader-x-ai/internal/store"
	"trader-x-ai/internal/types"
)

// GenerateSignal applies the strategy rules to an analysis. It returns nil
// when the rules do not fire or a required indicator is missing.
func GenerateSignal(a types.Analysis, cfg store.StrategyConfig, strategy string) *types.Signal {
	var sig *types.Signal
	switch cfg.Type {
	case store.StrategyTrendFollowing:
		sig = trendSignal(a, cfg)
	case store.StrategyMeanReversion:
		sig = meanReversionSignal(a, cfg)
	case store.StrategyBreakout:
		sig = breakoutSignal(a)
	}
	if sig != nil {
		sig.Strategy = strategy
	}
	return sig
}

func trendSignal(a types.Analysis, cfg store.StrategyConfig) *types.Signal {
	trend, ok := a.Indicators["trend"]
	if !ok {
		return nil
	}
	rsi, ok := a.Indicators["rsi"]
	if !ok {
		return nil
	}
	overbought := cfg.Param("rsi_overbought", 70)
	oversold := cfg.Param("rsi_oversold", 30)

	switch {
	case trend > 0 && rsi < overbought:
		return &types.Signal{
			Direction: types.SideBuy,
			Strength:  clamp01((overbought - rsi) / overbought),
			Reason:    fmt.Sprintf("bullish trend, rsi %.1f below %.0f", rsi, overbought),
		}
	case trend < 0 && rsi > oversold:
		return &types.Signal{
			Direction: types.SideSell,
			Strength:  clamp01((rsi - oversold) / (100 - oversold)),
			Reason:    fmt.Sprintf("bearish trend, rsi %.1f above %.0f", rsi, oversold),
		}
	}
	return nil
}

func meanReversionSignal(a types.Analysis, cfg store.StrategyConfig) *types.Signal {
	rsi, ok := a.Indicators["rsi"]
	if !ok {
		return nil
	}
	overbought := cfg.Param("rsi_overbought", 70)
	oversold := cfg.Param("rsi_oversold", 30)
	lower, hasLower := a.Indicators["bb_lower"]
	upper, hasUpper := a.Indicators["bb_upper"]

	switch {
	case rsi < oversold || (hasLower && a.Close < lower):
		return &types.Signal{
			Direction: types.SideBuy,
			Strength:  clamp01((oversold - rsi + 10) / 40),
			Reason:    fmt.Sprintf("oversold, rsi %.1f close %.2f", rsi, a.Close),
		}
	case rsi > overbought || (hasUpper && a.Close > upper):
		return &types.Signal{
			Direction: types.SideSell,
			Strength:  clamp01((rsi - overbought + 10) / 40),
			Reason:    fmt.Sprintf("overbought, rsi %.1f close %.2f", rsi, a.Close),
		}
	}
	return nil
}

func breakoutSignal(a types.Analysis) *types.Signal {
	high, okH := a.Indicators["breakout_high"]
	low, okL := a.Indicators["breakout_low"]
	if !okH || !okL {
		return nil
	}
	atr := a.Indicators["atr"]

	switch {
	case a.Close > high:
		return &types.Signal{
			Direction: types.SideBuy,
			Strength:  breakoutStrength(a.Close-high, atr),
			Reason:    fmt.Sprintf("close %.2f broke above %.2f", a.Close, high),
		}
	case a.Close < low:
		return &types.Signal{
			Direction: types.SideSell,
			Strength:  breakoutStrength(low-a.Close, atr),
			Reason:    fmt.Sprintf("close %.2f broke below %.2f", a.Close, low),
		}
	}
	return nil
}

func breakoutStrength(distance, atr float64) float64 {
	if atr <= 0 {
		return 0.5
	}
	return clamp01(distance / atr)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// PrepareFeatures flattens a signal and its analysis into the feature set
// handed to a validator.
func PrepareFeatures(pair string, sig types.Signal, a types.Analysis) map[string]any {
	f := map[string]any{
		"pair":      pair,
		"strategy":  sig.Strategy,
		"direction": string(sig.Direction),
		"strength":  sig.Strength,
		"close":     a.Close,
	}
	for k, v := range a.Indicators {
		f["ind_"+k] = v
	}
	for k, v := range a.Volatility {
		f["vol_"+k] = v
	}
	for k, v := range a.Patterns {
		if v {
			f["pattern_"+k] = true
		}
	}
	return f
}

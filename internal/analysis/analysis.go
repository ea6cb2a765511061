// Package analysis turns OHLC candles into the indicator snapshot a
// strategy trades on.
package analysis

import (
	"math"
	"time"

	"trader-x-ai/internal/store"
	"trader-x-ai/internal/ta"
	"trader-x-ai/internal/types"
)

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	volatilityWindow = 20
)

type series struct {
	opens, highs, lows, closes []float64
}

func toSeries(candles []types.Candle) series {
	s := series{
		opens:  make([]float64, len(candles)),
		highs:  make([]float64, len(candles)),
		lows:   make([]float64, len(candles)),
		closes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.opens[i] = c.Open
		s.highs[i] = c.High
		s.lows[i] = c.Low
		s.closes[i] = c.Close
	}
	return s
}

// Analyze computes the strategy specific indicators plus volatility and
// candlestick patterns for the latest candle.
func Analyze(candles []types.Candle, cfg store.StrategyConfig, now time.Time) types.Analysis {
	a := types.Analysis{
		Timestamp:  now,
		Strategy:   cfg.Type,
		Indicators: map[string]float64{},
		Patterns:   map[string]bool{},
		Volatility: map[string]float64{},
	}
	if len(candles) == 0 {
		return a
	}
	s := toSeries(candles)
	a.Close = s.closes[len(s.closes)-1]

	switch cfg.Type {
	case store.StrategyTrendFollowing:
		trendIndicators(a.Indicators, s, cfg)
	case store.StrategyMeanReversion:
		meanReversionIndicators(a.Indicators, s, cfg)
	case store.StrategyBreakout:
		breakoutIndicators(a.Indicators, s, cfg)
	}

	analyzeVolatility(a.Volatility, s)
	a.Patterns = DetectPatterns(candles)
	return a
}

func trendIndicators(out map[string]float64, s series, cfg store.StrategyConfig) {
	short := int(cfg.Param("sma_short", 20))
	long := int(cfg.Param("sma_long", 50))
	put(out, "sma_short", ta.SMA(s.closes, short))
	put(out, "sma_long", ta.SMA(s.closes, long))
	put(out, "rsi", ta.RSI(s.closes, int(cfg.Param("rsi_period", 14))))

	macd, sig, hist := ta.MACD(s.closes, macdFast, macdSlow, macdSignal)
	put(out, "macd", macd)
	put(out, "macd_signal", sig)
	put(out, "macd_hist", hist)

	ss, okS := out["sma_short"]
	sl, okL := out["sma_long"]
	if okS && okL {
		if ss > sl {
			out["trend"] = 1
		} else {
			out["trend"] = -1
		}
	}
}

func meanReversionIndicators(out map[string]float64, s series, cfg store.StrategyConfig) {
	mid, up, low := ta.Bollinger(s.closes, int(cfg.Param("bollinger_period", 20)), cfg.Param("bollinger_std", 2))
	put(out, "bb_middle", mid)
	put(out, "bb_upper", up)
	put(out, "bb_lower", low)
	put(out, "rsi", ta.RSI(s.closes, int(cfg.Param("rsi_period", 14))))
}

func breakoutIndicators(out map[string]float64, s series, cfg store.StrategyConfig) {
	put(out, "atr", ta.ATR(s.highs, s.lows, s.closes, int(cfg.Param("atr_period", 14))))

	// channel over the candles before the latest one
	n := int(cfg.Param("breakout_period", 20))
	if len(s.closes) > 1 {
		put(out, "breakout_high", ta.Highest(s.highs[:len(s.highs)-1], n))
		put(out, "breakout_low", ta.Lowest(s.lows[:len(s.lows)-1], n))
	}
}

func analyzeVolatility(out map[string]float64, s series) {
	last := s.closes[len(s.closes)-1]
	if last == 0 {
		return
	}
	put(out, "atr_pct", ta.ATR(s.highs, s.lows, s.closes, 14)/last*100)

	rets := ta.Returns(s.closes)
	put(out, "returns_std", ta.StdDev(rets, min(len(rets), volatilityWindow))*100)

	hi := ta.Highest(s.highs, min(len(s.highs), volatilityWindow))
	lo := ta.Lowest(s.lows, min(len(s.lows), volatilityWindow))
	put(out, "range_pct", (hi-lo)/last*100)
}

// put stores v unless it is NaN or infinite; JSON cannot carry either.
func put(m map[string]float64, key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	m[key] = v
}

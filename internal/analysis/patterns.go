package analysis

import (
	"math"

	"trader-x-ai/internal/types"
)

const dojiBodyRatio = 0.1

// DetectPatterns flags single and two-candle patterns on the latest candles.
func DetectPatterns(candles []types.Candle) map[string]bool {
	p := map[string]bool{
		"doji":              false,
		"hammer":            false,
		"shooting_star":     false,
		"bullish_engulfing": false,
		"bearish_engulfing": false,
	}
	if len(candles) == 0 {
		return p
	}

	c := candles[len(candles)-1]
	rng := c.High - c.Low
	body := math.Abs(c.Close - c.Open)
	upper := c.High - math.Max(c.Open, c.Close)
	lower := math.Min(c.Open, c.Close) - c.Low

	if rng > 0 {
		p["doji"] = body <= dojiBodyRatio*rng
		p["hammer"] = body > 0 && lower >= 2*body && upper <= body
		p["shooting_star"] = body > 0 && upper >= 2*body && lower <= body
	}

	if len(candles) >= 2 {
		prev := candles[len(candles)-2]
		prevBear := prev.Close < prev.Open
		prevBull := prev.Close > prev.Open
		curBull := c.Close > c.Open
		curBear := c.Close < c.Open

		p["bullish_engulfing"] = prevBear && curBull && c.Open <= prev.Close && c.Close >= prev.Open
		p["bearish_engulfing"] = prevBull && curBear && c.Open >= prev.Close && c.Close <= prev.Open
	}
	return p
}

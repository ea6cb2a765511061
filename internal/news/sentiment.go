package news

import (
	"strings"
	"unicode"

	"trader-x-ai/internal/types"
)

var (
	positiveWords = []string{
		"surge", "surges", "rally", "rallies", "soar", "soars", "gain", "gains",
		"bull", "bullish", "record", "high", "approval", "approved", "adopt",
		"adoption", "inflow", "inflows", "upgrade", "breakout", "rebound", "jump",
	}
	negativeWords = []string{
		"crash", "crashes", "plunge", "plunges", "drop", "drops", "fall", "falls",
		"bear", "bearish", "hack", "hacked", "exploit", "ban", "lawsuit", "sec",
		"outflow", "outflows", "fraud", "liquidation", "liquidations", "selloff", "low",
	}
)

// Score is a keyword sentiment over headline titles in [-1, 1]:
// (positive - negative) / (positive + negative), 0 when nothing matches.
func Score(headlines []types.Headline) float64 {
	pos, neg := 0, 0
	for _, h := range headlines {
		for _, w := range strings.FieldsFunc(strings.ToLower(h.Title), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if contains(positiveWords, w) {
				pos++
			}
			if contains(negativeWords, w) {
				neg++
			}
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

func contains(list []string, w string) bool {
	for _, x := range list {
		if x == w {
			return true
		}
	}
	return false
}

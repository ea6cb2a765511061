package ta

import "math"

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// EMASeries returns the exponential moving average of vals with the given
// span, seeded with the first value (pandas ewm(span, adjust=False)).
func EMASeries(vals []float64, span int) []float64 {
	if len(vals) == 0 || span <= 0 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(vals))
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out
}

func EMA(vals []float64, span int) float64 {
	s := EMASeries(vals, span)
	if len(s) == 0 {
		return math.NaN()
	}
	return s[len(s)-1]
}

// MACD returns the latest MACD line, signal line and histogram.
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist float64) {
	if len(closes) < slow || fast <= 0 || slow <= 0 || signal <= 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	f := EMASeries(closes, fast)
	s := EMASeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = f[i] - s[i]
	}
	sl := EMASeries(line, signal)
	macd = line[len(line)-1]
	sig = sl[len(sl)-1]
	return macd, sig, macd - sig
}

// RSI averages gains and losses over the last period changes.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return math.NaN()
		}
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

// StdDev is the sample standard deviation (n-1) of the last n values, as a
// pandas rolling std computes it.
func StdDev(vals []float64, n int) float64 {
	if len(vals) < n || n < 2 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n-1))
}

func Bollinger(closes []float64, n int, k float64) (mid, up, low float64) {
	mid = SMA(closes, n)
	sd := StdDev(closes, n)
	up = mid + k*sd
	low = mid - k*sd
	return
}

func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) != len(lows) || len(lows) != len(closes) || period <= 0 {
		return math.NaN()
	}
	if len(closes) < period+1 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		tr1 := highs[i] - lows[i]
		tr2 := math.Abs(highs[i] - closes[i-1])
		tr3 := math.Abs(lows[i] - closes[i-1])
		sum += math.Max(tr1, math.Max(tr2, tr3))
	}
	return sum / float64(period)
}

// Highest is the maximum of the last n values.
func Highest(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	h := math.Inf(-1)
	for _, v := range vals[len(vals)-n:] {
		h = math.Max(h, v)
	}
	return h
}

// Lowest is the minimum of the last n values.
func Lowest(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	l := math.Inf(1)
	for _, v := range vals[len(vals)-n:] {
		l = math.Min(l, v)
	}
	return l
}

// Returns are simple period-over-period returns; len(out) == len(vals)-1.
func Returns(vals []float64) []float64 {
	if len(vals) < 2 {
		return nil
	}
	out := make([]float64, 0, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		if vals[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, vals[i]/vals[i-1]-1)
	}
	return out
}

// Package performance tracks trading statistics and drawdown.
package performance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const (
	KeyTotalTrades     = "total_trades"
	KeyWinningTrades   = "winning_trades"
	KeyLosingTrades    = "losing_trades"
	KeyTotalProfit     = "total_profit"
	KeyMaxDrawdown     = "max_drawdown"
	KeyCurrentDrawdown = "current_drawdown"
	KeyBestTrade       = "best_trade"
	KeyWorstTrade      = "worst_trade"
	KeyAverageProfit   = "average_profit"
	KeyPeakEquity      = "peak_equity"
)

var keys = []string{
	KeyTotalTrades, KeyWinningTrades, KeyLosingTrades, KeyTotalProfit,
	KeyMaxDrawdown, KeyCurrentDrawdown, KeyBestTrade, KeyWorstTrade,
	KeyAverageProfit, KeyPeakEquity,
}

type Tracker struct {
	mu      sync.Mutex
	metrics map[string]decimal.Decimal
	gauge   *prometheus.GaugeVec
}

// NewTracker registers the metric gauges on reg when it is not nil.
func NewTracker(reg prometheus.Registerer) (*Tracker, error) {
	t := &Tracker{metrics: make(map[string]decimal.Decimal, len(keys))}
	for _, k := range keys {
		t.metrics[k] = decimal.Zero
	}
	if reg != nil {
		t.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "traderx",
			Name:      "performance",
			Help:      "Trading performance metrics by name.",
		}, []string{"metric"})
		if err := reg.Register(t.gauge); err != nil {
			return nil, fmt.Errorf("register performance gauges: %w", err)
		}
		t.publish()
	}
	return t, nil
}

// publish must be called with mu held or before the tracker is shared.
func (t *Tracker) publish() {
	if t.gauge == nil {
		return
	}
	for k, v := range t.metrics {
		t.gauge.WithLabelValues(k).Set(v.InexactFloat64())
	}
	t.gauge.WithLabelValues("win_rate").Set(t.winRate().InexactFloat64())
}

// RecordOpen counts a placed order as a trade.
func (t *Tracker) RecordOpen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics[KeyTotalTrades] = t.metrics[KeyTotalTrades].Add(decimal.NewFromInt(1))
	t.publish()
}

// RecordClose counts a closed trade; a break-even close is a loss.
func (t *Tracker) RecordClose(pnl decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	one := decimal.NewFromInt(1)
	wins, losses := t.metrics[KeyWinningTrades], t.metrics[KeyLosingTrades]
	closed := wins.Add(losses)
	if pnl.IsPositive() {
		wins = wins.Add(one)
	} else {
		losses = losses.Add(one)
	}
	t.metrics[KeyWinningTrades] = wins
	t.metrics[KeyLosingTrades] = losses

	total := t.metrics[KeyTotalProfit].Add(pnl)
	t.metrics[KeyTotalProfit] = total

	if closed.IsZero() || pnl.GreaterThan(t.metrics[KeyBestTrade]) {
		t.metrics[KeyBestTrade] = pnl
	}
	if closed.IsZero() || pnl.LessThan(t.metrics[KeyWorstTrade]) {
		t.metrics[KeyWorstTrade] = pnl
	}
	t.metrics[KeyAverageProfit] = total.Div(closed.Add(one))
	t.publish()
}

// UpdateEquity tracks peak equity and drawdown once a trade has been made.
func (t *Tracker) UpdateEquity(equity decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.metrics[KeyTotalTrades].IsPositive() {
		return
	}
	peak := decimal.Max(t.metrics[KeyPeakEquity], equity)
	t.metrics[KeyPeakEquity] = peak

	dd := decimal.Zero
	if peak.IsPositive() {
		dd = peak.Sub(equity).Div(peak)
	}
	t.metrics[KeyCurrentDrawdown] = dd
	if dd.GreaterThan(t.metrics[KeyMaxDrawdown]) {
		t.metrics[KeyMaxDrawdown] = dd
	}
	t.publish()
}

// WinRate is winning trades over total trades, in percent.
func (t *Tracker) WinRate() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.winRate()
}

func (t *Tracker) winRate() decimal.Decimal {
	total := t.metrics[KeyTotalTrades]
	if total.IsZero() {
		return decimal.Zero
	}
	return t.metrics[KeyWinningTrades].Div(total).Mul(decimal.NewFromInt(100))
}

func (t *Tracker) Get(key string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics[key]
}

// Metrics returns every metric formatted as a string.
func (t *Tracker) Metrics() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.metrics))
	for k, v := range t.metrics {
		out[k] = v.String()
	}
	return out
}

func (t *Tracker) Save(path string) error {
	b, err := json.MarshalIndent(t.Metrics(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Load restores known metrics from path. A missing file is not an error.
func (t *Tracker) Load(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse metrics %s: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range raw {
		if _, known := t.metrics[k]; !known {
			continue
		}
		var d decimal.Decimal
		if err := json.Unmarshal(v, &d); err != nil {
			return fmt.Errorf("metric %s: %w", k, err)
		}
		t.metrics[k] = d
	}
	t.publish()
	return nil
}

// Package bot runs every configured strategy against every active pair.
package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"trader-x-ai/internal/analysis"
	"trader-x-ai/internal/exchange/kraken"
	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/news"
	"trader-x-ai/internal/performance"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/tradelog"
	"trader-x-ai/internal/types"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

const metricsFile = "performance_metrics.json"

type Deps struct {
	Exchange  interfaces.Exchange
	Validator interfaces.Validator
	News      interfaces.HeadlineSource // optional
	Tracker   *performance.Tracker
	Analyses  *analysis.Store
	TradeLog  *tradelog.Log
}

type Bot struct {
	cfg *store.Config
	Deps

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func New(cfg *store.Config, d Deps) *Bot {
	if d.Analyses == nil {
		d.Analyses = analysis.NewStore()
	}
	b := &Bot{cfg: cfg, Deps: d, now: time.Now, after: time.After}
	d.Exchange.OnTradeClosed(b.recordClose)
	return b
}

func (b *Bot) MetricsPath() string {
	return filepath.Join(b.cfg.DataDir, metricsFile)
}

// Strategies returns the configured strategy names in a stable order.
func (b *Bot) Strategies() []string {
	names := make([]string, 0, len(b.cfg.Strategies))
	for n := range b.cfg.Strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Initialize starts the market feed, logs the starting balance and restores
// saved performance metrics.
func (b *Bot) Initialize(ctx context.Context) error {
	logger.Info(ctx, "Initializing trading bot", "mode", b.cfg.Mode, "pairs", b.cfg.Pairs, "strategies", b.Strategies())

	if err := b.Exchange.StartFeed(ctx, b.cfg.Pairs); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	bal, err := b.Exchange.Balance(ctx)
	if err != nil {
		return fmt.Errorf("initial balance: %w", err)
	}
	logger.Info(ctx, "Initial balance", "balance", balanceFields(bal))

	if err := b.Tracker.Load(b.MetricsPath()); err != nil {
		return fmt.Errorf("load metrics: %w", err)
	}
	return nil
}

// Run initializes the bot and blocks until ctx is cancelled or a loop fails.
// The exchange is closed on every return path.
func (b *Bot) Run(ctx context.Context) (err error) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := b.Exchange.Close(closeCtx); cerr != nil {
			logger.ErrorWithErr(ctx, "Failed to close exchange", cerr)
		}
	}()

	if err := b.Initialize(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pair := range b.cfg.Pairs {
		for _, name := range b.Strategies() {
			g.Go(func() error { return b.RunStrategy(gctx, pair, name) })
		}
	}
	g.Go(func() error { return b.MonitorPerformance(gctx) })
	return g.Wait()
}

// RunStrategy loops one strategy on one pair, one cycle per timeframe.
// It returns nil when ctx is cancelled.
func (b *Bot) RunStrategy(ctx context.Context, pair, name string) error {
	sc, ok := b.cfg.Strategies[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	for {
		if err := b.cycle(ctx, pair, name, sc); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.ErrorWithErr(ctx, "Strategy cycle failed", err, "pair", pair, "strategy", name)
			return fmt.Errorf("strategy %s on %s: %w", name, pair, err)
		}
		if !b.sleep(ctx, time.Duration(sc.Timeframe)*time.Minute) {
			return nil
		}
	}
}

func (b *Bot) cycle(ctx context.Context, pair, name string, sc store.StrategyConfig) (err error) {
	op := logger.StartOperation(ctx, "strategy_cycle", "pair", pair, "strategy", name)
	ctx = op.GetContext()
	defer func() {
		if err != nil {
			op.EndWithError(err)
			return
		}
		op.End()
	}()

	candles, err := b.Exchange.OHLC(ctx, pair, sc.Timeframe)
	if err != nil {
		return err
	}
	a := analysis.Analyze(candles, sc, b.now())
	a.Strategy = name

	if sig := analysis.GenerateSignal(a, sc, name); sig != nil {
		if err := b.act(ctx, pair, name, sc, *sig, a); err != nil {
			return err
		}
	}

	b.Analyses.Put(pair, a, b.now())
	return nil
}

// act validates and, when approved, sizes and places the signal's order.
func (b *Bot) act(ctx context.Context, pair, name string, sc store.StrategyConfig, sig types.Signal, a types.Analysis) error {
	extra := map[string]any{}
	if b.News != nil {
		if hs, err := b.News.Headlines(ctx, pair); err == nil {
			extra["news_score"] = news.Score(hs)
			extra["news_count"] = len(hs)
		}
	}

	verdict, err := b.Validator.Validate(ctx, pair, sig, a, extra)
	if err != nil {
		logger.ErrorWithErr(ctx, "Signal validation failed", err, "pair", pair, "strategy", name)
		verdict = types.Verdict{Reason: "validator_error"}
	}
	logger.Signal(ctx, pair, name, string(sig.Direction), verdict.Approved, verdict.Confidence, sig.Reason,
		"strength", sig.Strength, "verdict_reason", verdict.Reason)
	b.logSignal(ctx, pair, sig, a, verdict, extra)

	if !verdict.Approved {
		return nil
	}

	volume, err := b.Exchange.CalculateOptimalPositionSize(ctx, pair, sc.Risk())
	if err != nil {
		return fmt.Errorf("position size: %w", err)
	}
	if !volume.IsPositive() {
		logger.Risk(ctx, pair, "ZERO_POSITION_SIZE", "strategy", name, "risk_per_trade", sc.RiskPerTrade)
		return nil
	}

	res, err := b.Exchange.PlaceOrder(ctx, types.OrderRequest{
		Pair:      pair,
		OrderType: "market",
		Side:      sig.Direction,
		Volume:    volume,
		Leverage:  sc.Leverage,
		Strategy:  name,
	})
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}
	b.recordOpen(ctx, pair, name, sig, volume, res)
	return nil
}

func (b *Bot) recordOpen(ctx context.Context, pair, name string, sig types.Signal, volume decimal.Decimal, res types.OrderResult) {
	txid := firstTxID(res)
	b.Tracker.RecordOpen()
	logger.Trade(ctx, pair, string(sig.Direction), volume.String(), res.ReferencePrice.String(), txid,
		"strategy", name, "stop_loss", res.StopLoss.String(), "take_profit", res.TakeProfit.String(), "simulated", res.Simulated)

	if b.TradeLog == nil {
		return
	}
	err := b.TradeLog.Append(tradelog.Entry{
		Event:     tradelog.EventOpen,
		Pair:      pair,
		Side:      string(sig.Direction),
		Volume:    volume,
		Price:     res.ReferencePrice,
		TxID:      txid,
		Strategy:  name,
		Reason:    sig.Reason,
		Simulated: res.Simulated,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to write trade log", err, "pair", pair)
	}
}

func (b *Bot) recordClose(ct types.ClosedTrade) {
	ctx := context.Background()
	b.Tracker.RecordClose(ct.PnL)
	logger.Trade(ctx, ct.Pair, string(ct.Side.Opposite()), ct.Volume.String(), ct.ExitPrice.String(), ct.TxID,
		"event", tradelog.EventClose, "reason", ct.Reason, "pnl", ct.PnL.String())

	if b.TradeLog == nil {
		return
	}
	err := b.TradeLog.Append(tradelog.Entry{
		Event:     tradelog.EventClose,
		Pair:      ct.Pair,
		Side:      string(ct.Side.Opposite()),
		Volume:    ct.Volume,
		Price:     ct.ExitPrice,
		TxID:      ct.TxID,
		Strategy:  ct.Strategy,
		Reason:    ct.Reason,
		PnL:       ct.PnL,
		Simulated: b.cfg.Mode != store.ModeLive,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to write trade log", err, "pair", ct.Pair)
	}
}

func (b *Bot) logSignal(ctx context.Context, pair string, sig types.Signal, a types.Analysis, v types.Verdict, extra map[string]any) {
	if b.TradeLog == nil {
		return
	}
	err := b.TradeLog.AppendSignal(tradelog.SignalEntry{
		Pair:          pair,
		Strategy:      sig.Strategy,
		Direction:     string(sig.Direction),
		Strength:      sig.Strength,
		Reason:        sig.Reason,
		Approved:      v.Approved,
		Confidence:    v.Confidence,
		VerdictReason: v.Reason,
		Close:         a.Close,
		Indicators:    a.Indicators,
		Extra:         extra,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to write signal log", err, "pair", pair)
	}
}

// MonitorPerformance refreshes equity and drawdown, persists the metrics and
// logs a status line every monitor interval. It returns nil when ctx is
// cancelled.
func (b *Bot) MonitorPerformance(ctx context.Context) error {
	interval := time.Duration(b.cfg.MonitorSeconds) * time.Second
	for {
		if err := b.monitorOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.ErrorWithErr(ctx, "Performance monitor failed", err)
			return fmt.Errorf("monitor: %w", err)
		}
		if !b.sleep(ctx, interval) {
			return nil
		}
	}
}

func (b *Bot) monitorOnce(ctx context.Context) error {
	positions, err := b.Exchange.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}
	bal, err := b.Exchange.Balance(ctx)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	equity := kraken.Equity(bal, b.cfg.Kraken.EquityAssets)
	b.Tracker.UpdateEquity(equity)

	if err := b.Tracker.Save(b.MetricsPath()); err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}

	logger.Info(ctx, "Bot status",
		"open_positions", len(positions),
		"active_trades", len(b.Exchange.ActiveTrades()),
		"equity", equity.String(),
		"win_rate", b.Tracker.WinRate().StringFixed(2),
		"total_profit", b.Tracker.Get(performance.KeyTotalProfit).String(),
		"current_drawdown_pct", b.Tracker.Get(performance.KeyCurrentDrawdown).Mul(decimal.NewFromInt(100)).StringFixed(2),
	)
	return nil
}

// sleep waits for d and reports false if ctx was cancelled first.
func (b *Bot) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-b.after(d):
		return true
	}
}

// LastAnalysis returns the latest analysis stored per pair.
func (b *Bot) LastAnalysis() map[string]types.AnalysisRecord {
	return b.Analyses.Snapshot()
}

// State is what the runner persists on exit.
func (b *Bot) State() types.BotState {
	return types.BotState{
		PerformanceMetrics: b.Tracker.Metrics(),
		LastAnalysis:       b.LastAnalysis(),
	}
}

func firstTxID(res types.OrderResult) string {
	if len(res.TxIDs) == 0 {
		return ""
	}
	return res.TxIDs[0]
}

func balanceFields(bal map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(bal))
	for k, v := range bal {
		out[k] = v.String()
	}
	return out
}

// Close releases the exchange connections. It is safe to call after Run.
func (b *Bot) Close(ctx context.Context) error {
	return b.Exchange.Close(ctx)
}

package bot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"trader-x-ai/internal/performance"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/tradelog"
	"trader-x-ai/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeExchange struct {
	mu        sync.Mutex
	candles   []types.Candle
	ohlcErr   error
	size      decimal.Decimal
	orders    []types.OrderRequest
	onClose   func(types.ClosedTrade)
	closed    int
	feedPairs []string
}

func (f *fakeExchange) StartFeed(_ context.Context, pairs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedPairs = pairs
	return nil
}

func (f *fakeExchange) Balance(context.Context) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{"ZUSD": decimal.NewFromInt(10000)}, nil
}

func (f *fakeExchange) OpenPositions(context.Context) (map[string]types.Position, error) {
	return map[string]types.Position{}, nil
}

func (f *fakeExchange) OHLC(context.Context, string, int) ([]types.Candle, error) {
	return f.candles, f.ohlcErr
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req types.OrderRequest) (types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return types.OrderResult{
		TxIDs:          []string{"SIM-1"},
		Simulated:      true,
		ReferencePrice: decimal.NewFromInt(110),
	}, nil
}

func (f *fakeExchange) CalculateOptimalPositionSize(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return f.size, nil
}

func (f *fakeExchange) LastPrice(string) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

func (f *fakeExchange) ActiveTrades() []types.ActiveTrade {
	return nil
}

func (f *fakeExchange) OnTradeClosed(fn func(types.ClosedTrade)) {
	f.onClose = fn
}

func (f *fakeExchange) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeExchange) placed() []types.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.OrderRequest(nil), f.orders...)
}

type fakeValidator struct {
	verdict types.Verdict
	err     error
	extra   map[string]any
}

func (v *fakeValidator) Validate(_ context.Context, _ string, _ types.Signal, _ types.Analysis, extra map[string]any) (types.Verdict, error) {
	v.extra = extra
	return v.verdict, v.err
}

type fakeNews struct{}

func (fakeNews) Headlines(context.Context, string) ([]types.Headline, error) {
	return []types.Headline{{Title: "Bitcoin rally continues as ETF inflows surge"}}, nil
}

// breakoutCandles end with a close above the prior channel.
func breakoutCandles() []types.Candle {
	var cs []types.Candle
	for i := 0; i < 10; i++ {
		cs = append(cs, types.Candle{Ts: int64(i * 60), Open: 100, High: 101, Low: 99, Close: 100})
	}
	return append(cs, types.Candle{Ts: 600, Open: 100, High: 111, Low: 100, Close: 110})
}

type fixture struct {
	bot   *Bot
	ex    *fakeExchange
	val   *fakeValidator
	dir   string
	cfg   *store.Config
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := store.Default()
	cfg.Pairs = []string{"XBT/USD"}
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Strategies = map[string]store.StrategyConfig{
		"breakout": {
			Type:         store.StrategyBreakout,
			RiskPerTrade: "0.01",
			Leverage:     2,
			Timeframe:    1,
			Indicators:   map[string]float64{"atr_period": 3, "breakout_period": 5},
		},
	}

	tracker, err := performance.NewTracker(nil)
	require.NoError(t, err)

	f := &fixture{
		ex:    &fakeExchange{candles: breakoutCandles(), size: decimal.RequireFromString("0.5")},
		val:   &fakeValidator{verdict: types.Verdict{Approved: true, Confidence: 0.9, Reason: "ok"}},
		dir:   dir,
		cfg:   cfg,
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.bot = New(cfg, Deps{
		Exchange:  f.ex,
		Validator: f.val,
		News:      fakeNews{},
		Tracker:   tracker,
		TradeLog:  tradelog.NewWithClock(filepath.Join(dir, "logs"), func() time.Time { return f.clock }),
	})
	f.bot.now = func() time.Time { return f.clock }
	return f
}

// stopOnSleep cancels ctx the first time the bot goes to sleep.
func stopOnSleep(b *Bot, cancel context.CancelFunc) {
	b.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestRunStrategyPlacesApprovedOrder(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopOnSleep(f.bot, cancel)

	require.NoError(t, f.bot.RunStrategy(ctx, "XBT/USD", "breakout"))

	orders := f.ex.placed()
	require.Len(t, orders, 1)
	assert.Equal(t, types.OrderRequest{
		Pair:      "XBT/USD",
		OrderType: "market",
		Side:      types.SideBuy,
		Volume:    decimal.RequireFromString("0.5"),
		Leverage:  2,
		Strategy:  "breakout",
	}, orders[0])

	assert.Equal(t, "1", f.bot.Tracker.Get(performance.KeyTotalTrades).String())
	assert.Equal(t, 1, f.val.extra["news_count"])
	assert.Contains(t, f.val.extra, "news_score")

	rec, ok := f.bot.Analyses.Get("XBT/USD")
	require.True(t, ok)
	assert.Equal(t, 110.0, rec.Data.Close)
	assert.Equal(t, f.clock, rec.Timestamp)

	trades := readLines(t, tradelog.TradeFile(filepath.Join(f.dir, "logs"), f.clock))
	require.Len(t, trades, 1)
	assert.Equal(t, tradelog.EventOpen, trades[0]["event"])
	assert.Equal(t, "SIM-1", trades[0]["txid"])
	assert.Equal(t, "110", trades[0]["price"])

	signals := readLines(t, tradelog.SignalFile(filepath.Join(f.dir, "logs"), f.clock))
	require.Len(t, signals, 1)
	assert.Equal(t, true, signals[0]["approved"])
	assert.Equal(t, "buy", signals[0]["direction"])
}

func TestRunStrategyRejectedSignal(t *testing.T) {
	f := newFixture(t)
	f.val.verdict = types.Verdict{Approved: false, Confidence: 0.2, Reason: "weak"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopOnSleep(f.bot, cancel)

	require.NoError(t, f.bot.RunStrategy(ctx, "XBT/USD", "breakout"))
	assert.Empty(t, f.ex.placed())

	_, ok := f.bot.Analyses.Get("XBT/USD")
	assert.True(t, ok, "analysis stored even without a trade")
	signals := readLines(t, tradelog.SignalFile(filepath.Join(f.dir, "logs"), f.clock))
	require.Len(t, signals, 1)
	assert.Equal(t, false, signals[0]["approved"])
}

func TestRunStrategyValidatorErrorSkipsOrder(t *testing.T) {
	f := newFixture(t)
	f.val.err = errors.New("provider down")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopOnSleep(f.bot, cancel)

	require.NoError(t, f.bot.RunStrategy(ctx, "XBT/USD", "breakout"))
	assert.Empty(t, f.ex.placed())
}

func TestRunStrategyZeroSizeSkipsOrder(t *testing.T) {
	f := newFixture(t)
	f.ex.size = decimal.Zero
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopOnSleep(f.bot, cancel)

	require.NoError(t, f.bot.RunStrategy(ctx, "XBT/USD", "breakout"))
	assert.Empty(t, f.ex.placed())
	assert.True(t, f.bot.Tracker.Get(performance.KeyTotalTrades).IsZero())
}

func TestRunStrategyUnknown(t *testing.T) {
	f := newFixture(t)
	err := f.bot.RunStrategy(context.Background(), "XBT/USD", "scalping")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestRunStrategyOHLCError(t *testing.T) {
	f := newFixture(t)
	f.ex.ohlcErr = errors.New("EGeneral:Internal error")
	err := f.bot.RunStrategy(context.Background(), "XBT/USD", "breakout")
	assert.ErrorContains(t, err, "EGeneral:Internal error")
}

func TestClosedTradeRecorded(t *testing.T) {
	f := newFixture(t)
	require.NotNil(t, f.ex.onClose)

	f.ex.onClose(types.ClosedTrade{
		ActiveTrade: types.ActiveTrade{
			TxID: "SIM-1", Pair: "XBT/USD", Side: types.SideBuy,
			Volume: decimal.RequireFromString("0.5"), Strategy: "breakout",
		},
		ExitPrice: decimal.NewFromInt(120),
		Reason:    "take_profit",
		PnL:       decimal.NewFromInt(5),
	})

	assert.Equal(t, "1", f.bot.Tracker.Get(performance.KeyWinningTrades).String())
	trades := readLines(t, tradelog.TradeFile(filepath.Join(f.dir, "logs"), f.clock))
	require.Len(t, trades, 1)
	assert.Equal(t, tradelog.EventClose, trades[0]["event"])
	assert.Equal(t, "sell", trades[0]["side"])
	assert.Equal(t, "5", trades[0]["pnl"])
	assert.Equal(t, true, trades[0]["simulated"])
}

func TestRunStopsCleanly(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps sync.WaitGroup
	sleeps.Add(2) // strategy loop and monitor
	var once sync.Once
	f.bot.after = func(time.Duration) <-chan time.Time {
		sleeps.Done()
		go func() {
			sleeps.Wait()
			once.Do(cancel)
		}()
		return make(chan time.Time)
	}

	require.NoError(t, f.bot.Run(ctx))
	assert.Equal(t, []string{"XBT/USD"}, f.ex.feedPairs)
	assert.Equal(t, 1, f.ex.closed)
	assert.Len(t, f.ex.placed(), 1)
	assert.FileExists(t, f.bot.MetricsPath())
}

func TestRunReturnsLoopErrorAndCloses(t *testing.T) {
	f := newFixture(t)
	f.ex.ohlcErr = errors.New("boom")
	f.bot.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	err := f.bot.Run(context.Background())
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, f.ex.closed)
}

func TestInitializeLoadsMetrics(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cfg.DataDir, 0o755))
	require.NoError(t, os.WriteFile(f.bot.MetricsPath(), []byte(`{"total_trades":"7"}`), 0o644))

	require.NoError(t, f.bot.Initialize(context.Background()))
	assert.Equal(t, "7", f.bot.Tracker.Get(performance.KeyTotalTrades).String())
}

package kraken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/types"
	"trader-x-ai/internal/vault"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

func newTestClient(t *testing.T, mode, restURL string) *Client {
	t.Helper()
	cfg := store.Default()
	cfg.Kraken.RestURL = restURL
	c, err := New(Params{
		Mode:   mode,
		Creds:  vault.Credentials{APIKey: "test-key", APISecret: testSecret},
		Kraken: cfg.Kraken,
		Risk:   cfg.Risk,
	})
	require.NoError(t, err)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

// fakeKraken records private calls and verifies their signatures.
type fakeKraken struct {
	t     *testing.T
	mu    sync.Mutex
	forms map[string][]url.Values
	reply map[string]string
}

func newFakeKraken(t *testing.T) (*fakeKraken, *httptest.Server) {
	f := &fakeKraken{t: t, forms: map[string][]url.Values{}, reply: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeKraken) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/0/private/") {
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		assert.NoError(f.t, err)

		want, err := Sign(r.URL.Path, form.Get("nonce"), string(body), testSecret)
		assert.NoError(f.t, err)
		assert.Equal(f.t, want, r.Header.Get("API-Sign"), "signature for %s", r.URL.Path)
		assert.Equal(f.t, "test-key", r.Header.Get("API-Key"))

		f.mu.Lock()
		f.forms[r.URL.Path] = append(f.forms[r.URL.Path], form)
		f.mu.Unlock()
	}

	f.mu.Lock()
	reply, ok := f.reply[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(reply))
}

func (f *fakeKraken) setReply(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply[path] = body
}

func (f *fakeKraken) calls(path string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func TestSignKnownVector(t *testing.T) {
	secret := "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="
	postdata := "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"

	sig, err := Sign("/0/private/AddOrder", "1616492376594", postdata, secret)
	require.NoError(t, err)
	assert.Equal(t, "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==", sig)
}

func TestSignRejectsBadSecret(t *testing.T) {
	_, err := Sign("/0/private/Balance", "1", "nonce=1", "%%%")
	assert.Error(t, err)
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	c := newTestClient(t, store.ModeDryRun, "http://unused")
	a := c.nextNonce()
	b := c.nextNonce()
	assert.Equal(t, "1700000000000", a)
	assert.Equal(t, "1700000000001", b)
}

func TestNewLiveRequiresCredentials(t *testing.T) {
	_, err := New(Params{Mode: store.ModeLive, Kraken: store.Default().Kraken})
	assert.ErrorIs(t, err, vault.ErrNoCredentials)
}

func TestRESTPair(t *testing.T) {
	assert.Equal(t, "XBTUSD", RESTPair("XBT/USD"))
	assert.Equal(t, "ETHUSD", RESTPair("ETHUSD"))
}

func TestLiveBalanceAndPositions(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/private/Balance"] = `{"error":[],"result":{"ZUSD":"1000.50","XXBT":"0.25"}}`
	f.reply["/0/private/OpenPositions"] = `{"error":[],"result":{"T1":{"ordertxid":"O1","posstatus":"open","pair":"XXBTZUSD","type":"buy","ordertype":"market","cost":"100.0","fee":"0.2","vol":"0.01","vol_closed":"0","margin":"20.0","net":"1.5"}}}`

	c := newTestClient(t, store.ModeLive, srv.URL)
	ctx := context.Background()

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, bal["ZUSD"].Equal(decimal.RequireFromString("1000.50")))
	assert.True(t, bal["XXBT"].Equal(decimal.RequireFromString("0.25")))

	pos, err := c.OpenPositions(ctx)
	require.NoError(t, err)
	require.Contains(t, pos, "T1")
	assert.Equal(t, "O1", pos["T1"].OrderTxID)
	assert.True(t, pos["T1"].Net.Equal(decimal.RequireFromString("1.5")))

	require.Len(t, f.calls("/0/private/Balance"), 1)
	assert.Equal(t, "1700000000000", f.calls("/0/private/Balance")[0].Get("nonce"))
}

func TestAPIErrorEnvelope(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/private/Balance"] = `{"error":["EAPI:Invalid key"]}`

	_, err := newTestClient(t, store.ModeLive, srv.URL).Balance(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Balance", apiErr.Endpoint)
	assert.Equal(t, []string{"EAPI:Invalid key"}, apiErr.Messages)
}

func TestOHLC(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/public/OHLC"] = `{"error":[],"result":{"XXBTZUSD":[
		[1688671200,"30306.1","30306.2","30305.7","30305.7","30306.1","3.39243896",23],
		[1688671260,"30305.7","30310.0","30305.7","30308.0","30307.0","1.5",7]
	],"last":1688672160}}`

	candles, err := newTestClient(t, store.ModeDryRun, srv.URL).OHLC(context.Background(), "XBT/USD", 60)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1688671200), candles[0].Ts)
	assert.Equal(t, 30306.1, candles[0].Open)
	assert.Equal(t, 30305.7, candles[0].Close)
	assert.Equal(t, 3.39243896, candles[0].Vol)
	assert.Equal(t, 23, candles[0].Count)
	assert.Equal(t, 30308.0, candles[1].Close)
}

func TestOHLCMalformedRow(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/public/OHLC"] = `{"error":[],"result":{"XXBTZUSD":[[1,"2"]],"last":1}}`

	_, err := newTestClient(t, store.ModeDryRun, srv.URL).OHLC(context.Background(), "XBT/USD", 60)
	assert.Error(t, err)
}

func TestTicker(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/public/Ticker"] = `{"error":[],"result":{"XXBTZUSD":{"c":["30303.20000","0.00067643"]}}}`

	p, err := newTestClient(t, store.ModeDryRun, srv.URL).Ticker(context.Background(), "XBT/USD")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("30303.2")))
}

func tick(pair, price string) []byte {
	b, _ := json.Marshal([]any{42, map[string]any{"c": []string{price, "1"}, "v": []string{"10", "25.5"}}, "ticker", pair})
	return b
}

func TestPlaceOrderRejectsLeverage(t *testing.T) {
	f, srv := newFakeKraken(t)
	c := newTestClient(t, store.ModeLive, srv.URL)

	_, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		Pair: "XBT/USD", Side: types.SideBuy, Volume: decimal.NewFromFloat(0.1), Leverage: 6,
	})
	assert.ErrorIs(t, err, ErrLeverageTooHigh)
	assert.Empty(t, f.calls("/0/private/AddOrder"))
}

func TestPlaceOrderLiveForm(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/private/AddOrder"] = `{"error":[],"result":{"descr":{"order":"buy 0.1 XBTUSD @ market"},"txid":["OABC-1"]}}`
	c := newTestClient(t, store.ModeLive, srv.URL)
	ctx := context.Background()
	c.handleFrame(ctx, tick("XBT/USD", "50000.0"))

	res, err := c.PlaceOrder(ctx, types.OrderRequest{
		Pair: "XBT/USD", Side: types.SideBuy, Volume: decimal.RequireFromString("0.1"), Leverage: 3, Strategy: "trend_following",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"OABC-1"}, res.TxIDs)
	assert.False(t, res.Simulated)
	assert.True(t, res.StopLoss.Equal(decimal.NewFromInt(49000)))
	assert.True(t, res.TakeProfit.Equal(decimal.NewFromInt(53000)))

	forms := f.calls("/0/private/AddOrder")
	require.Len(t, forms, 1)
	form := forms[0]
	assert.Equal(t, "XBTUSD", form.Get("pair"))
	assert.Equal(t, "buy", form.Get("type"))
	assert.Equal(t, "market", form.Get("ordertype"))
	assert.Equal(t, "0.1", form.Get("volume"))
	assert.Equal(t, "3", form.Get("leverage"))
	assert.Equal(t, "stop-loss", form.Get("close[ordertype]"))
	assert.Equal(t, "49000", form.Get("close[price]"))
	assert.Empty(t, form.Get("price"))

	active := c.ActiveTrades()
	require.Len(t, active, 1)
	assert.Equal(t, "OABC-1", active[0].TxID)
}

func TestPlaceOrderOmitsLeverageOfOne(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/private/AddOrder"] = `{"error":[],"result":{"descr":{"order":"sell"},"txid":["O2"]}}`
	c := newTestClient(t, store.ModeLive, srv.URL)

	_, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		Pair: "XBT/USD", OrderType: "limit", Side: types.SideSell, Volume: decimal.NewFromInt(1),
		Price: decimal.NewFromInt(100), Leverage: 1,
	})
	require.NoError(t, err)

	form := f.calls("/0/private/AddOrder")[0]
	_, hasLeverage := form["leverage"]
	assert.False(t, hasLeverage)
	assert.Equal(t, "100", form.Get("price"))
	assert.Equal(t, "102", form.Get("close[price]"))
}

func TestPlaceOrderFallsBackToTicker(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/public/Ticker"] = `{"error":[],"result":{"XXBTZUSD":{"c":["200.0","1"]}}}`
	c := newTestClient(t, store.ModeDryRun, srv.URL)

	res, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		Pair: "XBT/USD", Side: types.SideSell, Volume: decimal.NewFromInt(1), Leverage: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.ReferencePrice.Equal(decimal.NewFromInt(200)))
	assert.True(t, res.StopLoss.Equal(decimal.NewFromInt(204)))
	assert.True(t, res.TakeProfit.Equal(decimal.NewFromInt(188)))
}

func TestPlaceOrderLeavesTradeLineToCaller(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "bot.log")
	require.NoError(t, logger.InitWithConfig(logger.LogConfig{Level: "DEBUG", Format: "json", File: logPath}))
	t.Cleanup(func() {
		_ = logger.Shutdown(context.Background())
		_ = logger.InitWithConfig(logger.LogConfig{Level: "INFO", Format: "text", File: "-"})
	})

	c := newTestClient(t, store.ModeDryRun, "http://unused")
	ctx := context.Background()
	c.handleFrame(ctx, tick("XBT/USD", "50000"))
	_, err := c.PlaceOrder(ctx, types.OrderRequest{Pair: "XBT/USD", Side: types.SideBuy, Volume: decimal.NewFromInt(1), Leverage: 1})
	require.NoError(t, err)

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Order submitted")
	assert.NotContains(t, string(raw), "Trade executed")
}

func TestDryRunOrderAndStopLossTrigger(t *testing.T) {
	c := newTestClient(t, store.ModeDryRun, "http://unused")
	ctx := context.Background()

	var closed []types.ClosedTrade
	c.OnTradeClosed(func(ct types.ClosedTrade) { closed = append(closed, ct) })

	c.handleFrame(ctx, tick("XBT/USD", "50000"))
	res, err := c.PlaceOrder(ctx, types.OrderRequest{
		Pair: "XBT/USD", Side: types.SideBuy, Volume: decimal.RequireFromString("0.1"), Leverage: 2,
	})
	require.NoError(t, err)
	require.Len(t, res.TxIDs, 1)
	assert.True(t, strings.HasPrefix(res.TxIDs[0], "SIM-"))
	assert.True(t, res.Simulated)

	pos, err := c.OpenPositions(ctx)
	require.NoError(t, err)
	require.Contains(t, pos, res.TxIDs[0])
	assert.True(t, pos[res.TxIDs[0]].Margin.Equal(decimal.NewFromInt(2500)))

	c.handleFrame(ctx, tick("XBT/USD", "49500"))
	assert.Empty(t, closed)

	c.handleFrame(ctx, tick("XBT/USD", "48900"))
	c.handleFrame(ctx, tick("XBT/USD", "48000"))
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonStopLoss, closed[0].Reason)
	assert.True(t, closed[0].PnL.Equal(decimal.NewFromInt(-110)), closed[0].PnL.String())
	assert.Empty(t, c.ActiveTrades())

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, bal["ZUSD"].Equal(decimal.NewFromInt(9890)))
}

func TestSellTakeProfitTrigger(t *testing.T) {
	c := newTestClient(t, store.ModeDryRun, "http://unused")
	ctx := context.Background()

	var closed []types.ClosedTrade
	c.OnTradeClosed(func(ct types.ClosedTrade) { closed = append(closed, ct) })

	c.handleFrame(ctx, tick("ETH/USD", "2000"))
	_, err := c.PlaceOrder(ctx, types.OrderRequest{Pair: "ETH/USD", Side: types.SideSell, Volume: decimal.NewFromInt(2), Leverage: 1})
	require.NoError(t, err)

	// other pairs never trigger
	c.handleFrame(ctx, tick("XBT/USD", "1"))
	assert.Empty(t, closed)

	c.handleFrame(ctx, tick("ETH/USD", "1880"))
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonTakeProfit, closed[0].Reason)
	assert.True(t, closed[0].PnL.Equal(decimal.NewFromInt(240)))
}

func TestLiveTakeProfitSendsReduceOnlyClose(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/private/AddOrder"] = `{"error":[],"result":{"descr":{"order":"x"},"txid":["O1"]}}`
	f.reply["/0/private/CancelOrder"] = `{"error":[],"result":{"count":1}}`
	c := newTestClient(t, store.ModeLive, srv.URL)
	ctx := context.Background()

	var closed []types.ClosedTrade
	c.OnTradeClosed(func(ct types.ClosedTrade) { closed = append(closed, ct) })

	c.handleFrame(ctx, tick("XBT/USD", "100"))
	_, err := c.PlaceOrder(ctx, types.OrderRequest{Pair: "XBT/USD", Side: types.SideBuy, Volume: decimal.NewFromInt(1), Leverage: 2})
	require.NoError(t, err)

	c.handleFrame(ctx, tick("XBT/USD", "106"))

	forms := f.calls("/0/private/AddOrder")
	require.Len(t, forms, 2)
	closeForm := forms[1]
	assert.Equal(t, "sell", closeForm.Get("type"))
	assert.Equal(t, "market", closeForm.Get("ordertype"))
	assert.Equal(t, "true", closeForm.Get("reduce_only"))
	assert.Empty(t, closeForm.Get("close[ordertype]"))
	assert.Empty(t, c.ActiveTrades())

	cancels := f.calls("/0/private/CancelOrder")
	require.Len(t, cancels, 1)
	assert.Equal(t, "O1", cancels[0].Get("txid"))

	require.Len(t, closed, 1)
	assert.Equal(t, ReasonTakeProfit, closed[0].Reason)
}

func TestLiveTakeProfitRejectedCloseKeepsTrade(t *testing.T) {
	f, srv := newFakeKraken(t)
	f.reply["/0/private/AddOrder"] = `{"error":[],"result":{"descr":{"order":"x"},"txid":["O1"]}}`
	f.reply["/0/private/CancelOrder"] = `{"error":[],"result":{"count":1}}`
	c := newTestClient(t, store.ModeLive, srv.URL)
	ctx := context.Background()

	var closed []types.ClosedTrade
	c.OnTradeClosed(func(ct types.ClosedTrade) { closed = append(closed, ct) })

	c.handleFrame(ctx, tick("XBT/USD", "100"))
	_, err := c.PlaceOrder(ctx, types.OrderRequest{Pair: "XBT/USD", Side: types.SideBuy, Volume: decimal.NewFromInt(1), Leverage: 2})
	require.NoError(t, err)

	f.setReply("/0/private/AddOrder", `{"error":["EOrder:Insufficient margin"],"result":{}}`)
	c.handleFrame(ctx, tick("XBT/USD", "106"))

	assert.Len(t, f.calls("/0/private/AddOrder"), 2)
	assert.Empty(t, closed)
	assert.Empty(t, f.calls("/0/private/CancelOrder"))
	require.Len(t, c.ActiveTrades(), 1)
	assert.Equal(t, "O1", c.ActiveTrades()[0].TxID)

	// the next tick retries the close
	f.setReply("/0/private/AddOrder", `{"error":[],"result":{"descr":{"order":"x"},"txid":["O2"]}}`)
	c.handleFrame(ctx, tick("XBT/USD", "107"))

	assert.Len(t, f.calls("/0/private/AddOrder"), 3)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].PnL.Equal(decimal.NewFromInt(7)), closed[0].PnL.String())
	assert.Empty(t, c.ActiveTrades())
	require.Len(t, f.calls("/0/private/CancelOrder"), 1)
}

func TestCalculateOptimalPositionSize(t *testing.T) {
	c := newTestClient(t, store.ModeDryRun, "http://unused")
	ctx := context.Background()
	c.handleFrame(ctx, tick("XBT/USD", "50000"))

	// min(10000*0.1, 10000*0.01/0.02) = 1000 quote -> 0.02 base
	vol, err := c.CalculateOptimalPositionSize(ctx, "XBT/USD", decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.True(t, vol.Equal(decimal.RequireFromString("0.02")), vol.String())

	// risk budget binds: 10000*0.001/0.02 = 500 quote -> 0.01
	vol, err = c.CalculateOptimalPositionSize(ctx, "XBT/USD", decimal.RequireFromString("0.001"))
	require.NoError(t, err)
	assert.True(t, vol.Equal(decimal.RequireFromString("0.01")), vol.String())
}

func TestCalculateOptimalPositionSizeTruncates(t *testing.T) {
	c := newTestClient(t, store.ModeDryRun, "http://unused")
	c.handleFrame(context.Background(), tick("XBT/USD", "30000"))

	vol, err := c.CalculateOptimalPositionSize(context.Background(), "XBT/USD", decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Equal(t, "0.03333333", vol.String())
}

func TestEquity(t *testing.T) {
	bal := map[string]decimal.Decimal{
		"ZUSD": decimal.NewFromInt(100),
		"XXBT": decimal.NewFromInt(2),
	}
	assert.True(t, Equity(bal, nil).Equal(decimal.NewFromInt(102)))
	assert.True(t, Equity(bal, []string{"ZUSD"}).Equal(decimal.NewFromInt(100)))
	assert.True(t, Equity(bal, []string{"ZEUR"}).IsZero())
}

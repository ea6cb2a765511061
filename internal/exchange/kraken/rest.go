package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"trader-x-ai/internal/api"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/types"
)

// APIError carries the messages of a non-empty "error" array.
type APIError struct {
	Endpoint string
	Messages []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kraken %s: %s", e.Endpoint, strings.Join(e.Messages, "; "))
}

type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// RESTPair converts a WebSocket pair name (XBT/USD) to the REST form (XBTUSD).
func RESTPair(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

func decodeEnvelope(endpoint string, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("kraken %s: decode response: %w", endpoint, err)
	}
	if len(env.Error) > 0 {
		return &APIError{Endpoint: endpoint, Messages: env.Error}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("kraken %s: decode result: %w", endpoint, err)
	}
	return nil
}

// private signs and posts form to /0/private/<endpoint>. Private calls are
// never retried because the nonce is consumed.
func (c *Client) private(ctx context.Context, endpoint string, form url.Values, out any) error {
	if c.p.Creds.Empty() {
		return fmt.Errorf("kraken %s: no credentials", endpoint)
	}
	if form == nil {
		form = url.Values{}
	}
	// wait before taking a nonce so queued calls still send increasing nonces
	if err := c.limit.Wait(ctx); err != nil {
		return err
	}
	nonce := c.nextNonce()
	form.Set("nonce", nonce)

	path := "/0/private/" + endpoint
	sig, err := Sign(path, nonce, form.Encode(), c.p.Creds.APISecret)
	if err != nil {
		return err
	}

	req := api.NewRequest(http.MethodPost, path).
		WithContext(ctx).
		WithForm(form).
		WithHeader("API-Key", c.p.Creds.APIKey).
		WithHeader("API-Sign", sig)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kraken %s: %w", endpoint, err)
	}
	return decodeEnvelope(endpoint, resp.Body, out)
}

func (c *Client) public(ctx context.Context, endpoint string, q url.Values, out any) error {
	req := api.NewRequest(http.MethodGet, "/0/public/"+endpoint).WithContext(ctx).WithQuery(q)
	resp, err := c.http.DoWithRetry(req, api.DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("kraken %s: %w", endpoint, err)
	}
	return decodeEnvelope(endpoint, resp.Body, out)
}

// Balance returns asset balances. In DRY_RUN it returns the paper balance.
func (c *Client) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	if !c.live() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		out := make(map[string]decimal.Decimal, len(c.paper))
		for k, v := range c.paper {
			out[k] = v
		}
		return out, nil
	}

	var res map[string]decimal.Decimal
	if err := c.private(ctx, "Balance", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// OpenPositions returns margin positions keyed by txid. In DRY_RUN they are
// derived from the locally tracked trades.
func (c *Client) OpenPositions(ctx context.Context) (map[string]types.Position, error) {
	if c.live() {
		var res map[string]types.Position
		if err := c.private(ctx, "OpenPositions", url.Values{"docalcs": {"true"}}, &res); err != nil {
			return nil, err
		}
		return res, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]types.Position, len(c.active))
	for id, t := range c.active {
		cost := t.Price.Mul(t.Volume)
		lev := int64(max(t.Leverage, 1))
		pos := types.Position{
			OrderTxID: id,
			PosStatus: "open",
			Pair:      RESTPair(t.Pair),
			Type:      string(t.Side),
			OrderType: t.Type,
			Cost:      cost,
			Vol:       t.Volume,
			Margin:    cost.Div(decimal.NewFromInt(lev)),
		}
		if tick, ok := c.prices[t.Pair]; ok {
			pos.Net = pnl(t.Side, t.Price, tick.Price, t.Volume)
		}
		out[id] = pos
	}
	return out, nil
}

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
		Close string `json:"close"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

func (c *Client) addOrder(ctx context.Context, form url.Values) (addOrderResult, error) {
	var res addOrderResult
	if err := c.private(ctx, "AddOrder", form, &res); err != nil {
		return res, err
	}
	if len(res.TxID) == 0 {
		return res, errors.New("kraken AddOrder: no txid in response")
	}
	return res, nil
}

// cancelOrder cancels txid on Kraken, together with any close order attached
// to it.
func (c *Client) cancelOrder(ctx context.Context, txid string) error {
	var res struct {
		Count int `json:"count"`
	}
	return c.private(ctx, "CancelOrder", url.Values{"txid": {txid}}, &res)
}

// OHLC fetches candles for pair at the given interval, oldest first.
func (c *Client) OHLC(ctx context.Context, pair string, intervalMinutes int) ([]types.Candle, error) {
	q := url.Values{
		"pair":     {RESTPair(pair)},
		"interval": {strconv.Itoa(intervalMinutes)},
	}
	var res map[string]json.RawMessage
	if err := c.public(ctx, "OHLC", q, &res); err != nil {
		return nil, err
	}

	// the result is keyed by Kraken's own pair name plus "last"
	keys := make([]string, 0, len(res))
	for k := range res {
		if k != "last" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("kraken OHLC: no data for %s", pair)
	}
	sort.Strings(keys)

	var rows [][]any
	if err := json.Unmarshal(res[keys[0]], &rows); err != nil {
		return nil, fmt.Errorf("kraken OHLC: decode rows: %w", err)
	}

	candles := make([]types.Candle, 0, len(rows))
	for i, row := range rows {
		cdl, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("kraken OHLC: row %d: %w", i, err)
		}
		candles = append(candles, cdl)
	}
	return candles, nil
}

func parseCandle(row []any) (types.Candle, error) {
	if len(row) < 8 {
		return types.Candle{}, fmt.Errorf("expected 8 fields, got %d", len(row))
	}
	vals := make([]float64, 8)
	for i := range vals {
		v, err := number(row[i])
		if err != nil {
			return types.Candle{}, fmt.Errorf("field %d: %w", i, err)
		}
		vals[i] = v
	}
	return types.Candle{
		Ts:    int64(vals[0]),
		Open:  vals[1],
		High:  vals[2],
		Low:   vals[3],
		Close: vals[4],
		VWAP:  vals[5],
		Vol:   vals[6],
		Count: int(vals[7]),
	}, nil
}

func number(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// Ticker returns the last trade price from the public ticker.
func (c *Client) Ticker(ctx context.Context, pair string) (decimal.Decimal, error) {
	var res map[string]struct {
		C []string `json:"c"`
	}
	if err := c.public(ctx, "Ticker", url.Values{"pair": {RESTPair(pair)}}, &res); err != nil {
		return decimal.Zero, err
	}
	for _, t := range res {
		if len(t.C) > 0 {
			return decimal.NewFromString(t.C[0])
		}
	}
	logger.Warn(ctx, "Ticker response without price", "pair", pair)
	return decimal.Zero, fmt.Errorf("kraken Ticker: no price for %s", pair)
}

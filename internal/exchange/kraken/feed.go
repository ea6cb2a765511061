package kraken

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/types"
)

type subscribeMsg struct {
	Event        string       `json:"event"`
	Pair         []string     `json:"pair"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Name string `json:"name"`
}

type eventMsg struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ErrorMessage string `json:"errorMessage"`
	Subscription struct {
		Name string `json:"name"`
	} `json:"subscription"`
}

type tickerPayload struct {
	C []string `json:"c"`
	V []string `json:"v"`
}

// StartFeed runs the ticker and trade subscription in the background until
// ctx is done or Close is called.
func (c *Client) StartFeed(ctx context.Context, pairs []string) error {
	if len(pairs) == 0 {
		return errors.New("kraken feed: no pairs")
	}
	if c.closed() {
		return errors.New("kraken feed: client closed")
	}

	c.feedWG.Add(1)
	go func() {
		defer c.feedWG.Done()
		c.runFeed(ctx, pairs)
	}()
	return nil
}

func (c *Client) runFeed(ctx context.Context, pairs []string) {
	retry := c.retry
	for {
		err := c.consume(ctx, pairs)
		if ctx.Err() != nil || c.closed() {
			return
		}
		logger.Warn(ctx, "Kraken WebSocket error, reconnecting", "error", err, "retry_in", retry)

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(retry):
		}
	}
}

func (c *Client) consume(ctx context.Context, pairs []string) error {
	conn, _, err := c.dialer.DialContext(ctx, c.p.Kraken.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.setConn(conn)
	defer c.setConn(nil)
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, name := range []string{"ticker", "trade"} {
		msg := subscribeMsg{Event: "subscribe", Pair: pairs, Subscription: subscription{Name: name}}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
	}
	logger.Info(ctx, "Kraken WebSocket connected", "pairs", pairs)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(ctx, raw)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	c.ws = conn
	// Close may have run between dial and here
	if conn != nil && c.closed() {
		_ = conn.Close()
	}
}

// handleFrame dispatches one WebSocket message. Bad frames are logged and
// dropped.
func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}

	switch raw[0] {
	case '[':
		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn(ctx, "Dropping malformed WebSocket frame", "error", err)
			return
		}
		if err := c.handleData(ctx, frame); err != nil {
			logger.Warn(ctx, "Dropping WebSocket data frame", "error", err)
		}
	case '{':
		var ev eventMsg
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Warn(ctx, "Dropping malformed WebSocket event", "error", err)
			return
		}
		c.handleEvent(ctx, ev)
	default:
		logger.Debug(ctx, "Ignoring unknown WebSocket frame", "frame", string(raw))
	}
}

func (c *Client) handleEvent(ctx context.Context, ev eventMsg) {
	switch ev.Event {
	case "heartbeat":
		logger.Debug(ctx, "Kraken heartbeat")
	case "subscriptionStatus":
		if ev.Status == "error" {
			logger.Warn(ctx, "Kraken subscription failed", "pair", ev.Pair, "channel", ev.Subscription.Name, "error", ev.ErrorMessage)
			return
		}
		logger.Debug(ctx, "Kraken subscription status", "pair", ev.Pair, "channel", ev.Subscription.Name, "status", ev.Status)
	default:
		logger.Debug(ctx, "Kraken event", "event", ev.Event, "status", ev.Status)
	}
}

// handleData handles [channelID, payload, channelName, pair].
func (c *Client) handleData(ctx context.Context, frame []json.RawMessage) error {
	if len(frame) < 4 {
		return fmt.Errorf("expected at least 4 elements, got %d", len(frame))
	}
	var channel, pair string
	if err := json.Unmarshal(frame[len(frame)-2], &channel); err != nil {
		return fmt.Errorf("channel name: %w", err)
	}
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		return fmt.Errorf("pair: %w", err)
	}

	switch channel {
	case "ticker":
		return c.handleTicker(ctx, pair, frame[1])
	case "trade":
		return c.handleTrades(pair, frame[1])
	default:
		logger.Debug(ctx, "Ignoring channel", "channel", channel, "pair", pair)
		return nil
	}
}

func (c *Client) handleTicker(ctx context.Context, pair string, raw json.RawMessage) error {
	var t tickerPayload
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("ticker %s: %w", pair, err)
	}
	if len(t.C) < 1 || len(t.V) < 2 {
		return fmt.Errorf("ticker %s: missing c or v", pair)
	}
	price, err := decimal.NewFromString(t.C[0])
	if err != nil {
		return fmt.Errorf("ticker %s price: %w", pair, err)
	}
	volume, err := decimal.NewFromString(t.V[1])
	if err != nil {
		return fmt.Errorf("ticker %s volume: %w", pair, err)
	}

	c.mu.Lock()
	c.prices[pair] = types.PriceTick{Price: price, Volume: volume, Timestamp: c.now().UTC()}
	c.mu.Unlock()

	c.checkTriggered(ctx, pair, price)
	return nil
}

// handleTrades appends [price, volume, time, side, orderType, misc] rows to
// the bounded tape.
func (c *Client) handleTrades(pair string, raw json.RawMessage) error {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("trade %s: %w", pair, err)
	}

	trades := make([]types.TapeTrade, 0, len(rows))
	for _, r := range rows {
		if len(r) < 5 {
			return fmt.Errorf("trade %s: short row", pair)
		}
		price, err := decimal.NewFromString(r[0])
		if err != nil {
			return fmt.Errorf("trade %s price: %w", pair, err)
		}
		vol, err := decimal.NewFromString(r[1])
		if err != nil {
			return fmt.Errorf("trade %s volume: %w", pair, err)
		}
		secs, err := strconv.ParseFloat(r[2], 64)
		if err != nil {
			return fmt.Errorf("trade %s time: %w", pair, err)
		}
		side := types.SideBuy
		if r[3] == "s" {
			side = types.SideSell
		}
		orderType := "limit"
		if r[4] == "m" {
			orderType = "market"
		}
		trades = append(trades, types.TapeTrade{
			Price:     price,
			Volume:    vol,
			Time:      time.UnixMilli(int64(secs * 1000)).UTC(),
			Side:      side,
			OrderType: orderType,
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tape := append(c.tape[pair], trades...)
	if len(tape) > tapeSize {
		tape = append([]types.TapeTrade(nil), tape[len(tape)-tapeSize:]...)
	}
	c.tape[pair] = tape
	return nil
}

package kraken

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/types"
)

var ErrLeverageTooHigh = errors.New("leverage exceeds maximum allowed")

const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"

	defaultPriceDecimals = 8
)

// PlaceOrder submits an order with a stop-loss close attached. The take
// profit is watched locally against the ticker feed.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if req.Leverage > c.p.Risk.MaxLeverage {
		return types.OrderResult{}, fmt.Errorf("%w: %d > %d", ErrLeverageTooHigh, req.Leverage, c.p.Risk.MaxLeverage)
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return types.OrderResult{}, fmt.Errorf("invalid side %q", req.Side)
	}
	if !req.Volume.IsPositive() {
		return types.OrderResult{}, fmt.Errorf("volume must be positive, got %s", req.Volume)
	}
	if req.OrderType == "" {
		req.OrderType = "market"
	}
	if req.OrderType == "limit" && !req.Price.IsPositive() {
		return types.OrderResult{}, errors.New("limit order requires a price")
	}

	ref, err := c.referencePrice(ctx, req.Pair, req)
	if err != nil {
		return types.OrderResult{}, err
	}

	stop, take := c.protectiveLevels(req.Pair, req.Side, ref)
	form := orderForm(req, stop)

	result := types.OrderResult{ReferencePrice: ref}
	if !req.ReduceOnly {
		result.StopLoss = stop
		result.TakeProfit = take
	}

	if c.live() {
		res, err := c.addOrder(ctx, form)
		if err != nil {
			return types.OrderResult{}, err
		}
		result.TxIDs = res.TxID
		result.Description = res.Descr.Order
	} else {
		result.TxIDs = []string{"SIM-" + uuid.NewString()}
		result.Description = fmt.Sprintf("%s %s %s @ %s", req.Side, req.Volume, RESTPair(req.Pair), req.OrderType)
		result.Simulated = true
	}

	logger.Debug(ctx, "Order submitted",
		"pair", req.Pair,
		"side", string(req.Side),
		"volume", req.Volume.String(),
		"price", ref.String(),
		"txid", result.TxIDs[0],
		"order_type", req.OrderType,
		"leverage", req.Leverage,
		"stop_loss", result.StopLoss.String(),
		"take_profit", result.TakeProfit.String(),
		"simulated", result.Simulated,
		"reduce_only", req.ReduceOnly)

	if !req.ReduceOnly {
		c.mu.Lock()
		c.active[result.TxIDs[0]] = types.ActiveTrade{
			TxID:       result.TxIDs[0],
			Pair:       req.Pair,
			Type:       req.OrderType,
			Side:       req.Side,
			Volume:     req.Volume,
			Price:      ref,
			Leverage:   req.Leverage,
			StopLoss:   stop,
			TakeProfit: take,
			Strategy:   req.Strategy,
			Timestamp:  c.now().UTC(),
		}
		c.mu.Unlock()
	}
	return result, nil
}

func orderForm(req types.OrderRequest, stop decimal.Decimal) url.Values {
	form := url.Values{
		"pair":      {RESTPair(req.Pair)},
		"type":      {string(req.Side)},
		"ordertype": {req.OrderType},
		"volume":    {req.Volume.String()},
	}
	if req.Leverage > 1 {
		form.Set("leverage", strconv.Itoa(req.Leverage))
	}
	if req.OrderType == "limit" {
		form.Set("price", req.Price.String())
	}
	if req.ReduceOnly {
		form.Set("reduce_only", "true")
		return form
	}
	form.Set("close[ordertype]", "stop-loss")
	form.Set("close[price]", stop.String())
	return form
}

// referencePrice is the limit price, else the cached feed price, else the
// REST ticker.
func (c *Client) referencePrice(ctx context.Context, pair string, req types.OrderRequest) (decimal.Decimal, error) {
	if req.OrderType == "limit" && req.Price.IsPositive() {
		return req.Price, nil
	}
	if p, ok := c.LastPrice(pair); ok && p.IsPositive() {
		return p, nil
	}
	p, err := c.Ticker(ctx, pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("no reference price for %s: %w", pair, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("no reference price for %s", pair)
	}
	return p, nil
}

func (c *Client) protectiveLevels(pair string, side types.Side, ref decimal.Decimal) (stop, take decimal.Decimal) {
	one := decimal.NewFromInt(1)
	sl := decimal.NewFromFloat(c.p.Risk.StopLossPct)
	tp := decimal.NewFromFloat(c.p.Risk.TakeProfitPct)

	if side == types.SideBuy {
		stop = ref.Mul(one.Sub(sl))
		take = ref.Mul(one.Add(tp))
	} else {
		stop = ref.Mul(one.Add(sl))
		take = ref.Mul(one.Sub(tp))
	}
	places := c.priceDecimals(pair)
	return stop.Round(places), take.Round(places)
}

func (c *Client) priceDecimals(pair string) int32 {
	if d, ok := c.p.Kraken.PriceDecimals[pair]; ok {
		return d
	}
	if d, ok := c.p.Kraken.PriceDecimals[RESTPair(pair)]; ok {
		return d
	}
	return defaultPriceDecimals
}

func pnl(side types.Side, entry, exit, volume decimal.Decimal) decimal.Decimal {
	if side == types.SideBuy {
		return exit.Sub(entry).Mul(volume)
	}
	return entry.Sub(exit).Mul(volume)
}

// checkTriggered closes every active trade on pair whose stop or take
// profit the price has crossed. Each trade is reported exactly once. A LIVE
// take profit is reported only after its closing order is accepted; until
// then the trade stays active and the next tick retries the close.
func (c *Client) checkTriggered(ctx context.Context, pair string, price decimal.Decimal) {
	var closed, closing []types.ClosedTrade

	c.mu.Lock()
	for id, t := range c.active {
		if t.Pair != pair {
			continue
		}
		if _, busy := c.closing[id]; busy {
			continue
		}
		reason := triggerReason(t, price)
		if reason == "" {
			continue
		}
		ct := types.ClosedTrade{
			ActiveTrade: t,
			ExitPrice:   price,
			Reason:      reason,
			PnL:         pnl(t.Side, t.Price, price, t.Volume),
		}
		if reason == ReasonTakeProfit && c.live() {
			c.closing[id] = struct{}{}
			closing = append(closing, ct)
			continue
		}
		delete(c.active, id)
		if !c.live() {
			c.applyPaperPnL(ct.PnL)
		}
		closed = append(closed, ct)
	}
	handler := c.onClose
	c.mu.Unlock()

	for _, ct := range closing {
		if c.closeAtTakeProfit(ctx, ct) {
			closed = append(closed, ct)
		}
	}

	for _, ct := range closed {
		logger.Risk(ctx, pair, ct.Reason,
			"txid", ct.TxID,
			"side", string(ct.Side),
			"entry", ct.Price.String(),
			"exit", ct.ExitPrice.String(),
			"pnl", ct.PnL.String())
		if handler != nil {
			handler(ct)
		}
	}
}

// closeAtTakeProfit sends the reduce-only close for a LIVE trade and cancels
// the stop-loss attached to its opening order. It reports whether the trade
// is now closed.
func (c *Client) closeAtTakeProfit(ctx context.Context, ct types.ClosedTrade) bool {
	_, err := c.PlaceOrder(ctx, types.OrderRequest{
		Pair:       ct.Pair,
		OrderType:  "market",
		Side:       ct.Side.Opposite(),
		Volume:     ct.Volume,
		Leverage:   ct.Leverage,
		ReduceOnly: true,
		Strategy:   ct.Strategy,
	})

	c.mu.Lock()
	delete(c.closing, ct.TxID)
	if err == nil {
		delete(c.active, ct.TxID)
	}
	c.mu.Unlock()

	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to close position at take profit", err, "txid", ct.TxID, "pair", ct.Pair)
		return false
	}
	if err := c.cancelOrder(ctx, ct.TxID); err != nil {
		logger.ErrorWithErr(ctx, "Failed to cancel stop-loss after take profit", err, "txid", ct.TxID, "pair", ct.Pair)
	}
	return true
}

func triggerReason(t types.ActiveTrade, price decimal.Decimal) string {
	switch t.Side {
	case types.SideBuy:
		if price.LessThanOrEqual(t.StopLoss) {
			return ReasonStopLoss
		}
		if price.GreaterThanOrEqual(t.TakeProfit) {
			return ReasonTakeProfit
		}
	case types.SideSell:
		if price.GreaterThanOrEqual(t.StopLoss) {
			return ReasonStopLoss
		}
		if price.LessThanOrEqual(t.TakeProfit) {
			return ReasonTakeProfit
		}
	}
	return ""
}

// applyPaperPnL books realized P&L on the paper quote asset. Caller holds mu.
func (c *Client) applyPaperPnL(amount decimal.Decimal) {
	asset := "ZUSD"
	if len(c.p.Kraken.EquityAssets) > 0 {
		asset = c.p.Kraken.EquityAssets[0]
	}
	c.paper[asset] = c.paper[asset].Add(amount)
}

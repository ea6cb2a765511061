package exchangeobs

import (
	"context"

	"github.com/shopspring/decimal"

	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/trace"
	"trader-x-ai/internal/types"
)

// observableExchange wraps an Exchange with logging and tracing
type observableExchange struct {
	ex interfaces.Exchange
}

var _ interfaces.Exchange = (*observableExchange)(nil)

func Wrap(ex interfaces.Exchange) interfaces.Exchange {
	return &observableExchange{ex: ex}
}

func (o *observableExchange) StartFeed(ctx context.Context, pairs []string) error {
	logger.InfoSkip(ctx, 1, "Starting market data feed", "pairs", pairs)
	if err := o.ex.StartFeed(ctx, pairs); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to start market data feed", err, "pairs", pairs)
		return err
	}
	return nil
}

func (o *observableExchange) Balance(ctx context.Context) (map[string]decimal.Decimal, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.Balance")
	defer span.End()

	bal, err := o.ex.Balance(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch balance", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Balance fetched", "assets", len(bal))
	return bal, nil
}

func (o *observableExchange) OpenPositions(ctx context.Context) (map[string]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.OpenPositions")
	defer span.End()

	pos, err := o.ex.OpenPositions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch open positions", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Open positions fetched", "count", len(pos))
	return pos, nil
}

func (o *observableExchange) OHLC(ctx context.Context, pair string, intervalMinutes int) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.OHLC")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching OHLC", "pair", pair, "interval", intervalMinutes)
	candles, err := o.ex.OHLC(ctx, pair, intervalMinutes)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch OHLC", err, "pair", pair, "interval", intervalMinutes)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "OHLC fetched", "pair", pair, "count", len(candles))
	return candles, nil
}

func (o *observableExchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"pair", req.Pair,
		"side", string(req.Side),
		"order_type", req.OrderType,
		"volume", req.Volume.String(),
		"leverage", req.Leverage,
		"strategy", req.Strategy)

	res, err := o.ex.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Order placement failed", err, "pair", req.Pair, "side", string(req.Side))
		return res, err
	}
	return res, nil
}

func (o *observableExchange) CalculateOptimalPositionSize(ctx context.Context, pair string, riskPerTrade decimal.Decimal) (decimal.Decimal, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.CalculateOptimalPositionSize")
	defer span.End()

	size, err := o.ex.CalculateOptimalPositionSize(ctx, pair, riskPerTrade)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to size position", err, "pair", pair)
		return size, err
	}
	logger.DebugSkip(ctx, 1, "Position sized", "pair", pair, "risk", riskPerTrade.String(), "volume", size.String())
	return size, nil
}

func (o *observableExchange) LastPrice(pair string) (decimal.Decimal, bool) {
	return o.ex.LastPrice(pair)
}

func (o *observableExchange) ActiveTrades() []types.ActiveTrade {
	return o.ex.ActiveTrades()
}

func (o *observableExchange) OnTradeClosed(fn func(types.ClosedTrade)) {
	o.ex.OnTradeClosed(fn)
}

func (o *observableExchange) Close(ctx context.Context) error {
	if err := o.ex.Close(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close exchange", err)
		return err
	}
	logger.InfoSkip(ctx, 1, "Exchange closed")
	return nil
}

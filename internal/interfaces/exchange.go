package interfaces

import (
	"context"

	"trader-x-ai/internal/types"

	"github.com/shopspring/decimal"
)

type Exchange interface {
	StartFeed(ctx context.Context, pairs []string) error
	Balance(ctx context.Context) (map[string]decimal.Decimal, error)
	OpenPositions(ctx context.Context) (map[string]types.Position, error)
	OHLC(ctx context.Context, pair string, intervalMinutes int) ([]types.Candle, error)
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	CalculateOptimalPositionSize(ctx context.Context, pair string, riskPerTrade decimal.Decimal) (decimal.Decimal, error)
	LastPrice(pair string) (decimal.Decimal, bool)
	ActiveTrades() []types.ActiveTrade
	OnTradeClosed(fn func(types.ClosedTrade))
	Close(ctx context.Context) error
}

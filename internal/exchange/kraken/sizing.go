package kraken

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trader-x-ai/internal/types"
)

// CalculateOptimalPositionSize returns the base volume to trade so that
// neither max_position_size of equity nor the per-trade risk budget is
// exceeded. Zero means there is no equity to trade with.
func (c *Client) CalculateOptimalPositionSize(ctx context.Context, pair string, riskPerTrade decimal.Decimal) (decimal.Decimal, error) {
	bal, err := c.Balance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("position size for %s: %w", pair, err)
	}

	equity := Equity(bal, c.p.Kraken.EquityAssets)
	if !equity.IsPositive() {
		return decimal.Zero, nil
	}

	sl := decimal.NewFromFloat(c.p.Risk.StopLossPct)
	if !sl.IsPositive() {
		return decimal.Zero, fmt.Errorf("position size for %s: stop loss must be positive", pair)
	}
	maxPosition := equity.Mul(decimal.NewFromFloat(c.p.Risk.MaxPositionSize))
	riskBased := equity.Mul(riskPerTrade).Div(sl)
	quote := decimal.Min(maxPosition, riskBased)

	ref, err := c.referencePrice(ctx, pair, types.OrderRequest{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("position size for %s: %w", pair, err)
	}
	return quote.Div(ref).Truncate(c.p.Kraken.VolumeDecimals), nil
}

// Equity sums the balances of assets, or of every asset when none are given.
func Equity(balance map[string]decimal.Decimal, assets []string) decimal.Decimal {
	total := decimal.Zero
	if len(assets) == 0 {
		for _, v := range balance {
			total = total.Add(v)
		}
		return total
	}
	for _, a := range assets {
		total = total.Add(balance[a])
	}
	return total
}

package eod

import "github.com/shopspring/decimal"

// aggRow is the per-pair aggregate of one day's trade log.
type aggRow struct {
	Pair        string
	BuyVolume   decimal.Decimal
	BuyValue    decimal.Decimal
	SellVolume  decimal.Decimal
	SellValue   decimal.Decimal
	RealizedPnL decimal.Decimal // sum of pnl on CLOSE entries
	Trades      int
}

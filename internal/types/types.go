package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
	VWAP                        float64
	Count                       int
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PriceTick is the latest ticker state cached from the WebSocket feed.
type PriceTick struct {
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// TapeTrade is one public trade received on the trade channel.
type TapeTrade struct {
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Time      time.Time       `json:"time"`
	Side      Side            `json:"side"`
	OrderType string          `json:"order_type"`
}

type Signal struct {
	Strategy  string  `json:"strategy"`
	Direction Side    `json:"direction"`
	Strength  float64 `json:"strength"`
	Reason    string  `json:"reason"`
}

// Analysis holds every computed value for one market snapshot. Indicators
// that could not be computed are omitted rather than stored as NaN.
type Analysis struct {
	Timestamp  time.Time          `json:"timestamp"`
	Strategy   string             `json:"strategy"`
	Close      float64            `json:"close"`
	Indicators map[string]float64 `json:"indicators"`
	Patterns   map[string]bool    `json:"patterns"`
	Volatility map[string]float64 `json:"volatility"`
}

type AnalysisRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Data      Analysis  `json:"data"`
}

type Verdict struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type OrderRequest struct {
	Pair       string
	OrderType  string // market or limit
	Side       Side
	Volume     decimal.Decimal
	Price      decimal.Decimal // limit price, zero for market orders
	Leverage   int
	ReduceOnly bool
	Strategy   string
}

type OrderResult struct {
	TxIDs          []string        `json:"txid"`
	Description    string          `json:"description"`
	Simulated      bool            `json:"simulated"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
}

// ActiveTrade is an order opened by the bot whose protective levels are
// still being watched.
type ActiveTrade struct {
	TxID       string          `json:"txid"`
	Pair       string          `json:"pair"`
	Type       string          `json:"type"`
	Side       Side            `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	Price      decimal.Decimal `json:"price"`
	Leverage   int             `json:"leverage"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Strategy   string          `json:"strategy"`
	Timestamp  time.Time       `json:"timestamp"`
}

type ClosedTrade struct {
	ActiveTrade
	ExitPrice decimal.Decimal `json:"exit_price"`
	Reason    string          `json:"reason"`
	PnL       decimal.Decimal `json:"pnl"`
}

// Position mirrors an entry of Kraken's OpenPositions result.
type Position struct {
	OrderTxID string          `json:"ordertxid"`
	PosStatus string          `json:"posstatus"`
	Pair      string          `json:"pair"`
	Type      string          `json:"type"`
	OrderType string          `json:"ordertype"`
	Cost      decimal.Decimal `json:"cost"`
	Fee       decimal.Decimal `json:"fee"`
	Vol       decimal.Decimal `json:"vol"`
	VolClosed decimal.Decimal `json:"vol_closed"`
	Margin    decimal.Decimal `json:"margin"`
	Net       decimal.Decimal `json:"net,omitempty"`
}

type Headline struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at,omitempty"`
}

type BotState struct {
	PerformanceMetrics map[string]string         `json:"performance_metrics"`
	LastAnalysis       map[string]AnalysisRecord `json:"last_analysis"`
}

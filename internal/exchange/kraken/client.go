// Package kraken is the Kraken spot/margin exchange client: signed REST
// calls, a WebSocket price feed and locally watched protective levels.
package kraken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trader-x-ai/internal/api"
	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/types"
	"trader-x-ai/internal/vault"
)

const tapeSize = 500

type Params struct {
	Mode   string
	Creds  vault.Credentials
	Kraken store.KrakenConfig
	Risk   store.RiskConfig
}

type Client struct {
	p      Params
	http   *api.Client
	limit  *api.RateLimiter // private call counter
	dialer *websocket.Dialer
	retry  time.Duration
	now    func() time.Time

	nonceMu   sync.Mutex
	lastNonce int64

	mu      sync.RWMutex
	prices  map[string]types.PriceTick
	tape    map[string][]types.TapeTrade
	active  map[string]types.ActiveTrade
	closing map[string]struct{}
	paper   map[string]decimal.Decimal
	onClose func(types.ClosedTrade)

	wsMu sync.Mutex
	ws   *websocket.Conn

	feedWG    sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

var _ interfaces.Exchange = (*Client)(nil)

// New builds a client. LIVE mode requires credentials; DRY_RUN never sends
// private requests and trades against the configured paper balance.
func New(p Params) (*Client, error) {
	if p.Mode == store.ModeLive && p.Creds.Empty() {
		return nil, fmt.Errorf("kraken: missing credentials: %w", vault.ErrNoCredentials)
	}

	timeout := time.Duration(p.Kraken.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retry := time.Duration(p.Kraken.WSRetrySeconds) * time.Second
	if retry <= 0 {
		retry = 5 * time.Second
	}

	paper := make(map[string]decimal.Decimal, len(p.Kraken.PaperBalance))
	for asset, amount := range p.Kraken.PaperBalance {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("kraken: invalid paper balance for %s: %w", asset, err)
		}
		paper[asset] = d
	}

	return &Client{
		p: p,
		http: api.NewClient(
			api.WithBaseURL(p.Kraken.RestURL),
			api.WithTimeout(timeout),
			api.WithHeader("User-Agent", "trader-x-ai"),
			api.WithLogging(true),
		),
		limit: api.NewRateLimiter(p.Kraken.RateLimitBurst,
			time.Duration(p.Kraken.RateLimitIntervalMs)*time.Millisecond),
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		retry:   retry,
		now:     time.Now,
		prices:  make(map[string]types.PriceTick),
		tape:    make(map[string][]types.TapeTrade),
		active:  make(map[string]types.ActiveTrade),
		closing: make(map[string]struct{}),
		paper:   paper,
		done:    make(chan struct{}),
	}, nil
}

func (c *Client) live() bool { return c.p.Mode == store.ModeLive }

// OnTradeClosed registers the handler called once per trade whose stop
// loss or take profit was hit.
func (c *Client) OnTradeClosed(fn func(types.ClosedTrade)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *Client) LastPrice(pair string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.prices[pair]
	return t.Price, ok
}

// Trades returns a copy of the recent public trade tape for pair.
func (c *Client) Trades(pair string) []types.TapeTrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.TapeTrade(nil), c.tape[pair]...)
}

func (c *Client) ActiveTrades() []types.ActiveTrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ActiveTrade, 0, len(c.active))
	for _, t := range c.active {
		out = append(out, t)
	}
	return out
}

// Close stops the feed and waits for it to exit. Safe to call repeatedly.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wsMu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.wsMu.Unlock()
	})

	waited := make(chan struct{})
	go func() {
		c.feedWG.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("kraken: feed did not stop"), ctx.Err())
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

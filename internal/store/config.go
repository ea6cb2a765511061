package store

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ModeDryRun = "DRY_RUN"
	ModeLive   = "LIVE"

	StrategyTrendFollowing = "trend_following"
	StrategyMeanReversion  = "mean_reversion"
	StrategyBreakout       = "breakout"
)

type StrategyConfig struct {
	Type         string             `yaml:"type" json:"type"`
	RiskPerTrade string             `yaml:"risk_per_trade" json:"risk_per_trade"`
	Leverage     int                `yaml:"leverage" json:"leverage"`
	Timeframe    int                `yaml:"timeframe" json:"timeframe"` // minutes
	Indicators   map[string]float64 `yaml:"indicators" json:"indicators"`
}

// Risk returns risk_per_trade as a decimal. Validate guarantees it parses.
func (s StrategyConfig) Risk() decimal.Decimal {
	d, _ := decimal.NewFromString(s.RiskPerTrade)
	return d
}

// Param returns an indicator parameter or def when it is not configured.
func (s StrategyConfig) Param(name string, def float64) float64 {
	if v, ok := s.Indicators[name]; ok {
		return v
	}
	return def
}

type KrakenConfig struct {
	RestURL        string            `yaml:"rest_url"`
	WSURL          string            `yaml:"ws_url"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	WSRetrySeconds int               `yaml:"ws_retry_seconds"`
	PriceDecimals  map[string]int32  `yaml:"price_decimals"`
	VolumeDecimals int32             `yaml:"volume_decimals"`
	EquityAssets   []string          `yaml:"equity_assets"`
	PaperBalance   map[string]string `yaml:"paper_balance"`

	// private endpoint budget: burst calls, one regained per interval
	RateLimitBurst      int `yaml:"rate_limit_burst"`
	RateLimitIntervalMs int `yaml:"rate_limit_interval_ms"`
}

type RiskConfig struct {
	MaxPositionSize float64 `yaml:"max_position_size"`
	MaxLeverage     int     `yaml:"max_leverage"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
}

type RunnerConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	RetryBaseSeconds int `yaml:"retry_base_seconds"`
}

type ValidatorConfig struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float32 `yaml:"temperature"`
	MinConfidence float64 `yaml:"min_confidence"`
	System        string  `yaml:"system"`
}

type NewsSource struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Item      string `yaml:"item"`
	Title     string `yaml:"title"`
	Link      string `yaml:"link"`
	Published string `yaml:"published"`
}

type NewsConfig struct {
	Enabled        bool         `yaml:"enabled"`
	MaxHeadlines   int          `yaml:"max_headlines"`
	CacheMinutes   int          `yaml:"cache_minutes"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	Sources        []NewsSource `yaml:"sources"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Config struct {
	Mode           string                    `yaml:"mode"`
	Pairs          []string                  `yaml:"pairs"`
	DataDir        string                    `yaml:"data_dir"`
	MonitorSeconds int                       `yaml:"monitor_seconds"`
	Kraken         KrakenConfig              `yaml:"kraken"`
	Risk           RiskConfig                `yaml:"risk"`
	Strategies     map[string]StrategyConfig `yaml:"strategies"`
	Runner         RunnerConfig              `yaml:"runner"`
	Validator      ValidatorConfig           `yaml:"validator"`
	News           NewsConfig                `yaml:"news"`
	HTTP           HTTPConfig                `yaml:"http"`
}

// DefaultStrategies are the three built-in strategies.
func DefaultStrategies() map[string]StrategyConfig {
	return map[string]StrategyConfig{
		StrategyTrendFollowing: {
			Type:         StrategyTrendFollowing,
			RiskPerTrade: "0.01",
			Leverage:     3,
			Timeframe:    60,
			Indicators: map[string]float64{
				"sma_short":      20,
				"sma_long":       50,
				"rsi_period":     14,
				"rsi_overbought": 70,
				"rsi_oversold":   30,
			},
		},
		StrategyMeanReversion: {
			Type:         StrategyMeanReversion,
			RiskPerTrade: "0.008",
			Leverage:     2,
			Timeframe:    30,
			Indicators: map[string]float64{
				"bollinger_period": 20,
				"bollinger_std":    2,
				"rsi_period":       14,
			},
		},
		StrategyBreakout: {
			Type:         StrategyBreakout,
			RiskPerTrade: "0.012",
			Leverage:     4,
			Timeframe:    240,
			Indicators: map[string]float64{
				"atr_period":      14,
				"breakout_period": 20,
			},
		},
	}
}

// defaultModels is the model used per validator provider when none is set.
var defaultModels = map[string]string{
	"OPENAI": "gpt-4o-mini",
	"CLAUDE": "claude-3-5-haiku-latest",
}

// Default returns a configuration equivalent to an empty config.yaml.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDryRun
	}
	c.Mode = strings.ToUpper(c.Mode)
	if len(c.Pairs) == 0 {
		c.Pairs = []string{"XBT/USD", "ETH/USD"}
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.MonitorSeconds == 0 {
		c.MonitorSeconds = 300
	}

	if c.Kraken.RestURL == "" {
		c.Kraken.RestURL = "https://api.kraken.com"
	}
	if c.Kraken.WSURL == "" {
		c.Kraken.WSURL = "wss://ws.kraken.com"
	}
	if c.Kraken.TimeoutSeconds == 0 {
		c.Kraken.TimeoutSeconds = 30
	}
	if c.Kraken.WSRetrySeconds == 0 {
		c.Kraken.WSRetrySeconds = 5
	}
	if c.Kraken.VolumeDecimals == 0 {
		c.Kraken.VolumeDecimals = 8
	}
	if c.Kraken.RateLimitBurst == 0 {
		c.Kraken.RateLimitBurst = 15
	}
	if c.Kraken.RateLimitIntervalMs == 0 {
		c.Kraken.RateLimitIntervalMs = 3000
	}
	if len(c.Kraken.PaperBalance) == 0 {
		c.Kraken.PaperBalance = map[string]string{"ZUSD": "10000"}
	}

	if c.Risk.MaxPositionSize == 0 {
		c.Risk.MaxPositionSize = 0.1
	}
	if c.Risk.MaxLeverage == 0 {
		c.Risk.MaxLeverage = 5
	}
	if c.Risk.StopLossPct == 0 {
		c.Risk.StopLossPct = 0.02
	}
	if c.Risk.TakeProfitPct == 0 {
		c.Risk.TakeProfitPct = 0.06
	}

	if len(c.Strategies) == 0 {
		c.Strategies = DefaultStrategies()
	}
	for name, s := range c.Strategies {
		if s.Type == "" {
			s.Type = name
		}
		if s.Leverage == 0 {
			s.Leverage = 1
		}
		c.Strategies[name] = s
	}

	if c.Runner.MaxRetries == 0 {
		c.Runner.MaxRetries = 3
	}
	if c.Runner.RetryBaseSeconds == 0 {
		c.Runner.RetryBaseSeconds = 60
	}

	if c.Validator.Provider == "" {
		c.Validator.Provider = "NOOP"
	}
	c.Validator.Provider = strings.ToUpper(c.Validator.Provider)
	if c.Validator.Model == "" {
		c.Validator.Model = defaultModels[c.Validator.Provider]
	}
	if c.Validator.MaxTokens == 0 {
		c.Validator.MaxTokens = 200
	}
	if c.Validator.MinConfidence == 0 {
		c.Validator.MinConfidence = 0.5
	}

	if c.News.MaxHeadlines == 0 {
		c.News.MaxHeadlines = 10
	}
	if c.News.CacheMinutes == 0 {
		c.News.CacheMinutes = 30
	}
	if c.News.TimeoutSeconds == 0 {
		c.News.TimeoutSeconds = 20
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

func (c *Config) Validate() error {
	if c.Mode != ModeDryRun && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Pairs) == 0 {
		return errors.New("pairs cannot be empty")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be between 0-1, got %.4f", c.Risk.StopLossPct)
	}
	if c.Risk.MaxPositionSize <= 0 || c.Risk.MaxPositionSize > 1 {
		return fmt.Errorf("risk.max_position_size must be between 0-1, got %.4f", c.Risk.MaxPositionSize)
	}
	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be at least 1, got %d", c.Risk.MaxLeverage)
	}
	for name, s := range c.Strategies {
		switch s.Type {
		case StrategyTrendFollowing, StrategyMeanReversion, StrategyBreakout:
		default:
			return fmt.Errorf("strategy %s: unknown type '%s'", name, s.Type)
		}
		if s.Timeframe <= 0 {
			return fmt.Errorf("strategy %s: timeframe must be positive, got %d", name, s.Timeframe)
		}
		risk, err := decimal.NewFromString(s.RiskPerTrade)
		if err != nil {
			return fmt.Errorf("strategy %s: invalid risk_per_trade '%s': %w", name, s.RiskPerTrade, err)
		}
		if !risk.IsPositive() || risk.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("strategy %s: risk_per_trade must be between 0-1, got %s", name, s.RiskPerTrade)
		}
		if s.Leverage > c.Risk.MaxLeverage {
			return fmt.Errorf("strategy %s: leverage %d exceeds risk.max_leverage %d", name, s.Leverage, c.Risk.MaxLeverage)
		}
	}
	switch c.Validator.Provider {
	case "NOOP", "OPENAI", "CLAUDE":
	default:
		return fmt.Errorf("validator.provider must be 'NOOP', 'OPENAI' or 'CLAUDE', got '%s'", c.Validator.Provider)
	}
	return nil
}

// LoadConfig reads path, applies defaults and validates. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals YAML duration strings like "5m" or "30s";
// yaml.v3 can't decode those into time.Duration directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("%w: can't parse duration %q", err, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type OracleConfig struct {
	// Models are tried in order until one of them answers.
	Models  []string `yaml:"models"`
	Timeout Duration `yaml:"timeout"`
}

var _defaultModels = []string{
	"gemini-2.5-flash-lite",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-2.0-flash-lite",
	"gemini-2.0-flash",
	"gemini-1.5-flash",
}

const (
	_oracleTimeoutDefault = 30 * time.Second
)

func (c *OracleConfig) Setup() {
	if len(c.Models) == 0 {
		c.Models = _defaultModels
	}
	if c.Timeout <= 0 {
		c.Timeout = Duration(_oracleTimeoutDefault)
	}
}

type MarketDataConfig struct {
	QuoteBaseURL      string   `yaml:"quote_base_url"`
	PolymarketBaseURL string   `yaml:"polymarket_base_url"`
	Timeout           Duration `yaml:"timeout"`
}

const (
	_quoteBaseURLDefault      = "https://query1.finance.yahoo.com"
	_polymarketBaseURLDefault = "https://gamma-api.polymarket.com"
	_marketDataTimeoutDefault = 10 * time.Second
)

func (c *MarketDataConfig) Setup() error {
	if c.QuoteBaseURL == "" {
		c.QuoteBaseURL = _quoteBaseURLDefault
	}
	if c.PolymarketBaseURL == "" {
		c.PolymarketBaseURL = _polymarketBaseURLDefault
	}
	if _, err := url.Parse(c.QuoteBaseURL); err != nil {
		return fmt.Errorf("%w: invalid quote base url", err)
	}
	if _, err := url.Parse(c.PolymarketBaseURL); err != nil {
		return fmt.Errorf("%w: invalid polymarket base url", err)
	}
	if c.Timeout <= 0 {
		c.Timeout = Duration(_marketDataTimeoutDefault)
	}
	return nil
}

type UniverseConfig struct {
	Stocks []string `yaml:"stocks"`
	Crypto []string `yaml:"crypto"`
	// MaxStocksPerCycle bounds how many equities one cycle analyses,
	// current holdings are always included on top of the sample.
	MaxStocksPerCycle int `yaml:"max_stocks_per_cycle"`
	PolymarketLimit   int `yaml:"polymarket_limit"`
}

var (
	_defaultStocks = []string{
		"NVDA", "TSLA", "MSTR", "COIN", "PLTR", "AMD", "META", "GOOGL",
		"AMZN", "MSFT", "AAPL", "NFLX", "SMCI", "HOOD", "MARA", "RIOT",
		"SOFI", "PYPL", "SHOP", "UBER", "CRWD", "SNOW", "DKNG", "RBLX",
	}
	_defaultCrypto = []string{"BTC-USD", "ETH-USD", "SOL-USD", "DOGE-USD", "XRP-USD"}
)

const (
	_maxStocksPerCycleDefault = 5
	_polymarketLimitDefault   = 10
)

func (c *UniverseConfig) Setup() {
	if len(c.Stocks) == 0 {
		c.Stocks = _defaultStocks
	}
	if len(c.Crypto) == 0 {
		c.Crypto = _defaultCrypto
	}
	if c.MaxStocksPerCycle <= 0 {
		c.MaxStocksPerCycle = _maxStocksPerCycleDefault
	}
	if c.PolymarketLimit <= 0 {
		c.PolymarketLimit = _polymarketLimitDefault
	}
}

type GuardrailsConfig struct {
	// MaxPositionPct caps one asset's share of total portfolio value.
	MaxPositionPct float64 `yaml:"max_position_pct"`
	// PredictionPriceCap blocks prediction-market buys above this price.
	PredictionPriceCap float64 `yaml:"prediction_price_cap"`
	// MinTradeAmount blocks dust trades left over after position capping.
	MinTradeAmount float64 `yaml:"min_trade_amount"`
}

const (
	_maxPositionPctDefault     = 0.40
	_predictionPriceCapDefault = 0.75
	_minTradeAmountDefault     = 2.0
)

func (c *GuardrailsConfig) Setup() {
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		c.MaxPositionPct = _maxPositionPctDefault
	}
	if c.PredictionPriceCap <= 0 {
		c.PredictionPriceCap = _predictionPriceCapDefault
	}
	if c.MinTradeAmount <= 0 {
		c.MinTradeAmount = _minTradeAmountDefault
	}
}

type Config struct {
	Port           string           `yaml:"port"`
	CycleInterval  Duration         `yaml:"cycle_interval"`
	InitialCapital float64          `yaml:"initial_capital"`
	DepositAmount  float64          `yaml:"deposit_amount"`
	CORSOrigins    []string         `yaml:"cors_origins"`
	Universe       UniverseConfig   `yaml:"universe"`
	Oracle         OracleConfig     `yaml:"oracle"`
	MarketData     MarketDataConfig `yaml:"market_data"`
	Guardrails     GuardrailsConfig `yaml:"guardrails"`
}

const (
	_portDefault           = "8000"
	_cycleIntervalDefault  = 5 * time.Minute
	_initialCapitalDefault = 100.0
	_depositAmountDefault  = 1000.0
)

var _corsOriginsDefault = []string{"http://localhost:3000"}

func (c *Config) ValidateAndSetup() error {
	if c.Port == "" {
		c.Port = _portDefault
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = Duration(_cycleIntervalDefault)
	}
	if c.InitialCapital <= 0 {
		c.InitialCapital = _initialCapitalDefault
	}
	if c.DepositAmount <= 0 {
		c.DepositAmount = _depositAmountDefault
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = _corsOriginsDefault
	}

	c.Universe.Setup()
	c.Oracle.Setup()
	if err := c.MarketData.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup market data cfg", err)
	}
	c.Guardrails.Setup()

	return nil
}

func LoadConfig(filename string) (Config, error) {
	var cfg Config
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}

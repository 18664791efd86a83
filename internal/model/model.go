package model

import (
	"strings"
	"time"
)

type Action string

const (
	Buy     Action = "BUY"
	Sell    Action = "SELL"
	Hold    Action = "HOLD"
	Watch   Action = "WATCH"
	Deposit Action = "DEPOSIT"
)

func (a Action) Valid() bool {
	switch a {
	case Buy, Sell, Hold, Watch:
		return true
	}
	return false
}

// IsTrade reports whether the action mutates balance or holdings.
func (a Action) IsTrade() bool {
	return a == Buy || a == Sell
}

type AssetClass string

const (
	Stock      AssetClass = "stocks"
	Crypto     AssetClass = "crypto"
	Polymarket AssetClass = "polymarket"
)

const PolymarketPrefix = "POLY:"

// ClassOf derives the asset class from the symbol format:
// "POLY:<slug>" is a prediction market, a hyphenated pair ("BTC-USD")
// is crypto, a bare ticker is an equity. The symbol itself is kept
// verbatim everywhere, the class is only used for universe grouping.
func ClassOf(symbol string) AssetClass {
	switch {
	case strings.HasPrefix(symbol, PolymarketPrefix):
		return Polymarket
	case strings.Contains(symbol, "-"):
		return Crypto
	default:
		return Stock
	}
}

type Holding struct {
	Asset    string  `db:"asset" json:"asset"`
	Quantity float64 `db:"quantity" json:"quantity"`
	AvgPrice float64 `db:"avg_price" json:"avg_price"`
}

func (h Holding) CostValue() float64 {
	return h.Quantity * h.AvgPrice
}

type Transaction struct {
	ID        int64     `db:"id" json:"id"`
	Ts        time.Time `db:"ts" json:"timestamp"`
	Action    Action    `db:"action" json:"action"`
	Asset     string    `db:"asset" json:"asset"`
	Amount    float64   `db:"amount" json:"amount"`
	Price     float64   `db:"price" json:"price"`
	Reasoning string    `db:"reasoning" json:"reasoning"`
	Proceeds  float64   `db:"proceeds" json:"proceeds,omitempty"`
	GainPct   *float64  `db:"gain_pct" json:"gain_pct,omitempty"`
}

type ValuationPoint struct {
	Ts         time.Time `db:"ts" json:"timestamp"`
	TotalValue float64   `db:"total_value" json:"total_value"`
}

// Recommendation is the advisory gateway's parsed output for one asset.
// Amount is always a dollar size, for both buys and sells.
type Recommendation struct {
	Action    Action  `json:"action"`
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Reasoning string  `json:"reasoning"`
}

type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	PrevClose float64 `json:"prev_close"`
}

func (q Quote) ChangePct() float64 {
	if q.PrevClose == 0 {
		return 0
	}
	return (q.Price - q.PrevClose) / q.PrevClose * 100
}

type PredictionMarket struct {
	Title    string  `json:"title"`
	Slug     string  `json:"slug"`
	Volume   float64 `json:"volume"`
	Prices   string  `json:"prices"`
	YesPrice float64 `json:"yes_price"`
	Deadline string  `json:"deadline"`
}

func (m PredictionMarket) Symbol() string {
	return PolymarketPrefix + m.Slug
}

// MarketSnapshot is the per-asset market context handed to the advisory
// oracle together with the portfolio view.
type MarketSnapshot struct {
	Symbol    string
	Class     AssetClass
	Price     float64
	ChangePct float64
	Deadline  string
	Outcomes  string
	Sentiment string
}

type PortfolioView struct {
	Balance  float64   `json:"balance"`
	Holdings []Holding `json:"holdings"`
}

// InvestedValue is the cost-basis value of all holdings.
func (v PortfolioView) InvestedValue() float64 {
	var sum float64
	for _, h := range v.Holdings {
		sum += h.CostValue()
	}
	return sum
}

type Settings struct {
	Stocks     bool `json:"stocks"`
	Crypto     bool `json:"crypto"`
	Polymarket bool `json:"polymarket"`
}

func (s Settings) Enabled(class AssetClass) bool {
	switch class {
	case Stock:
		return s.Stocks
	case Crypto:
		return s.Crypto
	case Polymarket:
		return s.Polymarket
	}
	return false
}

// SettingsPatch is a partial settings update, nil fields are kept as-is.
type SettingsPatch struct {
	Stocks     *bool `json:"stocks,omitempty"`
	Crypto     *bool `json:"crypto,omitempty"`
	Polymarket *bool `json:"polymarket,omitempty"`
}

package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aifolio/invest-bot/internal/config"
	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/marketdata"
	"github.com/aifolio/invest-bot/internal/model"
	"github.com/aifolio/invest-bot/internal/portfolio"
	"github.com/aifolio/invest-bot/internal/settings"
	"github.com/aifolio/invest-bot/internal/tools"
	"github.com/google/uuid"
)

type PriceSource interface {
	GetQuote(ctx context.Context, symbol string) (model.Quote, error)
}

type MarketFeed interface {
	TopMarkets(ctx context.Context) ([]model.PredictionMarket, error)
}

type Advisor interface {
	Recommend(ctx context.Context, snap model.MarketSnapshot, view model.PortfolioView) (model.Recommendation, error)
}

type History interface {
	AppendValuationPoint(ctx context.Context, point model.ValuationPoint) error
}

var _sentiments = []string{"Bullish", "Bearish", "Volatile", "Neutral"}

// Scheduler drives analysis cycles on a fixed period and on manual
// trigger. The periodic timer and the manual trigger feed one loop
// goroutine through a single channel, so at most one cycle ever runs;
// anything arriving while a cycle is in flight is dropped, not queued.
type Scheduler struct {
	logger logger.Logger

	interval time.Duration
	universe config.UniverseConfig

	portfolio *portfolio.Portfolio
	settings  *settings.Registry
	quotes    PriceSource
	markets   MarketFeed
	advisor   Advisor
	history   History

	trigger chan struct{}
	running atomic.Bool
	cycleMu sync.Mutex

	now func() time.Time
}

func NewScheduler(
	cfg config.Config,
	p *portfolio.Portfolio,
	registry *settings.Registry,
	quotes PriceSource,
	markets MarketFeed,
	advisor Advisor,
	history History,
	logger logger.Logger,
) *Scheduler {
	return &Scheduler{
		logger:    logger,
		interval:  cfg.CycleInterval.Std(),
		universe:  cfg.Universe,
		portfolio: p,
		settings:  registry,
		quotes:    quotes,
		markets:   markets,
		advisor:   advisor,
		history:   history,
		trigger:   make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Run blocks until ctx is done, executing one cycle per tick or manual
// trigger. Ticks that piled up during a cycle collapse into none.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}

		s.RunCycle(ctx)

		// No trigger drain here: TriggerCycle refuses while a cycle
		// runs, so anything in the channel arrived after the cycle
		// finished and was acknowledged to the caller.
		select {
		case <-ticker.C:
		default:
		}
	}
}

// TriggerCycle requests an immediate cycle. It reports false when a
// cycle is already running or pending, in which case the request is
// dropped.
func (s *Scheduler) TriggerCycle() bool {
	if s.running.Load() {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Reset zeroes the whole system state. It shares the cycle mutex, so it
// waits out an in-flight cycle instead of interleaving with it.
func (s *Scheduler) Reset(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.portfolio.Reset(ctx)
}

// RunCycle executes one full analysis pass: snapshot settings, build
// the enabled universe, then per asset price -> recommendation ->
// execution. A single asset's failure is logged and skipped; the cycle
// always ends with one valuation point so history stays gap-free.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.running.Store(true)
	defer s.running.Store(false)

	cycleID := uuid.NewString()[:8]
	log := s.logger.With("cycle", cycleID)
	log.Infof("starting analysis cycle")

	prefs := s.settings.Get()
	sentiment := _sentiments[rand.IntN(len(_sentiments))]

	snaps, prices := s.buildUniverse(ctx, prefs, sentiment)
	log.Infof("analysing %d assets", len(snaps))

	for _, snap := range snaps {
		if ctx.Err() != nil {
			break
		}

		rec, err := s.advisor.Recommend(ctx, snap, s.portfolio.View())
		if err != nil {
			log.Warnf("%s: skipping %s this cycle", err, snap.Symbol)
			continue
		}

		if _, err := s.portfolio.Execute(ctx, rec); err != nil {
			log.Warnf("%s: %s %s not executed", err, rec.Action, rec.Asset)
		}
	}

	view := s.portfolio.View()
	total, missing := portfolio.ComputeTotal(view.Balance, view.Holdings, prices)
	if len(missing) > 0 {
		log.Warnf("no price for %v, valued at zero this cycle", missing)
	}

	point := model.ValuationPoint{Ts: s.now().UTC(), TotalValue: tools.RoundMoney(total)}
	if err := s.history.AppendValuationPoint(ctx, point); err != nil {
		log.Errorf("%s: can't append valuation point", err)
		return
	}
	log.Infof("cycle done, total value %.2f", point.TotalValue)
}

// buildUniverse assembles the per-asset market snapshots for this
// cycle: discovered prediction markets, the configured crypto pairs, a
// random sample of the configured equities while the US market is open,
// and always the current holdings so positions stay sellable even when
// their class is disabled for new buys.
func (s *Scheduler) buildUniverse(ctx context.Context, prefs model.Settings, sentiment string) ([]model.MarketSnapshot, map[string]float64) {
	snaps := make([]model.MarketSnapshot, 0, s.universe.PolymarketLimit+len(s.universe.Crypto)+s.universe.MaxStocksPerCycle)
	prices := make(map[string]float64)
	covered := make(map[string]bool)
	marketOpen := marketdata.USMarketOpen(s.now())

	feed := make(map[string]model.PredictionMarket)
	if prefs.Polymarket || s.holdsClass(model.Polymarket) {
		markets, err := s.markets.TopMarkets(ctx)
		if err != nil {
			s.logger.Warnf("%s: polymarket universe unavailable this cycle", err)
		}
		for _, m := range markets {
			feed[m.Symbol()] = m
		}
		if prefs.Polymarket {
			for _, m := range markets {
				snaps = append(snaps, s.predictionSnapshot(m, sentiment))
				prices[m.Symbol()] = m.YesPrice
				covered[m.Symbol()] = true
			}
		}
	}

	if prefs.Crypto {
		for _, symbol := range s.universe.Crypto {
			snap, ok := s.quoteSnapshot(ctx, symbol, sentiment)
			if !ok {
				continue
			}
			snaps = append(snaps, snap)
			prices[symbol] = snap.Price
			covered[symbol] = true
		}
	}

	if prefs.Stocks && marketOpen {
		for _, symbol := range s.sampleStocks() {
			snap, ok := s.quoteSnapshot(ctx, symbol, sentiment)
			if !ok {
				continue
			}
			snaps = append(snaps, snap)
			prices[symbol] = snap.Price
			covered[symbol] = true
		}
	}

	// Held assets are always part of the cycle so the oracle can close
	// positions, except stocks outside market hours.
	for _, h := range s.portfolio.View().Holdings {
		if covered[h.Asset] {
			continue
		}
		switch model.ClassOf(h.Asset) {
		case model.Polymarket:
			m, ok := feed[h.Asset]
			if !ok {
				s.logger.Warnf("held market %s not in feed, valuing at cost", h.Asset)
				prices[h.Asset] = h.AvgPrice
				continue
			}
			snaps = append(snaps, s.predictionSnapshot(m, sentiment))
			prices[h.Asset] = m.YesPrice
		case model.Stock:
			if !marketOpen {
				// Gated from analysis only. The position still needs a
				// price or the cycle's valuation point would drop it.
				prices[h.Asset] = s.holdingPrice(ctx, h)
				continue
			}
			fallthrough
		case model.Crypto:
			snap, ok := s.quoteSnapshot(ctx, h.Asset, sentiment)
			if !ok {
				prices[h.Asset] = h.AvgPrice
				continue
			}
			snaps = append(snaps, snap)
			prices[h.Asset] = snap.Price
		}
	}

	return snaps, prices
}

// holdingPrice values a held asset that is not analysed this cycle:
// the live quote when available, cost basis otherwise.
func (s *Scheduler) holdingPrice(ctx context.Context, h model.Holding) float64 {
	quote, err := s.quotes.GetQuote(ctx, h.Asset)
	if err != nil {
		s.logger.Warnf("%s: valuing %s at cost", err, h.Asset)
		return h.AvgPrice
	}
	return quote.Price
}

func (s *Scheduler) predictionSnapshot(m model.PredictionMarket, sentiment string) model.MarketSnapshot {
	return model.MarketSnapshot{
		Symbol:    m.Symbol(),
		Class:     model.Polymarket,
		Price:     m.YesPrice,
		Outcomes:  m.Prices,
		Deadline:  m.Deadline,
		Sentiment: sentiment,
	}
}

func (s *Scheduler) quoteSnapshot(ctx context.Context, symbol, sentiment string) (model.MarketSnapshot, bool) {
	quote, err := s.quotes.GetQuote(ctx, symbol)
	if err != nil {
		s.logger.Warnf("%s: skipping %s this cycle", err, symbol)
		return model.MarketSnapshot{}, false
	}
	return model.MarketSnapshot{
		Symbol:    symbol,
		Class:     model.ClassOf(symbol),
		Price:     quote.Price,
		ChangePct: quote.ChangePct(),
		Sentiment: sentiment,
	}, true
}

// sampleStocks picks a random subset of the configured equity universe,
// keeping the prompt context bounded per cycle.
func (s *Scheduler) sampleStocks() []string {
	pool := make([]string, len(s.universe.Stocks))
	copy(pool, s.universe.Stocks)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	if len(pool) > s.universe.MaxStocksPerCycle {
		pool = pool[:s.universe.MaxStocksPerCycle]
	}
	return pool
}

func (s *Scheduler) holdsClass(class model.AssetClass) bool {
	for _, h := range s.portfolio.View().Holdings {
		if model.ClassOf(h.Asset) == class {
			return true
		}
	}
	return false
}

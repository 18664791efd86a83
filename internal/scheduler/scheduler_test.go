package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aifolio/invest-bot/internal/config"
	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/model"
	"github.com/aifolio/invest-bot/internal/portfolio"
	"github.com/aifolio/invest-bot/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (n noopLogger) With(...interface{}) logger.Logger { return n }
func (noopLogger) Debugf(string, ...interface{})       {}
func (noopLogger) Infof(string, ...interface{})        {}
func (noopLogger) Warnf(string, ...interface{})        {}
func (noopLogger) Errorf(string, ...interface{})       {}
func (noopLogger) Fatalf(string, ...interface{})       {}
func (noopLogger) Sync() error                         { return nil }

type memStore struct {
	mu       sync.Mutex
	balance  float64
	deposits float64
	holdings map[string]model.Holding
	txs      []model.Transaction
	points   []model.ValuationPoint
}

func newMemStore(balance float64) *memStore {
	return &memStore{
		balance:  balance,
		deposits: balance,
		holdings: make(map[string]model.Holding),
	}
}

func (m *memStore) ReadAccount(context.Context) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, m.deposits, nil
}

func (m *memStore) ReadHoldings(context.Context) ([]model.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	holdings := make([]model.Holding, 0, len(m.holdings))
	for _, h := range m.holdings {
		holdings = append(holdings, h)
	}
	return holdings, nil
}

func (m *memStore) ApplyTrade(_ context.Context, balance float64, h model.Holding, removed bool, record model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
	if removed {
		delete(m.holdings, h.Asset)
	} else {
		m.holdings[h.Asset] = h
	}
	m.txs = append(m.txs, record)
	return nil
}

func (m *memStore) AppendTransaction(_ context.Context, record model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, record)
	return nil
}

func (m *memStore) Deposit(_ context.Context, amount float64, record model.Transaction, point model.ValuationPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance += amount
	m.deposits += amount
	m.txs = append(m.txs, record)
	m.points = append(m.points, point)
	return nil
}

func (m *memStore) ResetAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = 100
	m.deposits = 100
	m.holdings = make(map[string]model.Holding)
	m.txs = nil
	m.points = nil
	return nil
}

func (m *memStore) AppendValuationPoint(_ context.Context, point model.ValuationPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, point)
	return nil
}

func (m *memStore) transactions() []model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Transaction(nil), m.txs...)
}

func (m *memStore) valuationPoints() []model.ValuationPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ValuationPoint(nil), m.points...)
}

type fakeQuotes struct {
	prices map[string]float64
}

func (f *fakeQuotes) GetQuote(_ context.Context, symbol string) (model.Quote, error) {
	price, ok := f.prices[symbol]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", model.ErrPriceUnavailable, symbol)
	}
	return model.Quote{Symbol: symbol, Price: price, PrevClose: price}, nil
}

type fakeFeed struct {
	markets []model.PredictionMarket
}

func (f *fakeFeed) TopMarkets(context.Context) ([]model.PredictionMarket, error) {
	return f.markets, nil
}

type fakeAdvisor struct {
	calls     atomic.Int64
	recommend func(snap model.MarketSnapshot, view model.PortfolioView) (model.Recommendation, error)
}

func (f *fakeAdvisor) Recommend(_ context.Context, snap model.MarketSnapshot, view model.PortfolioView) (model.Recommendation, error) {
	f.calls.Add(1)
	return f.recommend(snap, view)
}

// weekday 15:00 UTC, US market open
var _openClock = func() time.Time {
	return time.Date(2026, 1, 7, 15, 0, 0, 0, time.UTC)
}

func newTestScheduler(t *testing.T, crypto []string, quotes *fakeQuotes, feed *fakeFeed, advisor *fakeAdvisor) (*Scheduler, *memStore, *settings.Registry) {
	t.Helper()

	store := newMemStore(100)
	book := portfolio.NewPortfolio(store, config.GuardrailsConfig{
		MaxPositionPct:     1.0,
		PredictionPriceCap: 0.75,
		MinTradeAmount:     2,
	}, noopLogger{})
	require.NoError(t, book.Load(context.Background()))

	cfg := config.Config{
		CycleInterval: config.Duration(time.Hour),
		Universe: config.UniverseConfig{
			Crypto:            crypto,
			Stocks:            []string{"NVDA"},
			MaxStocksPerCycle: 1,
			PolymarketLimit:   5,
		},
	}

	registry := settings.NewRegistry()
	s := NewScheduler(cfg, book, registry, quotes, feed, advisor, store, noopLogger{})
	s.now = _openClock
	return s, store, registry
}

func disableAllBut(registry *settings.Registry, class model.AssetClass) {
	f := false
	patch := model.SettingsPatch{Stocks: &f, Crypto: &f, Polymarket: &f}
	tr := true
	switch class {
	case model.Stock:
		patch.Stocks = &tr
	case model.Crypto:
		patch.Crypto = &tr
	case model.Polymarket:
		patch.Polymarket = &tr
	}
	registry.Update(patch)
}

func TestRunCycleExecutesRecommendation(t *testing.T) {
	advisor := &fakeAdvisor{recommend: func(snap model.MarketSnapshot, _ model.PortfolioView) (model.Recommendation, error) {
		return model.Recommendation{
			Action: model.Buy, Asset: snap.Symbol, Amount: 50, Price: snap.Price, Reasoning: "test buy",
		}, nil
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"BTC-USD": 100}}
	s, store, registry := newTestScheduler(t, []string{"BTC-USD"}, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Crypto)

	s.RunCycle(context.Background())

	txs := store.transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, model.Buy, txs[0].Action)
	assert.Equal(t, "BTC-USD", txs[0].Asset)

	points := store.valuationPoints()
	require.Len(t, points, 1)
	// $50 cash plus 0.5 units at $100: value unchanged at $100.
	assert.InDelta(t, 100.0, points[0].TotalValue, 1e-9)
}

func TestRunCycleContinuesAfterAdvisorFailure(t *testing.T) {
	advisor := &fakeAdvisor{recommend: func(snap model.MarketSnapshot, _ model.PortfolioView) (model.Recommendation, error) {
		if snap.Symbol == "BTC-USD" {
			return model.Recommendation{}, model.ErrOracleUnavailable
		}
		return model.Recommendation{
			Action: model.Watch, Asset: snap.Symbol, Price: snap.Price, Reasoning: "choppy",
		}, nil
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"BTC-USD": 100, "ETH-USD": 10}}
	s, store, registry := newTestScheduler(t, []string{"BTC-USD", "ETH-USD"}, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Crypto)

	s.RunCycle(context.Background())

	assert.EqualValues(t, 2, advisor.calls.Load())
	txs := store.transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, model.Watch, txs[0].Action)
	assert.Equal(t, "ETH-USD", txs[0].Asset)
	require.Len(t, store.valuationPoints(), 1)
}

func TestRunCycleAppendsPointWhenEveryAssetFails(t *testing.T) {
	advisor := &fakeAdvisor{recommend: func(model.MarketSnapshot, model.PortfolioView) (model.Recommendation, error) {
		return model.Recommendation{}, model.ErrOracleUnavailable
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"BTC-USD": 100}}
	s, store, registry := newTestScheduler(t, []string{"BTC-USD"}, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Crypto)

	s.RunCycle(context.Background())

	assert.Empty(t, store.transactions())
	points := store.valuationPoints()
	require.Len(t, points, 1)
	assert.InDelta(t, 100.0, points[0].TotalValue, 1e-9)
}

func TestRunCycleSkipsDisabledClasses(t *testing.T) {
	advisor := &fakeAdvisor{recommend: func(model.MarketSnapshot, model.PortfolioView) (model.Recommendation, error) {
		t.Fatal("advisor must not be consulted with everything disabled")
		return model.Recommendation{}, nil
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"BTC-USD": 100, "NVDA": 100}}
	s, store, registry := newTestScheduler(t, []string{"BTC-USD"}, quotes, &fakeFeed{}, advisor)
	f := false
	registry.Update(model.SettingsPatch{Stocks: &f, Crypto: &f, Polymarket: &f})

	s.RunCycle(context.Background())

	assert.EqualValues(t, 0, advisor.calls.Load())
	require.Len(t, store.valuationPoints(), 1)
}

func TestRunCycleSkipsStocksOutsideMarketHours(t *testing.T) {
	advisor := &fakeAdvisor{recommend: func(model.MarketSnapshot, model.PortfolioView) (model.Recommendation, error) {
		return model.Recommendation{}, model.ErrOracleUnavailable
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"NVDA": 100}}
	s, store, registry := newTestScheduler(t, nil, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Stock)

	// Sunday: stocks are gated even though the class is enabled.
	s.now = func() time.Time { return time.Date(2026, 1, 11, 15, 0, 0, 0, time.UTC) }
	s.RunCycle(context.Background())
	assert.EqualValues(t, 0, advisor.calls.Load())

	s.now = _openClock
	s.RunCycle(context.Background())
	assert.EqualValues(t, 1, advisor.calls.Load())

	require.Len(t, store.valuationPoints(), 2)
}

func TestRunCycleCoversPredictionMarkets(t *testing.T) {
	feed := &fakeFeed{markets: []model.PredictionMarket{{
		Title:    "Rate cut by March?",
		Slug:     "rate-cut-march",
		Prices:   "Yes: 0.40, No: 0.60",
		YesPrice: 0.40,
		Deadline: "2026-03-01",
	}}}
	advisor := &fakeAdvisor{recommend: func(snap model.MarketSnapshot, _ model.PortfolioView) (model.Recommendation, error) {
		return model.Recommendation{
			Action: model.Buy, Asset: snap.Symbol, Amount: 20, Price: snap.Price, Reasoning: "asymmetric",
		}, nil
	}}
	s, store, registry := newTestScheduler(t, nil, &fakeQuotes{}, feed, advisor)
	disableAllBut(registry, model.Polymarket)

	s.RunCycle(context.Background())

	txs := store.transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, model.Buy, txs[0].Action)
	assert.Equal(t, "POLY:rate-cut-march", txs[0].Asset)
}

func TestOvernightCycleStillValuesHeldStock(t *testing.T) {
	advisor := &fakeAdvisor{recommend: func(snap model.MarketSnapshot, _ model.PortfolioView) (model.Recommendation, error) {
		return model.Recommendation{
			Action: model.Buy, Asset: snap.Symbol, Amount: 50, Price: snap.Price, Reasoning: "momentum",
		}, nil
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"NVDA": 10}}
	s, store, registry := newTestScheduler(t, nil, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Stock)

	// Daytime cycle takes the position: $50 cash, 5 units at $10.
	s.RunCycle(context.Background())

	advisor.recommend = func(model.MarketSnapshot, model.PortfolioView) (model.Recommendation, error) {
		t.Fatal("stock analysed outside market hours")
		return model.Recommendation{}, nil
	}

	// Sunday cycle: no analysis, but the position is still priced and
	// the history point reflects the unchanged book.
	s.now = func() time.Time { return time.Date(2026, 1, 11, 15, 0, 0, 0, time.UTC) }
	s.RunCycle(context.Background())

	points := store.valuationPoints()
	require.Len(t, points, 2)
	assert.InDelta(t, 100.0, points[0].TotalValue, 1e-9)
	assert.InDelta(t, 100.0, points[1].TotalValue, 1e-9)
}

func TestOvernightCycleFallsBackToCostBasis(t *testing.T) {
	advisor := &fakeAdvisor{recommend: func(snap model.MarketSnapshot, _ model.PortfolioView) (model.Recommendation, error) {
		return model.Recommendation{
			Action: model.Buy, Asset: snap.Symbol, Amount: 50, Price: snap.Price,
		}, nil
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"NVDA": 10}}
	s, store, registry := newTestScheduler(t, nil, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Stock)

	s.RunCycle(context.Background())

	// Quote source goes dark over the weekend: the held position is
	// valued at its cost basis instead of dropping to zero.
	quotes.prices = map[string]float64{}
	s.now = func() time.Time { return time.Date(2026, 1, 11, 15, 0, 0, 0, time.UTC) }
	s.RunCycle(context.Background())

	points := store.valuationPoints()
	require.Len(t, points, 2)
	assert.InDelta(t, 100.0, points[1].TotalValue, 1e-9)
}

func TestTriggerDroppedWhileCycleRunning(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})

	advisor := &fakeAdvisor{recommend: func(snap model.MarketSnapshot, _ model.PortfolioView) (model.Recommendation, error) {
		once.Do(func() { close(entered) })
		<-release
		return model.Recommendation{Action: model.Watch, Asset: snap.Symbol, Price: snap.Price}, nil
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"BTC-USD": 100}}
	s, store, registry := newTestScheduler(t, []string{"BTC-USD"}, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Crypto)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunCycle(context.Background())
	}()

	<-entered
	assert.True(t, s.Running())
	assert.False(t, s.TriggerCycle(), "trigger while running must be dropped")

	close(release)
	<-done

	assert.False(t, s.Running())
	assert.True(t, s.TriggerCycle(), "idle scheduler must accept a trigger")

	// Exactly one cycle ran: one advisory call, one valuation point.
	assert.EqualValues(t, 1, advisor.calls.Load())
	require.Len(t, store.valuationPoints(), 1)
}

func TestTriggerAfterCycleRunsAnotherCycle(t *testing.T) {
	cycles := make(chan struct{}, 8)
	advisor := &fakeAdvisor{recommend: func(snap model.MarketSnapshot, _ model.PortfolioView) (model.Recommendation, error) {
		cycles <- struct{}{}
		return model.Recommendation{Action: model.Watch, Asset: snap.Symbol, Price: snap.Price}, nil
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"BTC-USD": 100}}
	s, store, registry := newTestScheduler(t, []string{"BTC-USD"}, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Crypto)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.True(t, s.TriggerCycle())
	waitCycle(t, cycles)

	// Once the scheduler reports idle again, an accepted trigger must
	// run a second cycle, never get silently discarded.
	require.Eventually(t, s.TriggerCycle, 2*time.Second, time.Millisecond)
	waitCycle(t, cycles)

	require.Eventually(t, func() bool {
		return len(store.valuationPoints()) >= 2
	}, 2*time.Second, time.Millisecond)
}

func waitCycle(t *testing.T, cycles <-chan struct{}) {
	t.Helper()
	select {
	case <-cycles:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle within deadline")
	}
}

func TestResetWaitsForCycle(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})

	advisor := &fakeAdvisor{recommend: func(snap model.MarketSnapshot, _ model.PortfolioView) (model.Recommendation, error) {
		once.Do(func() { close(entered) })
		<-release
		return model.Recommendation{
			Action: model.Buy, Asset: snap.Symbol, Amount: 50, Price: snap.Price,
		}, nil
	}}
	quotes := &fakeQuotes{prices: map[string]float64{"BTC-USD": 100}}
	s, store, registry := newTestScheduler(t, []string{"BTC-USD"}, quotes, &fakeFeed{}, advisor)
	disableAllBut(registry, model.Crypto)

	cycleDone := make(chan struct{})
	go func() {
		defer close(cycleDone)
		s.RunCycle(context.Background())
	}()
	<-entered

	resetDone := make(chan struct{})
	go func() {
		defer close(resetDone)
		require.NoError(t, s.Reset(context.Background()))
	}()

	// Reset must not complete while the cycle holds the exclusion scope.
	select {
	case <-resetDone:
		t.Fatal("reset interleaved with a running cycle")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-cycleDone
	<-resetDone

	// The reset ran after the cycle, leaving a clean book.
	assert.Equal(t, 100.0, s.portfolio.Balance())
	assert.Empty(t, store.transactions())
}

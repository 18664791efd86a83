package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aifolio/invest-bot/internal/config"
	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/model"
	"github.com/aifolio/invest-bot/internal/tools"
)

// Store is the durable side of the portfolio. Writes that belong to one
// logical event must be applied atomically by the implementation.
type Store interface {
	ReadAccount(ctx context.Context) (balance, totalDeposits float64, err error)
	ReadHoldings(ctx context.Context) ([]model.Holding, error)
	ApplyTrade(ctx context.Context, balance float64, h model.Holding, removed bool, record model.Transaction) error
	AppendTransaction(ctx context.Context, record model.Transaction) error
	Deposit(ctx context.Context, amount float64, record model.Transaction, point model.ValuationPoint) error
	ResetAll(ctx context.Context) error
}

// Portfolio owns the mutable process state: cash balance, holdings with
// their weighted-average cost basis and the cumulative-deposits counter.
// Every mutation goes through its mutex and is persisted before the
// in-memory state is updated, so a failed write never leaves the two
// views diverged.
type Portfolio struct {
	store  Store
	logger logger.Logger

	guardrails config.GuardrailsConfig

	mu       sync.Mutex
	balance  float64
	deposits float64
	holdings map[string]model.Holding
}

func NewPortfolio(store Store, guardrails config.GuardrailsConfig, logger logger.Logger) *Portfolio {
	return &Portfolio{
		store:      store,
		guardrails: guardrails,
		logger:     logger,
		holdings:   make(map[string]model.Holding),
	}
}

// Load rebuilds the in-memory state from the ledger.
func (p *Portfolio) Load(ctx context.Context) error {
	balance, deposits, err := p.store.ReadAccount(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't load account", err)
	}
	holdings, err := p.store.ReadHoldings(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't load holdings", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = balance
	p.deposits = deposits
	p.holdings = make(map[string]model.Holding, len(holdings))
	for _, h := range holdings {
		p.holdings[h.Asset] = h
	}
	return nil
}

func (p *Portfolio) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

func (p *Portfolio) TotalDeposits() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deposits
}

// View returns a consistent snapshot of balance and holdings, sorted by
// asset for stable output.
func (p *Portfolio) View() model.PortfolioView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

func (p *Portfolio) viewLocked() model.PortfolioView {
	holdings := make([]model.Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		holdings = append(holdings, h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Asset < holdings[j].Asset })
	return model.PortfolioView{
		Balance:  p.balance,
		Holdings: holdings,
	}
}

// Deposit credits the balance. The amount counts as contributed capital,
// not as profit: it goes into the cumulative-deposits denominator used
// by PerformancePct. The value jump is visible in the history right
// away through a valuation point written in the same transaction,
// holdings valued at cost basis.
func (p *Portfolio) Deposit(ctx context.Context, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("non-positive deposit amount %f", amount)
	}
	amount = tools.RoundMoney(amount)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	record := model.Transaction{
		Ts:        now,
		Action:    model.Deposit,
		Asset:     "USD",
		Amount:    amount,
		Price:     1,
		Reasoning: "Manual deposit",
	}
	point := model.ValuationPoint{
		Ts:         now,
		TotalValue: tools.RoundMoney(p.balance + amount + p.investedLocked()),
	}
	if err := p.store.Deposit(ctx, amount, record, point); err != nil {
		return 0, fmt.Errorf("%w: can't persist deposit", err)
	}

	p.balance = tools.RoundMoney(p.balance + amount)
	p.deposits = tools.RoundMoney(p.deposits + amount)
	p.logger.Infof("deposited %.2f, new balance %.2f", amount, p.balance)
	return p.balance, nil
}

// Reset wipes the ledger back to the initial capital and reloads state.
func (p *Portfolio) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.ResetAll(ctx); err != nil {
		return fmt.Errorf("%w: can't reset ledger", err)
	}

	balance, deposits, err := p.store.ReadAccount(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't reload account after reset", err)
	}
	p.balance = balance
	p.deposits = deposits
	p.holdings = make(map[string]model.Holding)
	return nil
}

package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/aifolio/invest-bot/internal/model"
	"github.com/aifolio/invest-bot/internal/tools"
)

// _quantityEpsilon absorbs float drift when a sell targets the full
// position and when deciding that a position is closed.
const _quantityEpsilon = 1e-6

// Execute validates a recommendation against the current balance and
// holdings and, if valid, applies it as one atomic mutation. Rejected
// trades are recorded uniformly as WATCH transactions carrying the
// rejection cause; the matching sentinel error is returned alongside so
// the cycle can log it. The balance can never go negative and a holding
// can never go negative here, whatever the oracle asked for.
func (p *Portfolio) Execute(ctx context.Context, rec model.Recommendation) (model.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec.Action.IsTrade() && rec.Price <= 0 {
		return model.Transaction{}, fmt.Errorf("%w: non-positive price %.4f for %s", model.ErrMalformedRecommendation, rec.Price, rec.Asset)
	}

	switch rec.Action {
	case model.Buy:
		return p.executeBuy(ctx, rec)
	case model.Sell:
		return p.executeSell(ctx, rec)
	case model.Hold, model.Watch:
		return p.recordAdvice(ctx, rec)
	}
	return model.Transaction{}, fmt.Errorf("%w: unknown action %q", model.ErrMalformedRecommendation, rec.Action)
}

func (p *Portfolio) executeBuy(ctx context.Context, rec model.Recommendation) (model.Transaction, error) {
	amount := tools.RoundMoney(rec.Amount)

	// Prediction-market price cap. Anything priced like a binary share
	// is held to the cap, whatever its symbol claims to be.
	isPrediction := model.ClassOf(rec.Asset) == model.Polymarket || rec.Price < 0.99
	if isPrediction && rec.Price > p.guardrails.PredictionPriceCap {
		reason := fmt.Sprintf("Blocked: price %.2f above the %.2f prediction-market cap", rec.Price, p.guardrails.PredictionPriceCap)
		return p.rejectLocked(ctx, rec, reason, nil)
	}

	if amount > p.balance {
		reason := fmt.Sprintf("Rejected: buy of %.2f exceeds balance %.2f", amount, p.balance)
		return p.rejectLocked(ctx, rec, reason, model.ErrInsufficientFunds)
	}

	// Diversification cap over cost-basis total value.
	held := p.holdings[rec.Asset]
	totalValue := p.balance + p.investedLocked()
	maxPosition := totalValue * p.guardrails.MaxPositionPct
	if held.CostValue()+amount > maxPosition {
		allowed := tools.RoundMoney(maxPosition - held.CostValue())
		if allowed < p.guardrails.MinTradeAmount {
			reason := fmt.Sprintf("Blocked: position limit reached (%.2f of max %.2f)", held.CostValue(), maxPosition)
			return p.rejectLocked(ctx, rec, reason, nil)
		}
		p.logger.Infof("capping BUY %s from %.2f to %.2f", rec.Asset, amount, allowed)
		amount = allowed
	}

	quantity := amount / rec.Price
	newQuantity := held.Quantity + quantity
	newBasis := (held.Quantity*held.AvgPrice + amount) / newQuantity

	record := model.Transaction{
		Ts:        time.Now().UTC(),
		Action:    model.Buy,
		Asset:     rec.Asset,
		Amount:    amount,
		Price:     rec.Price,
		Reasoning: rec.Reasoning,
	}
	holding := model.Holding{
		Asset:    rec.Asset,
		Quantity: newQuantity,
		AvgPrice: newBasis,
	}
	if err := p.store.ApplyTrade(ctx, tools.RoundMoney(p.balance-amount), holding, false, record); err != nil {
		return model.Transaction{}, fmt.Errorf("%w: can't persist buy", err)
	}

	p.balance = tools.RoundMoney(p.balance - amount)
	p.holdings[rec.Asset] = holding
	p.logger.Infof("executed BUY %s: $%.2f @ %.4f", rec.Asset, amount, rec.Price)
	return record, nil
}

func (p *Portfolio) executeSell(ctx context.Context, rec model.Recommendation) (model.Transaction, error) {
	held, ok := p.holdings[rec.Asset]
	if !ok {
		reason := fmt.Sprintf("Rejected: no position in %s to sell", rec.Asset)
		return p.rejectLocked(ctx, rec, reason, model.ErrInsufficientHoldings)
	}

	// SELL amount is a dollar value, converted to quantity at the
	// current execution price. A request within epsilon of the full
	// position liquidates it entirely.
	quantity := rec.Amount / rec.Price
	if quantity > held.Quantity {
		if quantity-held.Quantity > _quantityEpsilon*held.Quantity+_quantityEpsilon {
			reason := fmt.Sprintf("Rejected: sell of %.6f units exceeds held %.6f", quantity, held.Quantity)
			return p.rejectLocked(ctx, rec, reason, model.ErrInsufficientHoldings)
		}
		quantity = held.Quantity
	}

	proceeds := tools.RoundMoney(quantity * rec.Price)
	gain := 0.0
	if held.AvgPrice > 0 {
		gain = tools.RoundPct((rec.Price - held.AvgPrice) / held.AvgPrice * 100)
	}

	newQuantity := held.Quantity - quantity
	removed := newQuantity < _quantityEpsilon
	if removed {
		newQuantity = 0
	}

	record := model.Transaction{
		Ts:        time.Now().UTC(),
		Action:    model.Sell,
		Asset:     rec.Asset,
		Amount:    proceeds,
		Price:     rec.Price,
		Reasoning: rec.Reasoning,
		Proceeds:  proceeds,
		GainPct:   &gain,
	}
	holding := model.Holding{
		Asset:    rec.Asset,
		Quantity: newQuantity,
		AvgPrice: held.AvgPrice,
	}
	if err := p.store.ApplyTrade(ctx, tools.RoundMoney(p.balance+proceeds), holding, removed, record); err != nil {
		return model.Transaction{}, fmt.Errorf("%w: can't persist sell", err)
	}

	p.balance = tools.RoundMoney(p.balance + proceeds)
	if removed {
		delete(p.holdings, rec.Asset)
	} else {
		p.holdings[rec.Asset] = holding
	}
	p.logger.Infof("executed SELL %s: $%.2f @ %.4f (gain %.2f%%)", rec.Asset, proceeds, rec.Price, gain)
	return record, nil
}

// recordAdvice logs a HOLD or WATCH purely for audit visibility. A HOLD
// on an asset we don't own degrades to WATCH.
func (p *Portfolio) recordAdvice(ctx context.Context, rec model.Recommendation) (model.Transaction, error) {
	action := rec.Action
	if action == model.Hold {
		if h, ok := p.holdings[rec.Asset]; !ok || h.Quantity <= 0 {
			action = model.Watch
		}
	}

	record := model.Transaction{
		Ts:        time.Now().UTC(),
		Action:    action,
		Asset:     rec.Asset,
		Amount:    0,
		Price:     rec.Price,
		Reasoning: rec.Reasoning,
	}
	if err := p.store.AppendTransaction(ctx, record); err != nil {
		return model.Transaction{}, fmt.Errorf("%w: can't record %s", err, action)
	}
	return record, nil
}

func (p *Portfolio) rejectLocked(ctx context.Context, rec model.Recommendation, reason string, cause error) (model.Transaction, error) {
	record := model.Transaction{
		Ts:        time.Now().UTC(),
		Action:    model.Watch,
		Asset:     rec.Asset,
		Amount:    0,
		Price:     rec.Price,
		Reasoning: reason,
	}
	if err := p.store.AppendTransaction(ctx, record); err != nil {
		return model.Transaction{}, fmt.Errorf("%w: can't record rejection", err)
	}
	p.logger.Warnf("%s %s rejected: %s", rec.Action, rec.Asset, reason)
	return record, cause
}

func (p *Portfolio) investedLocked() float64 {
	var sum float64
	for _, h := range p.holdings {
		sum += h.CostValue()
	}
	return sum
}

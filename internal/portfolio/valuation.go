package portfolio

import "github.com/aifolio/invest-bot/internal/model"

// ComputeTotal values the portfolio at the given prices. A holding with
// no price contributes zero and its symbol is returned in missing so
// the caller can log the gap instead of silently mispricing it.
func ComputeTotal(balance float64, holdings []model.Holding, prices map[string]float64) (total float64, missing []string) {
	total = balance
	for _, h := range holdings {
		price, ok := prices[h.Asset]
		if !ok || price <= 0 {
			missing = append(missing, h.Asset)
			continue
		}
		total += h.Quantity * price
	}
	return total, missing
}

// PerformancePct is the net return relative to net capital contributed.
// totalDeposits includes the initial capital, so a deposit moves the
// denominator, never the numerator: fresh money is not profit.
func PerformancePct(totalValue, totalDeposits float64) float64 {
	if totalDeposits <= 0 {
		return 0
	}
	return (totalValue - totalDeposits) / totalDeposits * 100
}

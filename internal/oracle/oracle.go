package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aifolio/invest-bot/internal/config"
	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/model"
	"go.uber.org/ratelimit"
	"google.golang.org/genai"
)

// Advisor is the gateway to the external advisory oracle (Gemini). It
// renders one prompt per asset, walks the configured model fallback
// chain until a model answers, and parses the answer defensively. All
// oracle-format instability is isolated here.
type Advisor struct {
	client *genai.Client
	cfg    config.OracleConfig
	rl     ratelimit.Limiter

	logger logger.Logger
}

// NewAdvisor creates the Gemini client; the API key is taken from the
// environment (GEMINI_API_KEY).
func NewAdvisor(ctx context.Context, cfg config.OracleConfig, logger logger.Logger) (*Advisor, error) {
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: can't create genai client", err)
	}

	return &Advisor{
		client: client,
		cfg:    cfg,
		rl:     ratelimit.New(30, ratelimit.Per(1*time.Minute)),
		logger: logger,
	}, nil
}

// Recommend asks the oracle for a decision on one asset. Transport and
// quota failures across the whole fallback chain surface as
// ErrOracleUnavailable; an answer that does not decode into the closed
// recommendation schema surfaces as ErrMalformedRecommendation. Both
// are non-fatal to the cycle.
func (a *Advisor) Recommend(ctx context.Context, snap model.MarketSnapshot, view model.PortfolioView) (model.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout.Std())
	defer cancel()

	prompt := buildPrompt(snap, view)

	var lastErr error
	for _, name := range a.cfg.Models {
		a.rl.Take()

		resp, err := a.client.Models.GenerateContent(ctx, name, genai.Text(prompt), nil)
		if err != nil {
			if ctx.Err() != nil {
				return model.Recommendation{}, fmt.Errorf("%w: %s", model.ErrOracleUnavailable, ctx.Err())
			}
			a.logger.Warnf("%s: model %s failed, trying next", err, name)
			lastErr = fmt.Errorf("%w: %s: %s", model.ErrOracleUnavailable, name, err)
			continue
		}

		rec, err := ParseRecommendation(resp.Text(), snap)
		if err != nil {
			a.logger.Warnf("%s: model %s answer rejected", err, name)
			lastErr = err
			continue
		}

		a.logger.Debugf("model %s recommends %s %s", name, rec.Action, rec.Asset)
		return rec, nil
	}

	if lastErr != nil {
		return model.Recommendation{}, lastErr
	}
	return model.Recommendation{}, fmt.Errorf("%w: no models configured", model.ErrOracleUnavailable)
}

func buildPrompt(snap model.MarketSnapshot, view model.PortfolioView) string {
	var b strings.Builder

	invested := view.InvestedValue()
	total := view.Balance + invested
	cashPct := 0.0
	if total > 0 {
		cashPct = view.Balance / total * 100
	}

	fmt.Fprintf(&b, "Act as a high-stakes speculator running an aggressive paper-trading book.\n")
	fmt.Fprintf(&b, "Current date: %s\n\n", time.Now().UTC().Format("2006-01-02"))

	fmt.Fprintf(&b, "Financial overview:\n")
	fmt.Fprintf(&b, "- Total capital: $%.2f\n", total)
	fmt.Fprintf(&b, "- Cash balance: $%.2f (%.1f%% of capital)\n", view.Balance, cashPct)
	fmt.Fprintf(&b, "- Invested capital: $%.2f\n\n", invested)

	b.WriteString("Current portfolio:\n")
	if len(view.Holdings) == 0 {
		b.WriteString("None (all cash)\n")
	}
	for _, h := range view.Holdings {
		fmt.Fprintf(&b, "- %s: %.4f units @ avg price $%.4f\n", h.Asset, h.Quantity, h.AvgPrice)
	}

	fmt.Fprintf(&b, "\nMarket sentiment: %s\n\n", snap.Sentiment)

	fmt.Fprintf(&b, "Asset under analysis: %s\n", snap.Symbol)
	switch snap.Class {
	case model.Polymarket:
		fmt.Fprintf(&b, "- Prediction market, outcome prices: %s\n", snap.Outcomes)
		fmt.Fprintf(&b, "- Deadline: %s\n", snap.Deadline)
		b.WriteString("- Strategy: snipe mispriced binary events near expiry, seek asymmetry.\n")
		b.WriteString("- Only BUY when the market resolves within 7 days.\n")
	default:
		fmt.Fprintf(&b, "- Last price: $%.4f, day change %+.2f%%\n", snap.Price, snap.ChangePct)
		b.WriteString("- Strategy: high-frequency swing trading. Buy dips, ride momentum.\n")
		b.WriteString("- Target small consistent gains (2-5%), do not sit on cash.\n")
	}

	b.WriteString("\nDecide ONE action for this asset: BUY, SELL, HOLD, or WATCH.\n")
	b.WriteString("Trade in dollar amounts, never unit counts.\n")
	fmt.Fprintf(&b, "The \"asset\" field must be exactly %q.\n\n", snap.Symbol)

	b.WriteString("Strictly output valid JSON with keys:\n")
	b.WriteString(`- "action": BUY/SELL/HOLD/WATCH` + "\n")
	b.WriteString(`- "asset": string, the asset symbol above` + "\n")
	b.WriteString(`- "amount": float, USD dollars (150.0 means $150.00)` + "\n")
	b.WriteString(`- "price": float, the current market price` + "\n")
	b.WriteString(`- "reasoning": short punchy explanation, max 15 words` + "\n")

	return b.String()
}

package oracle

import (
	"fmt"
	"strings"

	"github.com/aifolio/invest-bot/internal/model"
	"github.com/bytedance/sonic"
)

type rawRecommendation struct {
	Action    string  `json:"action"`
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Reasoning string  `json:"reasoning"`
}

// ParseRecommendation decodes an oracle answer into the closed
// recommendation schema and validates it against the requested asset.
// Execution always happens at the snapshot price, the price echoed by
// the oracle is ignored.
func ParseRecommendation(text string, snap model.MarketSnapshot) (model.Recommendation, error) {
	cleaned := StripFences(text)
	if cleaned == "" {
		return model.Recommendation{}, fmt.Errorf("%w: empty answer", model.ErrMalformedRecommendation)
	}

	var raw rawRecommendation
	if err := sonic.UnmarshalString(cleaned, &raw); err != nil {
		return model.Recommendation{}, fmt.Errorf("%w: can't decode answer: %s", model.ErrMalformedRecommendation, err)
	}

	action := model.Action(strings.ToUpper(strings.TrimSpace(raw.Action)))
	if !action.Valid() {
		return model.Recommendation{}, fmt.Errorf("%w: action %q outside enumerated set", model.ErrMalformedRecommendation, raw.Action)
	}

	if raw.Asset != snap.Symbol {
		return model.Recommendation{}, fmt.Errorf("%w: asset %q does not match requested %q", model.ErrMalformedRecommendation, raw.Asset, snap.Symbol)
	}

	if action.IsTrade() && raw.Amount <= 0 {
		return model.Recommendation{}, fmt.Errorf("%w: non-positive amount %f for %s", model.ErrMalformedRecommendation, raw.Amount, action)
	}

	if snap.Price <= 0 {
		return model.Recommendation{}, fmt.Errorf("%w: no execution price for %s", model.ErrMalformedRecommendation, snap.Symbol)
	}

	return model.Recommendation{
		Action:    action,
		Asset:     raw.Asset,
		Amount:    raw.Amount,
		Price:     snap.Price,
		Reasoning: strings.TrimSpace(raw.Reasoning),
	}, nil
}

// StripFences unwraps answers the model put inside markdown code
// fences, with or without a json language tag.
func StripFences(text string) string {
	text = strings.TrimSpace(text)

	if _, after, ok := strings.Cut(text, "```json"); ok {
		if inner, _, ok := strings.Cut(after, "```"); ok {
			return strings.TrimSpace(inner)
		}
		return strings.TrimSpace(after)
	}
	if _, after, ok := strings.Cut(text, "```"); ok {
		if inner, _, ok := strings.Cut(after, "```"); ok {
			return strings.TrimSpace(inner)
		}
		return strings.TrimSpace(after)
	}
	return text
}

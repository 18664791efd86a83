package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aifolio/invest-bot/internal/config"
	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/model"
	"github.com/bytedance/sonic"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const _eventsURL = "/events"

type gammaMarket struct {
	Closed        bool   `json:"closed"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
}

type gammaEvent struct {
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	Volume  float64       `json:"volume"`
	EndDate string        `json:"endDate"`
	Markets []gammaMarket `json:"markets"`
}

// PolymarketService discovers the tradable prediction-market universe
// from the Polymarket Gamma API: a mix of the top markets by volume and
// the markets expiring soonest.
type PolymarketService struct {
	c     *resty.Client
	rl    ratelimit.Limiter
	limit int

	logger logger.Logger
}

func NewPolymarketService(cfg config.MarketDataConfig, limit int, logger logger.Logger) *PolymarketService {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.PolymarketBaseURL).
		SetTimeout(cfg.Timeout.Std())

	return &PolymarketService{
		c:      client,
		rl:     ratelimit.New(60, ratelimit.Per(1*time.Minute)),
		limit:  limit,
		logger: logger,
	}
}

func (s *PolymarketService) TopMarkets(ctx context.Context) ([]model.PredictionMarket, error) {
	seen := make(map[string]model.PredictionMarket)
	order := make([]string, 0, 2*s.limit)

	// Top by volume first, then the short-term tail sorted by deadline.
	byVolume, err := s.fetchEvents(ctx, map[string]string{"order": "volume", "ascending": "false"})
	if err != nil {
		return nil, err
	}
	s.collect(byVolume, "", seen, &order)

	endingSoon, err := s.fetchEvents(ctx, map[string]string{"order": "endDate", "ascending": "true"})
	if err != nil {
		s.logger.Warnf("%s: can't fetch short-term polymarket events", err)
	} else {
		s.collect(endingSoon, "[Short Term] ", seen, &order)
	}

	markets := make([]model.PredictionMarket, 0, len(order))
	for _, slug := range order {
		markets = append(markets, seen[slug])
	}
	return markets, nil
}

func (s *PolymarketService) fetchEvents(ctx context.Context, params map[string]string) ([]gammaEvent, error) {
	s.rl.Take()

	req := s.c.R().
		SetQueryParams(map[string]string{
			"closed": "false",
			"active": "true",
			"limit":  strconv.Itoa(s.limit),
		}).
		SetQueryParams(params).
		SetResult(&[]gammaEvent{}).
		SetContext(ctx)

	resp, err := req.Get(_eventsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't request polymarket events: %s", model.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	s.logger.Debugf("got gamma response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: polymarket events request: %s", model.ErrPriceUnavailable, resp.Status())
	}

	return *resp.Result().(*[]gammaEvent), nil
}

func (s *PolymarketService) collect(events []gammaEvent, tagPrefix string, seen map[string]model.PredictionMarket, order *[]string) {
	for _, event := range events {
		if event.Slug == "" || len(event.Markets) == 0 {
			continue
		}
		if _, ok := seen[event.Slug]; ok {
			continue
		}

		main := event.Markets[0]
		if main.Closed {
			continue
		}

		outcomes, prices, err := parseOutcomes(main)
		if err != nil {
			s.logger.Debugf("%s: skipping market %s", err, event.Slug)
			continue
		}

		pairs := make([]string, 0, len(outcomes))
		for i, out := range outcomes {
			pairs = append(pairs, fmt.Sprintf("%s: %.2f", out, prices[i]))
		}

		deadline := "Unknown"
		if event.EndDate != "" {
			deadline, _, _ = strings.Cut(event.EndDate, "T")
		}

		seen[event.Slug] = model.PredictionMarket{
			Title:    tagPrefix + event.Title,
			Slug:     event.Slug,
			Volume:   event.Volume,
			Prices:   strings.Join(pairs, ", "),
			YesPrice: prices[0],
			Deadline: deadline,
		}
		*order = append(*order, event.Slug)
	}
}

// parseOutcomes decodes the gamma API's stringified outcome arrays,
// e.g. outcomes `["Yes","No"]` and outcomePrices `["0.98","0.02"]`.
func parseOutcomes(m gammaMarket) ([]string, []float64, error) {
	var outcomes []string
	if err := sonic.UnmarshalString(m.Outcomes, &outcomes); err != nil {
		return nil, nil, fmt.Errorf("%w: can't parse outcomes", err)
	}

	var rawPrices []string
	if err := sonic.UnmarshalString(m.OutcomePrices, &rawPrices); err != nil {
		return nil, nil, fmt.Errorf("%w: can't parse outcome prices", err)
	}

	if len(outcomes) == 0 || len(outcomes) != len(rawPrices) {
		return nil, nil, fmt.Errorf("mismatched outcomes %d and prices %d", len(outcomes), len(rawPrices))
	}

	prices := make([]float64, len(rawPrices))
	for i, raw := range rawPrices {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: can't parse price %q", err, raw)
		}
		prices[i] = p
	}

	return outcomes, prices, nil
}

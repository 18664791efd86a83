package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aifolio/invest-bot/internal/config"
	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/model"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const _chartURL = "/v8/finance/chart/"

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// QuotesService fetches last price and previous close for equities and
// crypto pairs from a Yahoo-style chart endpoint.
type QuotesService struct {
	c  *resty.Client
	rl ratelimit.Limiter

	logger logger.Logger
}

func NewQuotesService(cfg config.MarketDataConfig, logger logger.Logger) *QuotesService {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.QuoteBaseURL).
		SetTimeout(cfg.Timeout.Std())

	return &QuotesService{
		c:      client,
		rl:     ratelimit.New(120, ratelimit.Per(1*time.Minute)),
		logger: logger,
	}
}

func (s *QuotesService) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	s.rl.Take()

	req := s.c.R().
		SetResult(&chartResponse{}).
		SetContext(ctx)

	resp, err := req.Get(_chartURL + url.PathEscape(symbol))
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: can't request quote for %s: %s", model.ErrPriceUnavailable, symbol, err)
	}
	defer resp.Body.Close()

	s.logger.Debugf("got quote response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	if !resp.IsSuccess() {
		return model.Quote{}, fmt.Errorf("%w: quote request for %s: %s", model.ErrPriceUnavailable, symbol, resp.Status())
	}

	chart := resp.Result().(*chartResponse)
	if chart.Chart.Error != nil {
		return model.Quote{}, fmt.Errorf("%w: quote for %s: %s", model.ErrPriceUnavailable, symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return model.Quote{}, fmt.Errorf("%w: empty quote result for %s", model.ErrPriceUnavailable, symbol)
	}

	meta := chart.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return model.Quote{}, fmt.Errorf("%w: zero price for %s", model.ErrPriceUnavailable, symbol)
	}

	return model.Quote{
		Symbol:    symbol,
		Price:     meta.RegularMarketPrice,
		PrevClose: meta.ChartPreviousClose,
	}, nil
}

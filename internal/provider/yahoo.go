package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/mscrnt/Robo-Trader/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo fetches daily bars from the public Yahoo Finance chart endpoint.
// No API key, and the most generous quota of the chain, so it goes first.
type Yahoo struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ Provider = (*Yahoo)(nil)

// NewYahoo creates a Yahoo Finance provider from config.
func NewYahoo(cfg config.Provider, logger *zap.Logger) *Yahoo {
	return &Yahoo{
		client: resty.New().
			SetBaseURL(yahooBaseURL).
			SetHeader("User-Agent", "Mozilla/5.0 (robo-trader)"),
		logger:  logger.Named("yahoo"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.Burst)),
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

// Available is always true: the chart endpoint needs no credentials.
func (y *Yahoo) Available() bool { return true }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// FetchDailyBars fetches the chart for each symbol, stopping the batch on an
// explicit 429.
func (y *Yahoo) FetchDailyBars(ctx context.Context, symbols []string, days int) (map[string][]models.PriceBar, error) {
	results := make(map[string][]models.PriceBar)

	for _, symbol := range symbols {
		if err := y.limiter.Wait(ctx); err != nil {
			return results, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		var chart yahooChart
		resp, err := y.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"interval": "1d",
				"range":    fmt.Sprintf("%dd", days),
			}).
			SetResult(&chart).
			Get("/v8/finance/chart/" + symbol)
		if err != nil {
			y.logger.Warn("Request failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			y.logger.Warn("Rate limit hit, stopping batch", zap.String("symbol", symbol))
			return results, ErrRateLimited
		}
		if resp.IsError() {
			y.logger.Warn("Unexpected status",
				zap.String("symbol", symbol), zap.Int("status", resp.StatusCode()))
			continue
		}

		if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
			y.logger.Debug("No data", zap.String("symbol", symbol))
			continue
		}
		result := chart.Chart.Result[0]
		quote := result.Indicators.Quote[0]

		// The quote arrays are parallel to the timestamps; a truncated
		// payload can leave them uneven, so only index up to the shortest.
		n := len(result.Timestamp)
		for _, l := range []int{len(quote.Open), len(quote.High), len(quote.Low), len(quote.Close), len(quote.Volume)} {
			if l < n {
				n = l
			}
		}
		if n < len(result.Timestamp) {
			y.logger.Warn("Uneven quote arrays, truncating",
				zap.String("symbol", symbol),
				zap.Int("timestamps", len(result.Timestamp)), zap.Int("usable", n))
		}

		bars := make([]models.PriceBar, 0, n)
		for i, ts := range result.Timestamp[:n] {
			if quote.Close[i] == 0 {
				continue
			}
			bars = append(bars, models.PriceBar{
				Symbol: symbol,
				Date:   dayUTC(time.Unix(ts, 0)),
				Open:   quote.Open[i],
				High:   quote.High[i],
				Low:    quote.Low[i],
				Close:  quote.Close[i],
				Volume: quote.Volume[i],
			})
		}
		if len(bars) == 0 {
			continue
		}
		results[symbol] = bars
		y.logger.Debug("Fetched bars", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	}

	return results, nil
}

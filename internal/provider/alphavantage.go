package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/mscrnt/Robo-Trader/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantage fetches daily series from alphavantage.co. The free tier
// allows only 25 calls per day, so the scheduler keeps it last in the chain
// and meters it through a persisted daily counter.
type AlphaVantage struct {
	client  *resty.Client
	apiKey  string
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ Provider = (*AlphaVantage)(nil)

// NewAlphaVantage creates an Alpha Vantage provider from config.
func NewAlphaVantage(cfg config.Provider, logger *zap.Logger) *AlphaVantage {
	return &AlphaVantage{
		client:  resty.New().SetBaseURL(alphaVantageBaseURL),
		apiKey:  cfg.APIKey,
		logger:  logger.Named("alpha_vantage"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.Burst)),
	}
}

func (a *AlphaVantage) Name() string { return "alpha_vantage" }

func (a *AlphaVantage) Available() bool { return a.apiKey != "" }

// FetchDailyBars fetches the compact daily series one symbol per call.
// Alpha Vantage reports quota exhaustion as a 200 with a "Note" or
// "Information" field instead of an HTTP error.
func (a *AlphaVantage) FetchDailyBars(ctx context.Context, symbols []string, days int) (map[string][]models.PriceBar, error) {
	if !a.Available() {
		return nil, fmt.Errorf("alpha vantage API key not configured")
	}

	results := make(map[string][]models.PriceBar)
	cutoff := dayUTC(time.Now().UTC().AddDate(0, 0, -days))

	for _, symbol := range symbols {
		if err := a.limiter.Wait(ctx); err != nil {
			return results, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"function":   "TIME_SERIES_DAILY",
				"symbol":     symbol,
				"apikey":     a.apiKey,
				"outputsize": "compact",
			}).
			Get("/query")
		if err != nil {
			a.logger.Warn("Request failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			a.logger.Warn("Rate limit hit, stopping batch", zap.String("symbol", symbol))
			return results, ErrRateLimited
		}
		if resp.IsError() {
			a.logger.Warn("Unexpected status",
				zap.String("symbol", symbol), zap.Int("status", resp.StatusCode()))
			continue
		}

		var payload struct {
			Note        string                       `json:"Note"`
			Information string                       `json:"Information"`
			Series      map[string]map[string]string `json:"Time Series (Daily)"`
		}
		if err := json.Unmarshal(resp.Body(), &payload); err != nil {
			a.logger.Warn("Could not decode response", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if payload.Note != "" || payload.Information != "" {
			// Quota message in a 200 body. Stop wasting calls.
			a.logger.Warn("Quota exceeded, stopping batch", zap.String("symbol", symbol))
			return results, ErrRateLimited
		}
		if len(payload.Series) == 0 {
			a.logger.Debug("No data", zap.String("symbol", symbol))
			continue
		}

		bars := make([]models.PriceBar, 0, len(payload.Series))
		for dateStr, values := range payload.Series {
			date, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				continue
			}
			date = dayUTC(date)
			if date.Before(cutoff) {
				continue
			}
			bars = append(bars, models.PriceBar{
				Symbol: symbol,
				Date:   date,
				Open:   parseFloat(values["1. open"]),
				High:   parseFloat(values["2. high"]),
				Low:    parseFloat(values["3. low"]),
				Close:  parseFloat(values["4. close"]),
				Volume: int64(parseFloat(values["5. volume"])),
			})
		}
		if len(bars) == 0 {
			continue
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		results[symbol] = bars
		a.logger.Debug("Fetched bars", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	}

	return results, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

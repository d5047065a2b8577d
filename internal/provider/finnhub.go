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

const finnhubBaseURL = "https://finnhub.io/api/v1"

// Finnhub fetches daily candles from finnhub.io. Free tier allows 30 calls
// per second, which makes it a good second line behind Yahoo.
type Finnhub struct {
	client  *resty.Client
	apiKey  string
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ Provider = (*Finnhub)(nil)

// NewFinnhub creates a Finnhub provider from config.
func NewFinnhub(cfg config.Provider, logger *zap.Logger) *Finnhub {
	return &Finnhub{
		client:  resty.New().SetBaseURL(finnhubBaseURL),
		apiKey:  cfg.APIKey,
		logger:  logger.Named("finnhub"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.Burst)),
	}
}

func (f *Finnhub) Name() string { return "finnhub" }

func (f *Finnhub) Available() bool { return f.apiKey != "" }

// finnhubCandles is the /stock/candle response: parallel arrays plus a
// status string ("ok" or "no_data").
type finnhubCandles struct {
	Status  string    `json:"s"`
	Times   []int64   `json:"t"`
	Opens   []float64 `json:"o"`
	Highs   []float64 `json:"h"`
	Lows    []float64 `json:"l"`
	Closes  []float64 `json:"c"`
	Volumes []float64 `json:"v"`
}

// FetchDailyBars fetches candles one symbol per call. On a 429 it stops the
// batch and reports ErrRateLimited with whatever it already fetched.
func (f *Finnhub) FetchDailyBars(ctx context.Context, symbols []string, days int) (map[string][]models.PriceBar, error) {
	if !f.Available() {
		return nil, fmt.Errorf("finnhub API key not configured")
	}

	results := make(map[string][]models.PriceBar)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	for _, symbol := range symbols {
		if err := f.limiter.Wait(ctx); err != nil {
			return results, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		var candles finnhubCandles
		resp, err := f.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":     symbol,
				"resolution": "D",
				"from":       fmt.Sprintf("%d", start.Unix()),
				"to":         fmt.Sprintf("%d", end.Unix()),
				"token":      f.apiKey,
			}).
			SetResult(&candles).
			Get("/stock/candle")
		if err != nil {
			f.logger.Warn("Request failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		switch {
		case resp.StatusCode() == http.StatusTooManyRequests:
			f.logger.Warn("Rate limit hit, stopping batch", zap.String("symbol", symbol))
			return results, ErrRateLimited
		case resp.StatusCode() == http.StatusForbidden:
			// Key invalid or monthly quota burned. Same treatment.
			f.logger.Warn("Forbidden, stopping batch", zap.String("symbol", symbol))
			return results, ErrRateLimited
		case resp.IsError():
			f.logger.Warn("Unexpected status",
				zap.String("symbol", symbol), zap.Int("status", resp.StatusCode()))
			continue
		}

		if candles.Status != "ok" || len(candles.Closes) == 0 {
			f.logger.Debug("No data", zap.String("symbol", symbol))
			continue
		}

		// The arrays are parallel; a truncated payload can leave them
		// uneven, so only index up to the shortest one.
		n := len(candles.Closes)
		for _, l := range []int{len(candles.Times), len(candles.Opens), len(candles.Highs), len(candles.Lows), len(candles.Volumes)} {
			if l < n {
				n = l
			}
		}
		if n < len(candles.Closes) {
			f.logger.Warn("Uneven candle arrays, truncating",
				zap.String("symbol", symbol),
				zap.Int("closes", len(candles.Closes)), zap.Int("usable", n))
		}
		if n == 0 {
			continue
		}

		bars := make([]models.PriceBar, 0, n)
		for i := 0; i < n; i++ {
			bars = append(bars, models.PriceBar{
				Symbol: symbol,
				Date:   dayUTC(time.Unix(candles.Times[i], 0)),
				Open:   candles.Opens[i],
				High:   candles.Highs[i],
				Low:    candles.Lows[i],
				Close:  candles.Closes[i],
				Volume: int64(candles.Volumes[i]),
			})
		}
		results[symbol] = bars
		f.logger.Debug("Fetched bars", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	}

	return results, nil
}

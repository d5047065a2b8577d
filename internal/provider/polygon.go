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

const polygonBaseURL = "https://api.polygon.io"

// Polygon fetches daily aggregates from polygon.io. The free tier allows
// 5 calls per minute; the limiter enforces that pace between calls.
type Polygon struct {
	client  *resty.Client
	apiKey  string
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ Provider = (*Polygon)(nil)

// NewPolygon creates a Polygon provider from config.
func NewPolygon(cfg config.Provider, logger *zap.Logger) *Polygon {
	return &Polygon{
		client:  resty.New().SetBaseURL(polygonBaseURL),
		apiKey:  cfg.APIKey,
		logger:  logger.Named("polygon"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.Burst)),
	}
}

func (p *Polygon) Name() string { return "polygon" }

func (p *Polygon) Available() bool { return p.apiKey != "" }

type polygonAggs struct {
	Status  string `json:"status"`
	Results []struct {
		Time   int64   `json:"t"` // milliseconds
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
	} `json:"results"`
}

// FetchDailyBars fetches aggregates one symbol per call, stopping the batch
// on an explicit rate-limit response.
func (p *Polygon) FetchDailyBars(ctx context.Context, symbols []string, days int) (map[string][]models.PriceBar, error) {
	if !p.Available() {
		return nil, fmt.Errorf("polygon API key not configured")
	}

	results := make(map[string][]models.PriceBar)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	for _, symbol := range symbols {
		if err := p.limiter.Wait(ctx); err != nil {
			return results, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		var aggs polygonAggs
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"adjusted": "true",
				"sort":     "asc",
				"apiKey":   p.apiKey,
			}).
			SetResult(&aggs).
			Get(fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s",
				symbol, start.Format("2006-01-02"), end.Format("2006-01-02")))
		if err != nil {
			p.logger.Warn("Request failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			p.logger.Warn("Rate limit hit, stopping batch", zap.String("symbol", symbol))
			return results, ErrRateLimited
		}
		if resp.IsError() {
			p.logger.Warn("Unexpected status",
				zap.String("symbol", symbol), zap.Int("status", resp.StatusCode()))
			continue
		}
		if len(aggs.Results) == 0 {
			p.logger.Debug("No data", zap.String("symbol", symbol))
			continue
		}

		bars := make([]models.PriceBar, 0, len(aggs.Results))
		for _, r := range aggs.Results {
			bars = append(bars, models.PriceBar{
				Symbol: symbol,
				Date:   dayUTC(time.UnixMilli(r.Time)),
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: int64(r.Volume),
			})
		}
		results[symbol] = bars
		p.logger.Debug("Fetched bars", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	}

	return results, nil
}

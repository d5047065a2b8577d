// Package broker is the REST client for the Alpaca-style brokerage API:
// account snapshot, positions, order submission and order status.
package broker

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/mscrnt/Robo-Trader/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	paperBaseURL = "https://paper-api.alpaca.markets"
	liveBaseURL  = "https://api.alpaca.markets"

	// liveConfirmPhrase must be configured verbatim before the client will
	// talk to the live endpoint.
	liveConfirmPhrase = "I_UNDERSTAND_THE_RISKS"
)

// Account is the broker's account snapshot. It is fetched fresh each run
// and never cached across runs.
type Account struct {
	Equity     float64
	Cash       float64
	LastEquity float64
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol      string
	Side        string
	Qty         int
	Type        string
	LimitPrice  float64
	StopPrice   float64
	TimeInForce string
}

// OrderReceipt is the broker's view of a submitted order.
type OrderReceipt struct {
	ID             string
	Symbol         string
	Side           string
	Status         string
	Qty            int
	FilledQty      int
	FilledAvgPrice float64
	SubmittedAt    time.Time
}

// Client is the brokerage capability the pipeline consumes.
type Client interface {
	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error)
	GetOrder(ctx context.Context, orderID string) (OrderReceipt, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// RestClient is the resty-backed implementation of Client.
type RestClient struct {
	client  *resty.Client
	mode    string
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ Client = (*RestClient)(nil)

// NewRestClient creates a broker client. Live trading requires both the
// enable flag and the confirmation phrase; anything less falls back to the
// paper endpoint.
func NewRestClient(cfg *config.Broker, requestedMode string, logger *zap.Logger) (*RestClient, error) {
	if cfg.KeyID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("broker credentials not configured")
	}

	mode := requestedMode
	if mode == "live" && !(cfg.LiveTradingEnabled && cfg.LiveConfirmPhrase == liveConfirmPhrase) {
		logger.Warn("Live trading requested but not properly confirmed, falling back to paper")
		mode = "paper"
	}

	url := paperBaseURL
	if mode == "live" {
		url = liveBaseURL
		logger.Warn("Using LIVE brokerage endpoint")
	} else {
		logger.Info("Using paper brokerage endpoint")
	}

	client := resty.New().
		SetBaseURL(url).
		SetHeader("APCA-API-KEY-ID", cfg.KeyID).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)

	return &RestClient{
		client:  client,
		mode:    mode,
		logger:  logger.Named("broker"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
	}, nil
}

// Mode reports which endpoint the client actually ended up on.
func (c *RestClient) Mode() string { return c.mode }

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// accountResponse is /v2/account; numeric fields arrive as strings.
type accountResponse struct {
	Equity     string `json:"equity"`
	Cash       string `json:"cash"`
	LastEquity string `json:"last_equity"`
}

// GetAccount fetches the current account snapshot.
func (c *RestClient) GetAccount(ctx context.Context) (Account, error) {
	req := c.client.R().SetContext(ctx).SetResult(&accountResponse{})

	resp, err := c.doRequest(ctx, "GET", "/v2/account", req)
	if err != nil {
		return Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	raw := resp.Result().(*accountResponse)
	return Account{
		Equity:     parseFloat(raw.Equity),
		Cash:       parseFloat(raw.Cash),
		LastEquity: parseFloat(raw.LastEquity),
	}, nil
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

// GetPositions fetches all open positions.
func (c *RestClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	var raw []positionResponse
	req := c.client.R().SetContext(ctx).SetResult(&raw)

	resp, err := c.doRequest(ctx, "GET", "/v2/positions", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	result := resp.Result().(*[]positionResponse)
	positions := make([]models.Position, 0, len(*result))
	now := time.Now().UTC()
	for _, p := range *result {
		qty, _ := strconv.Atoi(p.Qty)
		positions = append(positions, models.Position{
			Symbol:        p.Symbol,
			Qty:           qty,
			AvgEntryPrice: parseFloat(p.AvgEntryPrice),
			MarketValue:   parseFloat(p.MarketValue),
			UnrealizedPL:  parseFloat(p.UnrealizedPL),
			UpdatedAt:     now,
		})
	}
	return positions, nil
}

type orderResponse struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	SubmittedAt    string `json:"submitted_at"`
}

func (r *orderResponse) receipt() OrderReceipt {
	qty, _ := strconv.Atoi(r.Qty)
	filled, _ := strconv.Atoi(r.FilledQty)
	submitted, _ := time.Parse(time.RFC3339, r.SubmittedAt)
	return OrderReceipt{
		ID:             r.ID,
		Symbol:         r.Symbol,
		Side:           r.Side,
		Status:         r.Status,
		Qty:            qty,
		FilledQty:      filled,
		FilledAvgPrice: parseFloat(r.FilledAvgPrice),
		SubmittedAt:    submitted,
	}
}

// PlaceOrder submits a new order.
func (c *RestClient) PlaceOrder(ctx context.Context, order OrderRequest) (OrderReceipt, error) {
	tif := order.TimeInForce
	if tif == "" {
		tif = "day"
	}
	body := map[string]any{
		"symbol":        order.Symbol,
		"side":          order.Side,
		"qty":           strconv.Itoa(order.Qty),
		"type":          order.Type,
		"time_in_force": tif,
	}
	if order.LimitPrice > 0 {
		body["limit_price"] = fmt.Sprintf("%.2f", order.LimitPrice)
	}
	if order.StopPrice > 0 {
		body["stop_price"] = fmt.Sprintf("%.2f", order.StopPrice)
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&orderResponse{})

	resp, err := c.doRequest(ctx, "POST", "/v2/orders", req)
	if err != nil {
		c.logger.Error("Failed to place order",
			zap.String("symbol", order.Symbol), zap.Error(err))
		return OrderReceipt{}, fmt.Errorf("failed to place order for %s: %w", order.Symbol, err)
	}

	receipt := resp.Result().(*orderResponse).receipt()
	c.logger.Info("Order submitted",
		zap.String("symbol", receipt.Symbol),
		zap.String("order_id", receipt.ID),
		zap.String("status", receipt.Status))
	return receipt, nil
}

// GetOrder fetches a single order's current state.
func (c *RestClient) GetOrder(ctx context.Context, orderID string) (OrderReceipt, error) {
	req := c.client.R().SetContext(ctx).SetResult(&orderResponse{})

	resp, err := c.doRequest(ctx, "GET", "/v2/orders/"+orderID, req)
	if err != nil {
		return OrderReceipt{}, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	return resp.Result().(*orderResponse).receipt(), nil
}

// CancelOrder cancels an open order.
func (c *RestClient) CancelOrder(ctx context.Context, orderID string) error {
	req := c.client.R().SetContext(ctx)

	if _, err := c.doRequest(ctx, "DELETE", "/v2/orders/"+orderID, req); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	c.logger.Info("Order cancelled", zap.String("order_id", orderID))
	return nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

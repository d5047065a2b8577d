package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	rc := &RestClient{
		client:  resty.New().SetBaseURL(server.URL),
		mode:    "paper",
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}
	return rc, server
}

func TestNewRestClient(t *testing.T) {
	t.Run("MissingCredentials", func(t *testing.T) {
		_, err := NewRestClient(&config.Broker{}, "paper", zap.NewNop())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "credentials")
	})

	t.Run("LiveWithoutConfirmationFallsBackToPaper", func(t *testing.T) {
		cfg := &config.Broker{
			KeyID:              "key",
			SecretKey:          "secret",
			LiveTradingEnabled: true, // phrase missing
			RateLimit:          3,
			RateLimitBurst:     5,
		}

		rc, err := NewRestClient(cfg, "live", zap.NewNop())

		assert.NoError(t, err)
		assert.Equal(t, "paper", rc.Mode())
	})

	t.Run("LiveFullyConfirmed", func(t *testing.T) {
		cfg := &config.Broker{
			KeyID:              "key",
			SecretKey:          "secret",
			LiveTradingEnabled: true,
			LiveConfirmPhrase:  "I_UNDERSTAND_THE_RISKS",
			RateLimit:          3,
			RateLimitBurst:     5,
		}

		rc, err := NewRestClient(cfg, "live", zap.NewNop())

		assert.NoError(t, err)
		assert.Equal(t, "live", rc.Mode())
	})
}

func TestGetAccount(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange: numeric fields arrive as strings.
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/account", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"equity": "100000.50", "cash": "25000", "last_equity": "99500.25"}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		acct, err := rc.GetAccount(context.Background())

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, 100000.50, acct.Equity)
		assert.Equal(t, 25000.0, acct.Cash)
		assert.Equal(t, 99500.25, acct.LastEquity)
	})

	t.Run("RetriesOnTooManyRequests", func(t *testing.T) {
		// Arrange: first attempt throttled, second succeeds.
		attempts := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"equity": "100000", "cash": "100000", "last_equity": "100000"}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		acct, err := rc.GetAccount(context.Background())

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, 100000.0, acct.Equity)
	})

	t.Run("ClientErrorDoesNotRetry", func(t *testing.T) {
		// Arrange
		attempts := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message": "forbidden"}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		_, err := rc.GetAccount(context.Background())

		// Assert: a 4xx other than 429 fails immediately.
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})
}

func TestGetPositions(t *testing.T) {
	// Arrange
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/positions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"symbol": "AAPL", "qty": "16", "avg_entry_price": "100.50", "market_value": "1620.00", "unrealized_pl": "12.00"},
			{"symbol": "MSFT", "qty": "-5", "avg_entry_price": "400", "market_value": "-2010.00", "unrealized_pl": "-10.00"}
		]`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	// Act
	positions, err := rc.GetPositions(context.Background())

	// Assert
	assert.NoError(t, err)
	assert.Len(t, positions, 2)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, 16, positions[0].Qty)
	assert.Equal(t, 100.50, positions[0].AvgEntryPrice)
	assert.Equal(t, -5, positions[1].Qty)
	assert.Equal(t, -2010.00, positions[1].MarketValue)
}

func TestPlaceOrder(t *testing.T) {
	// Arrange
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "ord-1", "symbol": "AAPL", "side": "buy", "status": "accepted",
			"qty": "16", "filled_qty": "0", "filled_avg_price": "",
			"submitted_at": "2025-06-02T14:30:00Z"
		}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	// Act
	receipt, err := rc.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 16, Type: "market",
	})

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "ord-1", receipt.ID)
	assert.Equal(t, "accepted", receipt.Status)
	assert.Equal(t, 16, receipt.Qty)
	assert.Equal(t, 0, receipt.FilledQty)
	assert.Equal(t, 2025, receipt.SubmittedAt.Year())
}

func TestGetOrder(t *testing.T) {
	// Arrange
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders/ord-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "ord-1", "symbol": "AAPL", "side": "buy", "status": "filled",
			"qty": "16", "filled_qty": "16", "filled_avg_price": "100.25",
			"submitted_at": "2025-06-02T14:30:00Z"
		}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	// Act
	receipt, err := rc.GetOrder(context.Background(), "ord-1")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "filled", receipt.Status)
	assert.Equal(t, 16, receipt.FilledQty)
	assert.Equal(t, 100.25, receipt.FilledAvgPrice)
}

func TestCancelOrder(t *testing.T) {
	// Arrange
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/v2/orders/ord-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	// Act
	err := rc.CancelOrder(context.Background(), "ord-1")

	// Assert
	assert.NoError(t, err)
}

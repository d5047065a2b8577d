package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupFinnhub creates a test server and a Finnhub client pointed at it.
func setupFinnhub(handler http.Handler) (*Finnhub, *httptest.Server) {
	server := httptest.NewServer(handler)

	f := &Finnhub{
		client:  resty.New().SetBaseURL(server.URL),
		apiKey:  "test_api_key",
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}
	return f, server
}

func TestFinnhub_FetchDailyBars(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/stock/candle", r.URL.Path)
			assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
			assert.Equal(t, "D", r.URL.Query().Get("resolution"))
			assert.Equal(t, "test_api_key", r.URL.Query().Get("token"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"s": "ok",
				"t": [1748822400, 1748908800],
				"o": [100.0, 101.5],
				"h": [102.0, 103.0],
				"l": [99.0, 100.5],
				"c": [101.5, 102.5],
				"v": [1000000, 1200000]
			}`))
		})
		f, server := setupFinnhub(handler)
		defer server.Close()

		// Act
		results, err := f.FetchDailyBars(context.Background(), []string{"AAPL"}, 30)

		// Assert
		assert.NoError(t, err)
		assert.Len(t, results["AAPL"], 2)
		assert.Equal(t, 101.5, results["AAPL"][0].Close)
		assert.Equal(t, int64(1200000), results["AAPL"][1].Volume)
		// Bar timestamps are normalized to midnight UTC.
		assert.Equal(t, 0, results["AAPL"][0].Date.Hour())
	})

	t.Run("RateLimitKeepsPartialResults", func(t *testing.T) {
		// Arrange: first symbol succeeds, second gets throttled.
		calls := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls > 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"s": "ok", "t": [1748822400], "o": [100], "h": [101], "l": [99], "c": [100.5], "v": [500]}`))
		})
		f, server := setupFinnhub(handler)
		defer server.Close()

		// Act
		results, err := f.FetchDailyBars(context.Background(), []string{"AAPL", "MSFT"}, 30)

		// Assert
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Len(t, results, 1)
		assert.Contains(t, results, "AAPL")
	})

	t.Run("UnevenArraysAreTruncatedNotFatal", func(t *testing.T) {
		// Arrange: two closes but only one entry in the other arrays.
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"s": "ok",
				"t": [1748822400],
				"o": [100.0],
				"h": [102.0],
				"l": [99.0],
				"c": [101.0, 102.0],
				"v": [1000000]
			}`))
		})
		f, server := setupFinnhub(handler)
		defer server.Close()

		// Act
		results, err := f.FetchDailyBars(context.Background(), []string{"AAPL"}, 30)

		// Assert: the usable prefix survives, nothing panics.
		assert.NoError(t, err)
		assert.Len(t, results["AAPL"], 1)
		assert.Equal(t, 101.0, results["AAPL"][0].Close)
	})

	t.Run("NoDataSkipsSymbol", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"s": "no_data"}`))
		})
		f, server := setupFinnhub(handler)
		defer server.Close()

		// Act
		results, err := f.FetchDailyBars(context.Background(), []string{"DELISTED"}, 30)

		// Assert
		assert.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("NotConfigured", func(t *testing.T) {
		f := &Finnhub{apiKey: "", logger: zap.NewNop()}

		_, err := f.FetchDailyBars(context.Background(), []string{"AAPL"}, 30)

		assert.Error(t, err)
	})
}

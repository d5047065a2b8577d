package store

import (
	"testing"
	"time"

	"github.com/mscrnt/Robo-Trader/internal/database"
	"github.com/mscrnt/Robo-Trader/internal/models"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupStore creates a fresh in-memory database for each test.
func setupStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, database.AutoMigrate(db))
	return New(db)
}

func TestUpsertPriceBars_LastWriteWins(t *testing.T) {
	s := setupStore(t)
	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	err := s.UpsertPriceBars([]models.PriceBar{
		{Symbol: "AAPL", Date: date, Open: 100, High: 105, Low: 99, Close: 101, Volume: 1000},
	})
	assert.NoError(t, err)

	// Refetching the same bar must overwrite, not duplicate.
	err = s.UpsertPriceBars([]models.PriceBar{
		{Symbol: "AAPL", Date: date, Open: 100, High: 106, Low: 99, Close: 102, Volume: 2000},
	})
	assert.NoError(t, err)

	bars, err := s.PriceHistory("AAPL", date.AddDate(0, 0, -1))
	assert.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 102.0, bars[0].Close)
	assert.Equal(t, int64(2000), bars[0].Volume)
}

func TestPriceHistory_OrderedAndFiltered(t *testing.T) {
	s := setupStore(t)
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	bars := []models.PriceBar{
		{Symbol: "AAPL", Date: base.AddDate(0, 0, 2), Close: 103},
		{Symbol: "AAPL", Date: base, Close: 101},
		{Symbol: "AAPL", Date: base.AddDate(0, 0, 1), Close: 102},
		{Symbol: "MSFT", Date: base, Close: 400},
	}
	assert.NoError(t, s.UpsertPriceBars(bars))

	got, err := s.PriceHistory("AAPL", base.AddDate(0, 0, 1))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 102.0, got[0].Close)
	assert.Equal(t, 103.0, got[1].Close)
}

func TestLatestClose(t *testing.T) {
	s := setupStore(t)
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, s.UpsertPriceBars([]models.PriceBar{
		{Symbol: "AAPL", Date: base, Close: 101},
		{Symbol: "AAPL", Date: base.AddDate(0, 0, 1), Close: 105},
	}))

	price, err := s.LatestClose("AAPL")
	assert.NoError(t, err)
	assert.Equal(t, 105.0, price)

	_, err = s.LatestClose("UNKNOWN")
	assert.Error(t, err)
}

func TestTradePlan_RoundTrip(t *testing.T) {
	s := setupStore(t)

	plan := &models.TradePlan{
		PlanDate: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		Mode:     "paper",
		Universe: []string{"AAPL", "MSFT"},
		Orders: []models.PlanOrder{
			{Symbol: "AAPL", Side: "buy", Qty: 16, Type: "market", Price: 100, StopLoss: 95, TakeProfit: 115, Confidence: 0.72},
		},
		RiskMetrics: models.RiskMetrics{GrossExposure: 0.016, PositionCount: 1},
		Notes:       "generated 1 orders from 2 signals",
	}
	assert.NoError(t, s.SaveTradePlan(plan))
	assert.NotZero(t, plan.ID)

	// The reloaded plan must be byte-for-byte the same decision record.
	loaded, err := s.GetTradePlan(plan.ID)
	assert.NoError(t, err)
	assert.Equal(t, plan.Universe, loaded.Universe)
	assert.Equal(t, plan.Orders, loaded.Orders)
	assert.Equal(t, plan.RiskMetrics, loaded.RiskMetrics)
	assert.Equal(t, "paper", loaded.Mode)
	assert.False(t, loaded.Executed)
}

func TestMarkPlanExecuted_LeavesOrdersUntouched(t *testing.T) {
	s := setupStore(t)

	plan := &models.TradePlan{
		PlanDate: time.Now().UTC(),
		Mode:     "paper",
		Orders:   []models.PlanOrder{{Symbol: "AAPL", Side: "buy", Qty: 16, Price: 100}},
	}
	assert.NoError(t, s.SaveTradePlan(plan))
	assert.NoError(t, s.MarkPlanExecuted(plan.ID, true))

	loaded, err := s.GetTradePlan(plan.ID)
	assert.NoError(t, err)
	assert.True(t, loaded.Executed)
	assert.Equal(t, plan.Orders, loaded.Orders)
}

func TestOpenOrders_FiltersTerminalStates(t *testing.T) {
	s := setupStore(t)

	assert.NoError(t, s.SaveOrder(&models.Order{OrderID: "o1", Symbol: "AAPL", Status: "new"}))
	assert.NoError(t, s.SaveOrder(&models.Order{OrderID: "o2", Symbol: "MSFT", Status: "filled"}))
	assert.NoError(t, s.SaveOrder(&models.Order{OrderID: "o3", Symbol: "NVDA", Status: "partially_filled"}))

	open, err := s.OpenOrders()
	assert.NoError(t, err)
	assert.Len(t, open, 2)

	assert.NoError(t, s.UpdateOrderStatus("o1", "filled", 16, 100.5))
	open, err = s.OpenOrders()
	assert.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Equal(t, "o3", open[0].OrderID)
}

func TestReplacePositions(t *testing.T) {
	s := setupStore(t)

	assert.NoError(t, s.ReplacePositions([]models.Position{
		{Symbol: "AAPL", Qty: 10, MarketValue: 1000},
		{Symbol: "MSFT", Qty: 5, MarketValue: 2000},
	}))
	assert.NoError(t, s.ReplacePositions([]models.Position{
		{Symbol: "NVDA", Qty: 3, MarketValue: 3000},
	}))

	positions, err := s.Positions()
	assert.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.Equal(t, "NVDA", positions[0].Symbol)
}

func TestProviderState_RoundTrip(t *testing.T) {
	s := setupStore(t)

	// Unknown providers start from a zero state, not an error.
	state, err := s.ProviderState("finnhub")
	assert.NoError(t, err)
	assert.Equal(t, "finnhub", state.Provider)
	assert.Zero(t, state.DailyCallCount)

	state.DailyCallCount = 7
	state.Day = "2025-06-02"
	state.CooldownUntil = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	assert.NoError(t, s.SaveProviderState(state))

	// Saving again under the same name updates in place.
	state.DailyCallCount = 9
	assert.NoError(t, s.SaveProviderState(state))

	loaded, err := s.ProviderState("finnhub")
	assert.NoError(t, err)
	assert.Equal(t, 9, loaded.DailyCallCount)
	assert.Equal(t, "2025-06-02", loaded.Day)
	assert.True(t, loaded.CooldownUntil.Equal(state.CooldownUntil))
}

func TestWatchlist_RankedByScore(t *testing.T) {
	s := setupStore(t)

	assert.NoError(t, s.UpsertWatchlist([]models.WatchlistEntry{
		{Symbol: "AAPL", Source: "news", Score: 1},
		{Symbol: "MSFT", Source: "news", Score: 3},
		{Symbol: "NVDA", Source: "news", Score: 2},
	}))

	symbols, err := s.TopWatchlist(2)
	assert.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "NVDA"}, symbols)

	// Re-upserting a symbol refreshes its score instead of duplicating.
	assert.NoError(t, s.UpsertWatchlist([]models.WatchlistEntry{
		{Symbol: "AAPL", Source: "news", Score: 10},
	}))
	symbols, err = s.TopWatchlist(3)
	assert.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, symbols)
}

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/mscrnt/Robo-Trader/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the typed persistence boundary for the pipeline. Everything the
// core reads or writes goes through here; the engine behind it is gorm over
// sqlite, but callers only see models.
type Store struct {
	db *gorm.DB
}

// New wraps a gorm DB in a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertPriceBars writes bars with last-write-wins semantics on the
// (symbol, date) key.
func (s *Store) UpsertPriceBars(bars []models.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).Create(&bars).Error
	if err != nil {
		return fmt.Errorf("failed to upsert price bars: %w", err)
	}
	return nil
}

// PriceHistory returns a symbol's bars since the given date, oldest first.
func (s *Store) PriceHistory(symbol string, since time.Time) ([]models.PriceBar, error) {
	var bars []models.PriceBar
	err := s.db.Where("symbol = ? AND date >= ?", symbol, since).
		Order("date asc").Find(&bars).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load price history for %s: %w", symbol, err)
	}
	return bars, nil
}

// LatestClose returns the most recent known close for a symbol.
func (s *Store) LatestClose(symbol string) (float64, error) {
	var bar models.PriceBar
	err := s.db.Where("symbol = ?", symbol).Order("date desc").First(&bar).Error
	if err != nil {
		return 0, fmt.Errorf("no price data for %s: %w", symbol, err)
	}
	return bar.Close, nil
}

// AppendSignals appends factor observations to the audit log.
func (s *Store) AppendSignals(signals []models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	if err := s.db.Create(&signals).Error; err != nil {
		return fmt.Errorf("failed to append signals: %w", err)
	}
	return nil
}

// SaveTradePlan persists a plan and fills in its ID.
func (s *Store) SaveTradePlan(plan *models.TradePlan) error {
	if err := s.db.Create(plan).Error; err != nil {
		return fmt.Errorf("failed to save trade plan: %w", err)
	}
	return nil
}

// GetTradePlan loads a plan by ID.
func (s *Store) GetTradePlan(id uint) (models.TradePlan, error) {
	var plan models.TradePlan
	if err := s.db.First(&plan, id).Error; err != nil {
		return models.TradePlan{}, fmt.Errorf("failed to load trade plan %d: %w", id, err)
	}
	return plan, nil
}

// MarkPlanExecuted flips the executed flag on a persisted plan. The orders
// list itself is never touched after persistence.
func (s *Store) MarkPlanExecuted(id uint, executed bool) error {
	err := s.db.Model(&models.TradePlan{}).Where("id = ?", id).
		Update("executed", executed).Error
	if err != nil {
		return fmt.Errorf("failed to mark plan %d executed: %w", id, err)
	}
	return nil
}

// SaveOrder records a submitted broker order.
func (s *Store) SaveOrder(order *models.Order) error {
	if err := s.db.Create(order).Error; err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// OpenOrders returns orders whose broker status is still non-terminal.
func (s *Store) OpenOrders() ([]models.Order, error) {
	var orders []models.Order
	err := s.db.Where("status IN ?", models.OpenStatuses).Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load open orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus refreshes an order's status and fill fields from the
// broker during order sync.
func (s *Store) UpdateOrderStatus(orderID, status string, filledQty int, filledAvgPrice float64) error {
	err := s.db.Model(&models.Order{}).Where("order_id = ?", orderID).
		Updates(map[string]any{
			"status":           status,
			"filled_qty":       filledQty,
			"filled_avg_price": filledAvgPrice,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", orderID, err)
	}
	return nil
}

// ReplacePositions mirrors the broker's position snapshot into the local
// table, replacing whatever was there.
func (s *Store) ReplacePositions(positions []models.Position) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Position{}).Error; err != nil {
			return fmt.Errorf("failed to clear positions: %w", err)
		}
		if len(positions) == 0 {
			return nil
		}
		if err := tx.Create(&positions).Error; err != nil {
			return fmt.Errorf("failed to save positions: %w", err)
		}
		return nil
	})
}

// Positions returns the last mirrored position snapshot.
func (s *Store) Positions() ([]models.Position, error) {
	var positions []models.Position
	if err := s.db.Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	return positions, nil
}

// ProviderState loads a provider's quota record. A provider with no record
// yet gets a zero-valued state under its name.
func (s *Store) ProviderState(name string) (models.ProviderState, error) {
	var state models.ProviderState
	err := s.db.Where("provider = ?", name).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ProviderState{Provider: name}, nil
	}
	if err != nil {
		return models.ProviderState{}, fmt.Errorf("failed to load provider state for %s: %w", name, err)
	}
	return state, nil
}

// SaveProviderState upserts a provider's quota record keyed by name.
func (s *Store) SaveProviderState(state models.ProviderState) error {
	state.UpdatedAt = time.Now().UTC()
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cooldown_until", "daily_call_count", "day", "updated_at",
		}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("failed to save provider state for %s: %w", state.Provider, err)
	}
	return nil
}

// TopWatchlist returns up to limit symbols ranked by relevance score.
func (s *Store) TopWatchlist(limit int) ([]string, error) {
	var entries []models.WatchlistEntry
	err := s.db.Order("score desc").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist: %w", err)
	}
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	return symbols, nil
}

// UpsertWatchlist refreshes watchlist entries by symbol.
func (s *Store) UpsertWatchlist(entries []models.WatchlistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source", "score", "mention_count", "last_seen", "updated_at",
		}),
	}).Create(&entries).Error
	if err != nil {
		return fmt.Errorf("failed to upsert watchlist: %w", err)
	}
	return nil
}

package database

import (
	"fmt"

	"github.com/mscrnt/Robo-Trader/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema. Tables are never dropped here:
// price history, signals and trade plans are the system's audit trail.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.PriceBar{},
		&models.Signal{},
		&models.TradePlan{},
		&models.Order{},
		&models.Position{},
		&models.ProviderState{},
		&models.WatchlistEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

package models

import "time"

// Position mirrors a broker-held position. The table is replaced wholesale
// from the broker snapshot each run; the core never mutates it otherwise.
type Position struct {
	ID            uint   `gorm:"primarykey"`
	Symbol        string `gorm:"size:10;not null;index"`
	Qty           int
	AvgEntryPrice float64
	MarketValue   float64
	UnrealizedPL  float64
	UpdatedAt     time.Time
}

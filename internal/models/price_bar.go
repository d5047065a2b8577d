package models

import "time"

// PriceBar is one daily OHLCV row. Bars are unique per (symbol, date);
// re-fetching a bar overwrites the previous values (last write wins).
type PriceBar struct {
	ID     uint      `gorm:"primarykey"`
	Symbol string    `gorm:"size:10;not null;uniqueIndex:idx_symbol_date"`
	Date   time.Time `gorm:"not null;uniqueIndex:idx_symbol_date"`
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

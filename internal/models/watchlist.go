package models

import "time"

// WatchlistEntry is a symbol the news side of the system considers worth
// trading, with its external relevance score. Higher score ranks first.
type WatchlistEntry struct {
	ID           uint   `gorm:"primarykey"`
	Symbol       string `gorm:"size:10;not null;uniqueIndex"`
	Source       string `gorm:"size:50"`
	Score        float64
	MentionCount int
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

package models

import "time"

// ProviderState persists a data provider's quota bookkeeping across process
// restarts. The daily call counter is scoped to Day so a restart cannot
// bypass a provider's true external quota. CooldownUntil only moves forward.
type ProviderState struct {
	ID             uint   `gorm:"primarykey"`
	Provider       string `gorm:"size:50;not null;uniqueIndex"`
	CooldownUntil  time.Time
	DailyCallCount int
	Day            string `gorm:"size:10"`
	UpdatedAt      time.Time
}

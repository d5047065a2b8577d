package models

import "time"

// Signal is an append-only audit record of a single factor observation.
// The composite score is derived from these rows, never stored separately.
type Signal struct {
	ID              uint      `gorm:"primarykey"`
	Symbol          string    `gorm:"size:10;not null;index"`
	SignalDate      time.Time `gorm:"not null;index"`
	FactorName      string    `gorm:"size:50"`
	RawValue        float64
	NormalizedScore float64
	Weight          float64
	CreatedAt       time.Time
}

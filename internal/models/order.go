package models

import "time"

// Order is a broker order we submitted. Status and fill fields are refreshed
// by order sync after submission.
type Order struct {
	ID             uint   `gorm:"primarykey"`
	OrderID        string `gorm:"size:100;uniqueIndex"`
	PlanID         uint   `gorm:"index"`
	Symbol         string `gorm:"size:10;not null;index"`
	Side           string `gorm:"size:10"`
	Qty            int
	Type           string `gorm:"size:20"`
	Status         string `gorm:"size:20"`
	FilledQty      int
	FilledAvgPrice float64
	SubmittedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OpenStatuses are the broker order states that still need syncing.
var OpenStatuses = []string{"new", "accepted", "pending_new", "partially_filled"}

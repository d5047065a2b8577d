package models

import "time"

// PlanOrder is a single proposed order inside a trade plan. Plans are
// serialized with their orders; the orders table holds what was actually
// submitted to the broker.
type PlanOrder struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Qty        int     `json:"qty"`
	Type       string  `json:"type"`
	Price      float64 `json:"price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Confidence float64 `json:"confidence"`
}

// Value returns the signed dollar value of the order: positive for buys,
// negative for sells.
func (o PlanOrder) Value() float64 {
	v := float64(o.Qty) * o.Price
	if o.Side == "sell" {
		return -v
	}
	return v
}

// RiskMetrics describes the portfolio after a plan's orders are applied.
type RiskMetrics struct {
	GrossExposure  float64 `json:"gross_exposure"`
	NetExposure    float64 `json:"net_exposure"`
	PositionCount  int     `json:"position_count"`
	CurrentGross   float64 `json:"current_gross"`
	CurrentNet     float64 `json:"current_net"`
	ProposedValue  float64 `json:"proposed_value"`
	MaxPositionPct float64 `json:"max_position_pct"`
}

// TradePlan is the audited output of one pipeline run. The orders list is
// immutable after persistence; only the approved and executed flags change.
type TradePlan struct {
	ID          uint        `gorm:"primarykey"`
	PlanDate    time.Time   `gorm:"not null;index"`
	Mode        string      `gorm:"size:10"`
	Universe    []string    `gorm:"serializer:json"`
	Orders      []PlanOrder `gorm:"serializer:json"`
	RiskMetrics RiskMetrics `gorm:"serializer:json"`
	Notes       string
	Approved    bool
	Executed    bool
	CreatedAt   time.Time
}

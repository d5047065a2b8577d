// Package reporter assembles the end-of-run summary. Formatting and
// delivery channels (email, chat) live outside the core; the pipeline only
// hands over the plan and what happened during execution.
package reporter

import (
	"fmt"
	"strings"

	"github.com/mscrnt/Robo-Trader/internal/models"
	"go.uber.org/zap"
)

// Execution summarizes what happened at the broker for one plan.
type Execution struct {
	Submitted []string // order IDs
	Failed    []string // "SYMBOL: error" entries
	Total     int
}

// Reporter renders and logs the daily run summary.
type Reporter struct {
	logger *zap.Logger
}

// New creates a reporter.
func New(logger *zap.Logger) *Reporter {
	return &Reporter{logger: logger.Named("reporter")}
}

// ProcessDailyReports renders the daily summary for a persisted plan.
// Failures here must never affect the run that produced the plan.
func (r *Reporter) ProcessDailyReports(plan *models.TradePlan, exec *Execution) error {
	if plan == nil {
		return fmt.Errorf("no plan to report on")
	}

	report := r.render(plan, exec)
	r.logger.Info("Daily report",
		zap.Uint("plan_id", plan.ID),
		zap.String("report", report))
	return nil
}

func (r *Reporter) render(plan *models.TradePlan, exec *Execution) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Trading plan %s (%s): %d orders\n",
		plan.PlanDate.Format("2006-01-02"), plan.Mode, len(plan.Orders))
	for _, o := range plan.Orders {
		fmt.Fprintf(&b, "  %-5s %s %d @ $%.2f (stop $%.2f, target $%.2f, conf %.2f)\n",
			strings.ToUpper(o.Side), o.Symbol, o.Qty, o.Price, o.StopLoss, o.TakeProfit, o.Confidence)
	}

	m := plan.RiskMetrics
	fmt.Fprintf(&b, "Exposure: gross %.1f%%, net %.1f%%, %d positions\n",
		m.GrossExposure*100, m.NetExposure*100, m.PositionCount)

	if exec != nil {
		fmt.Fprintf(&b, "Execution: %d submitted, %d failed of %d\n",
			len(exec.Submitted), len(exec.Failed), exec.Total)
		for _, f := range exec.Failed {
			fmt.Fprintf(&b, "  failed: %s\n", f)
		}
	} else {
		b.WriteString("Execution: skipped\n")
	}

	if plan.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", plan.Notes)
	}
	return b.String()
}

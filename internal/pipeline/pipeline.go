// Package pipeline sequences one trading run: breaker check, watchlist
// refresh, market data, signal generation, plan construction, risk
// filtering, persistence, optional execution and reporting. Stages run
// strictly sequentially; recoverable stage failures degrade that stage's
// output, breaker and risk-filter failures fail closed, and the entry
// point never returns an error to its caller.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/mscrnt/Robo-Trader/internal/broker"
	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/mscrnt/Robo-Trader/internal/killswitch"
	"github.com/mscrnt/Robo-Trader/internal/models"
	"github.com/mscrnt/Robo-Trader/internal/reporter"
	"github.com/mscrnt/Robo-Trader/internal/risk"
	"github.com/mscrnt/Robo-Trader/internal/signals"
	"github.com/mscrnt/Robo-Trader/internal/store"
	"go.uber.org/zap"
)

// Status is the terminal state a run reports.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusHalted    Status = "halted"
	StatusError     Status = "error"
)

// RunOptions are the per-run switches. Force is only consulted at the
// breaker check; DryRun only at the execute gate.
type RunOptions struct {
	Force  bool
	DryRun bool
}

// RunResult is the structured outcome of one run.
type RunResult struct {
	Status     Status
	Reason     string
	PlanID     uint
	Orders     int
	Executed   bool
	Unresolved int
	Violations []string
	Error      string
}

// MarketData fills price history for a symbol set, reporting which symbols
// could not be satisfied.
type MarketData interface {
	Fetch(ctx context.Context, symbols []string, days int) (map[string][]models.PriceBar, []string)
}

// Scorer turns a symbol's price history into a scored signal.
type Scorer interface {
	Score(symbol string, bars []models.PriceBar) (signals.Score, error)
}

// WatchlistSource produces the ranked symbol universe for a run.
type WatchlistSource interface {
	Refresh(ctx context.Context) ([]string, error)
}

// ReportSink consumes the end-of-run summary.
type ReportSink interface {
	ProcessDailyReports(plan *models.TradePlan, exec *reporter.Execution) error
}

// Orchestrator wires the stages together.
type Orchestrator struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	broker  broker.Client
	market  MarketData
	scorer  Scorer
	risk    *risk.Manager
	kill    killswitch.Store
	watch   WatchlistSource
	reports ReportSink
	now     func() time.Time
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(
	cfg *config.Config,
	logger *zap.Logger,
	st *store.Store,
	brk broker.Client,
	market MarketData,
	scorer Scorer,
	riskMgr *risk.Manager,
	kill killswitch.Store,
	watch WatchlistSource,
	reports ReportSink,
) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger.Named("pipeline"),
		store:   st,
		broker:  brk,
		market:  market,
		scorer:  scorer,
		risk:    riskMgr,
		kill:    kill,
		watch:   watch,
		reports: reports,
		now:     time.Now,
	}
}

// Run executes one complete pipeline pass. It never returns an error:
// anything unrecoverable becomes a result with StatusError.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (result RunResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Pipeline run panicked", zap.Any("panic", r))
			result = RunResult{Status: StatusError, Error: fmt.Sprintf("%v", r)}
		}
	}()

	o.logger.Info("Starting pipeline run",
		zap.String("mode", o.cfg.Trading.Mode),
		zap.Bool("auto_execute", o.cfg.Trading.AutoExecute),
		zap.Bool("dry_run", opts.DryRun || o.cfg.Trading.DryRun),
		zap.Bool("force", opts.Force))

	// The account snapshot is read fresh every run.
	acct, err := o.broker.GetAccount(ctx)
	if err != nil {
		o.logger.Error("Could not fetch account", zap.Error(err))
		return RunResult{Status: StatusError, Error: fmt.Sprintf("account fetch failed: %v", err)}
	}

	// BREAKER_CHECK: halts before any order generation. Force skips the
	// check entirely; nothing else consults it.
	if !opts.Force {
		if halted, reason := o.checkBreaker(ctx, acct); halted {
			o.logger.Warn("Run halted", zap.String("reason", reason))
			return RunResult{Status: StatusHalted, Reason: reason}
		}
	} else {
		o.logger.Warn("Breaker check skipped (force)")
	}

	// NEWS_REFRESH: a news outage degrades to the stored watchlist, and
	// failing that, the static universe. Never aborts the run.
	universe := o.refreshWatchlist(ctx)

	// MARKET_DATA: provider outages degrade; scoring proceeds on whatever
	// history is already persisted.
	unresolved := o.fetchMarketData(ctx, universe)

	// SIGNAL_GEN: failures degrade to an empty signal list.
	scores := o.generateSignals(universe)

	// PLAN_DRAFT
	proposed := o.risk.OptimizePortfolio(scores, acct.Equity)
	plan := &models.TradePlan{
		PlanDate: o.now().UTC(),
		Mode:     o.cfg.Trading.Mode,
		Universe: universe,
		Notes:    fmt.Sprintf("generated %d orders from %d signals", len(proposed), len(scores)),
	}

	// RISK_FILTER: fail-closed. A partially validated order set must never
	// reach persistence, so any failure here clears the plan entirely.
	approved, violations, metrics, err := o.filterOrders(ctx, proposed, acct.Equity)
	if err != nil {
		o.logger.Error("Risk filter failed, clearing plan", zap.Error(err))
		plan.Orders = nil
		plan.Notes += fmt.Sprintf("; risk filter failed: %v", err)
	} else {
		plan.Orders = approved
		plan.RiskMetrics = metrics
		if len(violations) > 0 {
			plan.Notes += fmt.Sprintf("; %d risk violations: %v", len(violations), violations)
		}
	}

	// PERSIST: always, even for an empty plan, so every run is audited.
	persistErr := o.store.SaveTradePlan(plan)
	if persistErr != nil {
		o.logger.Error("Could not persist trade plan", zap.Error(persistErr))
	}

	// EXECUTE: gated on auto-execute, not a dry run, and a persisted plan.
	var exec *reporter.Execution
	executed := false
	dryRun := opts.DryRun || o.cfg.Trading.DryRun
	if persistErr == nil && o.cfg.Trading.AutoExecute && !dryRun && len(plan.Orders) > 0 {
		exec = o.execute(ctx, plan)
		executed = len(exec.Submitted) > 0
		if err := o.store.MarkPlanExecuted(plan.ID, executed); err != nil {
			o.logger.Warn("Could not mark plan executed", zap.Error(err))
		}
		plan.Executed = executed

		if err := broker.SyncOrders(ctx, o.broker, o.store, o.logger); err != nil {
			o.logger.Warn("Order sync failed", zap.Error(err))
		}
	} else {
		o.logger.Info("Execution skipped",
			zap.Bool("auto_execute", o.cfg.Trading.AutoExecute),
			zap.Bool("dry_run", dryRun),
			zap.Int("orders", len(plan.Orders)))
	}

	// REPORT: best-effort, failures swallowed.
	if err := o.reports.ProcessDailyReports(plan, exec); err != nil {
		o.logger.Warn("Report generation failed", zap.Error(err))
	}

	if persistErr != nil {
		return RunResult{
			Status:     StatusError,
			Error:      fmt.Sprintf("persist failed: %v", persistErr),
			Orders:     len(plan.Orders),
			Unresolved: unresolved,
			Violations: violations,
		}
	}

	o.logger.Info("Pipeline run complete",
		zap.Uint("plan_id", plan.ID),
		zap.Int("orders", len(plan.Orders)),
		zap.Bool("executed", executed))

	return RunResult{
		Status:     StatusCompleted,
		PlanID:     plan.ID,
		Orders:     len(plan.Orders),
		Executed:   executed,
		Unresolved: unresolved,
		Violations: violations,
	}
}

// checkBreaker consults the shared kill flag and the drawdown breaker. A
// breaker trip persists the kill flag: the latch stays set for subsequent
// runs until an operator clears it. The flag read is plain read-then-act;
// overlapping runs are the caller's problem, not serialized here.
func (o *Orchestrator) checkBreaker(ctx context.Context, acct broker.Account) (bool, string) {
	tripped, err := o.kill.Get(ctx, killswitch.GlobalKillSwitch)
	if err != nil {
		// Can't read the flag means can't prove trading is allowed.
		return true, fmt.Sprintf("kill switch unreadable: %v", err)
	}
	if tripped {
		return true, "global kill switch is active"
	}

	ok, reason := o.risk.CheckBreaker(acct.Equity, acct.LastEquity)
	if !ok {
		if err := o.kill.Set(ctx, killswitch.GlobalKillSwitch, true); err != nil {
			o.logger.Error("Could not persist kill switch after breaker trip", zap.Error(err))
		}
		return true, reason
	}
	return false, ""
}

// refreshWatchlist returns the run's universe: fresh news ranking when
// available, else the stored mirror, else the configured static universe.
func (o *Orchestrator) refreshWatchlist(ctx context.Context) []string {
	symbols, err := o.watch.Refresh(ctx)
	if err == nil && len(symbols) > 0 {
		return symbols
	}
	o.logger.Warn("Watchlist refresh failed, falling back to stored list", zap.Error(err))

	symbols, err = o.store.TopWatchlist(o.cfg.Trading.MaxWatchlist)
	if err == nil && len(symbols) > 0 {
		return symbols
	}
	if err != nil {
		o.logger.Warn("Stored watchlist unavailable", zap.Error(err))
	}

	o.logger.Info("Using static universe",
		zap.Int("symbols", len(o.cfg.Trading.Universe)))
	return o.cfg.Trading.Universe
}

// fetchMarketData fills price history through the quota scheduler and
// persists the bars. Returns how many symbols stayed unresolved.
func (o *Orchestrator) fetchMarketData(ctx context.Context, universe []string) int {
	if len(universe) == 0 {
		return 0
	}
	results, unresolved := o.market.Fetch(ctx, universe, o.cfg.Trading.LookbackDays)
	for symbol, bars := range results {
		if err := o.store.UpsertPriceBars(bars); err != nil {
			o.logger.Warn("Could not persist bars",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
	o.logger.Info("Market data stage complete",
		zap.Int("fetched", len(results)), zap.Int("unresolved", len(unresolved)))
	return len(unresolved)
}

// generateSignals scores every universe symbol that has enough persisted
// history. Per-symbol failures skip that symbol; a wider failure degrades
// to an empty list.
func (o *Orchestrator) generateSignals(universe []string) []signals.Score {
	since := o.now().UTC().AddDate(0, 0, -o.cfg.Trading.LookbackDays)
	var scores []signals.Score

	for _, symbol := range universe {
		bars, err := o.store.PriceHistory(symbol, since)
		if err != nil {
			o.logger.Warn("Could not load price history",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		sc, err := o.scorer.Score(symbol, bars)
		if err != nil {
			// Includes insufficient history: excluded, not scored neutral.
			o.logger.Debug("Symbol not scored",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		scores = append(scores, sc)
	}

	o.logger.Info("Signal generation complete",
		zap.Int("scored", len(scores)), zap.Int("universe", len(universe)))
	return scores
}

// filterOrders applies the exposure limits against live positions. Any
// failure here bubbles up so the caller can clear the plan.
func (o *Orchestrator) filterOrders(ctx context.Context, proposed []models.PlanOrder, equity float64) ([]models.PlanOrder, []string, models.RiskMetrics, error) {
	positions, err := o.broker.GetPositions(ctx)
	if err != nil {
		return nil, nil, models.RiskMetrics{}, fmt.Errorf("position fetch failed: %w", err)
	}
	// Mirror the snapshot; the plan does not depend on this succeeding.
	if err := o.store.ReplacePositions(positions); err != nil {
		o.logger.Warn("Could not mirror positions", zap.Error(err))
	}

	approved, violations := o.risk.FilterOrders(proposed, positions, equity)
	metrics := o.risk.Metrics(approved, positions, equity)
	return approved, violations, metrics, nil
}

// execute submits each approved order in isolation: one order's failure is
// recorded and never blocks the rest of the plan.
func (o *Orchestrator) execute(ctx context.Context, plan *models.TradePlan) *reporter.Execution {
	exec := &reporter.Execution{Total: len(plan.Orders)}

	for _, po := range plan.Orders {
		receipt, err := o.broker.PlaceOrder(ctx, broker.OrderRequest{
			Symbol: po.Symbol,
			Side:   po.Side,
			Qty:    po.Qty,
			Type:   po.Type,
		})
		if err != nil {
			o.logger.Error("Order submission failed",
				zap.String("symbol", po.Symbol), zap.Error(err))
			exec.Failed = append(exec.Failed, fmt.Sprintf("%s: %v", po.Symbol, err))
			continue
		}
		exec.Submitted = append(exec.Submitted, receipt.ID)

		err = o.store.SaveOrder(&models.Order{
			OrderID:        receipt.ID,
			PlanID:         plan.ID,
			Symbol:         receipt.Symbol,
			Side:           receipt.Side,
			Qty:            po.Qty,
			Type:           po.Type,
			Status:         receipt.Status,
			FilledQty:      receipt.FilledQty,
			FilledAvgPrice: receipt.FilledAvgPrice,
			SubmittedAt:    receipt.SubmittedAt,
		})
		if err != nil {
			o.logger.Warn("Could not persist submitted order",
				zap.String("order_id", receipt.ID), zap.Error(err))
		}
	}

	o.logger.Info("Execution complete",
		zap.Int("submitted", len(exec.Submitted)),
		zap.Int("failed", len(exec.Failed)))
	return exec
}

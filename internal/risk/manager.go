// Package risk enforces the portfolio's safety envelope: the daily-drawdown
// circuit breaker, per-name position sizing, greedy portfolio construction
// and the gross/net exposure limits every persisted plan must satisfy.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/mscrnt/Robo-Trader/internal/models"
	"github.com/mscrnt/Robo-Trader/internal/signals"
	"go.uber.org/zap"
)

// Dollar floors and caps applied to every sized position.
const (
	minPositionValue = 100
	maxPositionValue = 50000
)

// PriceSource supplies the latest known price for a symbol.
type PriceSource interface {
	LatestClose(symbol string) (float64, error)
}

// Manager applies the configured risk limits.
type Manager struct {
	cfg    config.Risk
	prices PriceSource
	logger *zap.Logger
}

// NewManager creates a risk manager.
func NewManager(cfg config.Risk, prices PriceSource, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		prices: prices,
		logger: logger.Named("risk"),
	}
}

// CheckBreaker compares today's equity against yesterday's close. The
// breaker trips when the daily return breaches the halt threshold. Tripping
// is one-way: the caller must persist the kill flag so later runs halt too;
// nothing here auto-clears.
func (m *Manager) CheckBreaker(equity, lastEquity float64) (bool, string) {
	if lastEquity <= 0 {
		return true, "all circuit breakers passed"
	}
	dailyReturn := (equity - lastEquity) / lastEquity
	if dailyReturn < -m.cfg.HaltThreshold {
		return false, fmt.Sprintf("daily drawdown limit hit: %.2f%%", dailyReturn*100)
	}
	return true, "all circuit breakers passed"
}

// PositionSize converts signal strength into whole shares. The position is
// capped at maxSingleName of equity, floored at roughly $100 and capped at
// $50k. When the price is so high that the floor exceeds the cap, the
// symbol is not sizeable and 0 is returned; it is never forced to one
// share above the cap.
func (m *Manager) PositionSize(signalStrength, equity, price float64) int {
	if price <= 0 {
		return 0
	}
	maxValue := equity * m.cfg.MaxSingleName
	adjustedValue := maxValue * math.Min(1, signalStrength)
	shares := int(adjustedValue / price)

	minShares := int(math.Max(1, math.Floor(minPositionValue/price)))
	maxShares := int(math.Floor(maxPositionValue / price))
	if minShares > maxShares {
		return 0
	}
	if shares < minShares {
		return minShares
	}
	if shares > maxShares {
		return maxShares
	}
	return shares
}

// OptimizePortfolio greedily turns buy signals into sized orders, highest
// composite score first, until the gross budget or the position cap is
// reached. Each accepted order carries its stop-loss and take-profit.
func (m *Manager) OptimizePortfolio(scores []signals.Score, equity float64) []models.PlanOrder {
	ranked := make([]signals.Score, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Composite > ranked[j].Composite
	})

	budget := equity * m.cfg.GrossMax
	var orders []models.PlanOrder
	var allocated float64

	for _, sc := range ranked {
		if sc.Action != "buy" {
			continue
		}
		if len(orders) >= m.cfg.MaxPositions {
			break
		}

		price, err := m.prices.LatestClose(sc.Symbol)
		if err != nil || price <= 0 {
			m.logger.Debug("No price for signal, skipping",
				zap.String("symbol", sc.Symbol), zap.Error(err))
			continue
		}

		qty := m.PositionSize(sc.Composite, equity-allocated, price)
		if qty <= 0 {
			continue
		}
		orderValue := float64(qty) * price
		if allocated+orderValue > budget {
			break // budget exhausted
		}

		orders = append(orders, models.PlanOrder{
			Symbol:     sc.Symbol,
			Side:       "buy",
			Qty:        qty,
			Type:       "market",
			Price:      price,
			StopLoss:   price * (1 - m.cfg.StopLossPct),
			TakeProfit: price * (1 + m.cfg.TakeProfitPct),
			Confidence: sc.Composite,
		})
		allocated += orderValue
	}

	m.logger.Info("Optimized portfolio",
		zap.Int("orders", len(orders)), zap.Float64("allocated", allocated))
	return orders
}

// FilterOrders enforces the exposure limits order by order, in the given
// order. Running gross and net totals are seeded from current positions and
// updated only by approved orders, so earlier orders consume budget that
// later ones are judged against: first listed wins. Rejections are
// collected as violations and the run continues.
func (m *Manager) FilterOrders(proposed []models.PlanOrder, positions []models.Position, equity float64) (approved []models.PlanOrder, violations []string) {
	gross, net := currentExposure(positions)

	for _, order := range proposed {
		value := order.Value() // signed: buys positive, sells negative
		absValue := math.Abs(value)

		if absValue > equity*m.cfg.MaxSingleName {
			violations = append(violations, fmt.Sprintf(
				"%s: position size $%.0f exceeds single-name limit", order.Symbol, absValue))
			continue
		}
		if gross+absValue > equity*m.cfg.GrossMax {
			violations = append(violations, fmt.Sprintf(
				"%s: would exceed gross exposure limit", order.Symbol))
			continue
		}
		if equity > 0 && math.Abs((net+value)/equity) > m.cfg.NetMax {
			violations = append(violations, fmt.Sprintf(
				"%s: would exceed net exposure limit", order.Symbol))
			continue
		}

		approved = append(approved, order)
		gross += absValue
		net += value
	}

	if len(violations) > 0 {
		m.logger.Warn("Risk violations", zap.Strings("violations", violations))
	}
	return approved, violations
}

// Metrics describes, without enforcing anything, where the portfolio lands
// if the approved orders fill.
func (m *Manager) Metrics(approved []models.PlanOrder, positions []models.Position, equity float64) models.RiskMetrics {
	gross, net := currentExposure(positions)

	var proposed float64
	for _, order := range approved {
		proposed += order.Value()
	}

	metrics := models.RiskMetrics{
		PositionCount:  len(positions) + len(approved),
		CurrentGross:   gross,
		CurrentNet:     net,
		ProposedValue:  proposed,
		MaxPositionPct: m.cfg.MaxSingleName,
	}
	if equity > 0 {
		metrics.GrossExposure = (gross + math.Abs(proposed)) / equity
		metrics.NetExposure = (net + proposed) / equity
	}
	return metrics
}

// currentExposure sums the held positions into gross (absolute) and net
// (long minus short) dollar figures.
func currentExposure(positions []models.Position) (gross, net float64) {
	for _, p := range positions {
		gross += math.Abs(p.MarketValue)
		if p.Qty > 0 {
			net += p.MarketValue
		} else {
			net -= math.Abs(p.MarketValue)
		}
	}
	return gross, net
}

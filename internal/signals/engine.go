// Package signals computes per-symbol technical factors and blends them
// into a composite score in [0,1]. Factor observations are appended to an
// audit log whether or not they lead to an order.
package signals

import (
	"errors"
	"fmt"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/mscrnt/Robo-Trader/internal/models"
	"go.uber.org/zap"
)

// ErrInsufficientData marks a symbol with too little price history to
// score. Such symbols are excluded from the output entirely, never scored
// as neutral.
var ErrInsufficientData = errors.New("insufficient price history")

// minBars is the minimum history required to score a symbol at all.
const minBars = 20

// Action thresholds on the composite score.
const (
	buyThreshold  = 0.6
	sellThreshold = 0.4
)

// Score is the engine's output for one symbol.
type Score struct {
	Symbol    string
	Factors   map[string]float64
	Composite float64
	Action    string // buy, sell or hold
}

// AuditWriter appends factor observations to the signal audit log.
type AuditWriter interface {
	AppendSignals(signals []models.Signal) error
}

// Engine scores symbols from daily price history using the configured
// factor weights.
type Engine struct {
	factors config.Factors
	audit   AuditWriter
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates a signal engine.
func NewEngine(factors config.Factors, audit AuditWriter, logger *zap.Logger) *Engine {
	return &Engine{
		factors: factors,
		audit:   audit,
		logger:  logger.Named("signals"),
		now:     time.Now,
	}
}

// Score computes all factors for a symbol and returns the composite score
// and action. Fewer than 20 bars returns ErrInsufficientData.
func (e *Engine) Score(symbol string, bars []models.PriceBar) (Score, error) {
	if len(bars) < minBars {
		return Score{}, fmt.Errorf("%w: %s has %d bars, need %d",
			ErrInsufficientData, symbol, len(bars), minBars)
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	factors := map[string]float64{
		"momentum":       momentum(closes),
		"rsi":            rsi14(closes),
		"macd_histogram": macdHistogram(closes),
		"volume_surge":   volumeSurge(volumes),
	}

	composite := e.composite(factors)
	action := "hold"
	switch {
	case composite > buyThreshold:
		action = "buy"
	case composite < sellThreshold:
		action = "sell"
	}

	e.writeAudit(symbol, factors)

	e.logger.Debug("Scored symbol",
		zap.String("symbol", symbol),
		zap.Float64("composite", composite),
		zap.String("action", action))

	return Score{
		Symbol:    symbol,
		Factors:   factors,
		Composite: composite,
		Action:    action,
	}, nil
}

// composite is the weighted mean of normalized enabled factors. Weights
// need not sum to one; the denominator is the sum of enabled weights. With
// nothing enabled the score is exactly neutral.
func (e *Engine) composite(factors map[string]float64) float64 {
	var weightedSum, totalWeight float64
	for name, value := range factors {
		f, ok := e.factors[name]
		if !ok || !f.Enabled {
			continue
		}
		weightedSum += Normalize(name, value) * f.Weight
		totalWeight += f.Weight
	}
	if totalWeight == 0 {
		return 0.5
	}
	return weightedSum / totalWeight
}

// writeAudit appends every factor observation, contributing or not, to the
// signal log. Audit failures are logged but never fail the scoring.
func (e *Engine) writeAudit(symbol string, factors map[string]float64) {
	date := e.now().UTC()
	rows := make([]models.Signal, 0, len(factors))
	for name, value := range factors {
		rows = append(rows, models.Signal{
			Symbol:          symbol,
			SignalDate:      date,
			FactorName:      name,
			RawValue:        value,
			NormalizedScore: Normalize(name, value),
			Weight:          e.factors[name].Weight,
		})
	}
	if err := e.audit.AppendSignals(rows); err != nil {
		e.logger.Warn("Could not append signal audit rows",
			zap.String("symbol", symbol), zap.Error(err))
	}
}

// momentum is the return from the close 252 bars ago to the close 21 bars
// ago (12-month momentum excluding the most recent month). Zero with under
// 252 bars.
func momentum(closes []float64) float64 {
	if len(closes) < 252 {
		return 0.0
	}
	longAgo := closes[len(closes)-252]
	recent := closes[len(closes)-21]
	if longAgo <= 0 {
		return 0.0
	}
	return (recent - longAgo) / longAgo
}

// rsi14 is the 14-period RSI of the closes. Neutral 50 with under 14 bars
// of usable history.
func rsi14(closes []float64) float64 {
	const period = 14
	if len(closes) < period+1 {
		return 50.0
	}
	values := talib.Rsi(closes, period)
	return values[len(values)-1]
}

// macdHistogram is the latest MACD(12,26,9) histogram value. Zero with
// under 26 bars.
func macdHistogram(closes []float64) float64 {
	if len(closes) < 26 {
		return 0.0
	}
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	return hist[len(hist)-1]
}

// volumeSurge is the last volume over the trailing 20-bar average volume.
// 1.0 (no surge) with under 20 bars or a zero average.
func volumeSurge(volumes []float64) float64 {
	const lookback = 20
	if len(volumes) < lookback {
		return 1.0
	}
	var sum float64
	for _, v := range volumes[len(volumes)-lookback:] {
		sum += v
	}
	avg := sum / lookback
	if avg <= 0 {
		return 1.0
	}
	return volumes[len(volumes)-1] / avg
}

// Normalize maps a raw factor value into [0,1], monotonically per factor:
//
//	momentum:       -50%..+50% linearly to 0..1, clamped
//	rsi:            oversold (<30) is bullish, overbought (>70) bearish,
//	                otherwise neutral 0.5
//	macd_histogram: logistic sigmoid centered at zero
//	volume_surge:   above 2x average ramps toward 1, otherwise neutral
//
// Unknown factors normalize to neutral.
func Normalize(factor string, value float64) float64 {
	switch factor {
	case "momentum":
		return clamp01((value + 0.5) / 1.0)
	case "rsi":
		if value < 30 {
			return 0.8 + (30-value)/150
		}
		if value > 70 {
			return 0.2 - (value-70)/150
		}
		return 0.5
	case "macd_histogram":
		return 1 / (1 + math.Exp(-value*10))
	case "volume_surge":
		if value > 2 {
			return math.Min(1, 0.5+(value-1)*0.25)
		}
		return 0.5
	}
	return 0.5
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

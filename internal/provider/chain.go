package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mscrnt/Robo-Trader/internal/config"
	"github.com/mscrnt/Robo-Trader/internal/models"
	"go.uber.org/zap"
)

// StateStore persists per-provider quota bookkeeping across restarts.
type StateStore interface {
	ProviderState(name string) (models.ProviderState, error)
	SaveProviderState(state models.ProviderState) error
}

// ChainProvider is one link in the fallback chain: a provider plus the
// quota policy the scheduler applies around it.
type ChainProvider struct {
	Provider Provider

	// Cooldown is how long the provider is benched after an explicit or
	// suspected throttle.
	Cooldown time.Duration

	// MaxBatch caps how many symbols one pass may send. Zero means no cap.
	MaxBatch int

	// SkipAboveRemaining skips the provider while more than this many
	// symbols remain, preserving a scarce quota for when it matters.
	// Zero disables the check.
	SkipAboveRemaining int

	// DailyLimit is the provider's calls-per-day quota, metered through
	// the persisted state. Zero means none.
	DailyLimit int
}

// Chain walks providers in priority order until the requested symbol set is
// satisfied or every provider is exhausted. Providers never run in
// parallel; each client paces its own calls to its rate class.
type Chain struct {
	providers []ChainProvider
	states    StateStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewChain builds a scheduler over the given providers, in the order given.
func NewChain(providers []ChainProvider, states StateStore, logger *zap.Logger) *Chain {
	return &Chain{
		providers: providers,
		states:    states,
		logger:    logger.Named("quota_chain"),
		now:       time.Now,
	}
}

// NewChainFromConfig wires the standard provider lineup, most generous
// quota first.
func NewChainFromConfig(cfg config.Providers, states StateStore, logger *zap.Logger) *Chain {
	var providers []ChainProvider
	add := func(p Provider, pc config.Provider) {
		if !pc.Enabled {
			return
		}
		providers = append(providers, ChainProvider{
			Provider:           p,
			Cooldown:           time.Duration(pc.CooldownSeconds) * time.Second,
			MaxBatch:           pc.MaxBatch,
			SkipAboveRemaining: pc.SkipAboveRemaining,
			DailyLimit:         pc.DailyLimit,
		})
	}
	add(NewYahoo(cfg.Yahoo, logger), cfg.Yahoo)
	add(NewFinnhub(cfg.Finnhub, logger), cfg.Finnhub)
	add(NewPolygon(cfg.Polygon, logger), cfg.Polygon)
	add(NewAlphaVantage(cfg.AlphaVantage, logger), cfg.AlphaVantage)
	return NewChain(providers, states, logger)
}

// Fetch satisfies as much of the symbol set as the chain's quotas allow.
// The returned map and unresolved slice always partition the input: every
// requested symbol appears in exactly one of them, and a symbol is only in
// the map if it has at least one bar. Unresolved symbols are reported,
// never silently dropped or backfilled with stale data.
func (c *Chain) Fetch(ctx context.Context, symbols []string, days int) (map[string][]models.PriceBar, []string) {
	results := make(map[string][]models.PriceBar)
	remaining := make([]string, len(symbols))
	copy(remaining, symbols)

	for _, link := range c.providers {
		if len(remaining) == 0 {
			break
		}
		remaining = c.runProvider(ctx, link, remaining, days, results)
	}

	if len(remaining) > 0 {
		c.logger.Warn("Could not fetch data for all symbols",
			zap.Int("unresolved", len(remaining)), zap.Strings("symbols", remaining))
	}

	return results, remaining
}

// runProvider sends one batch to a single provider and returns the symbols
// still unresolved afterwards.
func (c *Chain) runProvider(ctx context.Context, link ChainProvider, remaining []string, days int, results map[string][]models.PriceBar) []string {
	p := link.Provider
	l := c.logger.With(zap.String("provider", p.Name()))

	if !p.Available() {
		l.Debug("Skipping provider (not configured)")
		return remaining
	}
	if link.SkipAboveRemaining > 0 && len(remaining) > link.SkipAboveRemaining {
		l.Info("Skipping provider to preserve scarce quota",
			zap.Int("remaining", len(remaining)))
		return remaining
	}

	now := c.now()
	state, err := c.states.ProviderState(p.Name())
	if err != nil {
		l.Warn("Could not load provider state, assuming fresh", zap.Error(err))
		state = models.ProviderState{Provider: p.Name()}
	}
	if state.CooldownUntil.After(now) {
		l.Info("Skipping provider (in cooldown)",
			zap.Duration("for", state.CooldownUntil.Sub(now)))
		return remaining
	}

	// Daily counters are scoped to the calendar day so a restart cannot
	// reset a provider's true external quota.
	today := now.UTC().Format("2006-01-02")
	if state.Day != today {
		state.Day = today
		state.DailyCallCount = 0
	}

	batchSize := len(remaining)
	if link.MaxBatch > 0 && batchSize > link.MaxBatch {
		batchSize = link.MaxBatch
	}
	if link.DailyLimit > 0 {
		left := link.DailyLimit - state.DailyCallCount
		if left <= 0 {
			l.Info("Skipping provider (daily quota exhausted)",
				zap.Int("daily_limit", link.DailyLimit))
			return remaining
		}
		if batchSize > left {
			batchSize = left
		}
	}
	batch := remaining[:batchSize]

	l.Info("Fetching batch", zap.Int("symbols", len(batch)), zap.Int("remaining", len(remaining)))
	got, err := fetchBatch(ctx, p, batch, days)
	state.DailyCallCount += len(batch)

	// Only symbols that came back with at least one bar count as answered;
	// an empty series is no better than an absent one.
	answered := 0
	for _, bars := range got {
		if len(bars) > 0 {
			answered++
		}
	}

	rateLimited := errors.Is(err, ErrRateLimited)
	switch {
	case rateLimited:
		// Explicit quota signal: bench the provider and keep whatever it
		// returned before hitting the limit.
		l.Warn("Provider rate limited, applying cooldown",
			zap.Duration("cooldown", link.Cooldown))
		setCooldown(&state, now.Add(link.Cooldown))
	case err != nil:
		// Any other provider failure is non-fatal: the batch produced
		// nothing and the chain moves on. No retry within this run.
		l.Warn("Provider failed", zap.Error(err))
		got = nil
	case answered*2 < len(batch):
		// Answering fewer than half the batch without an explicit error
		// usually means silent throttling. This is a heuristic, not a
		// confirmed signal, so the cooldown is the only consequence.
		l.Warn("Provider answered under half the batch, assuming throttled",
			zap.Int("requested", len(batch)), zap.Int("answered", answered),
			zap.Duration("cooldown", link.Cooldown))
		setCooldown(&state, now.Add(link.Cooldown))
	}

	if err := c.states.SaveProviderState(state); err != nil {
		l.Warn("Could not persist provider state", zap.Error(err))
	}

	if len(got) == 0 {
		return remaining
	}

	// Merge non-empty series and drop satisfied symbols, preserving the
	// priority order of the rest.
	satisfied := make(map[string]bool, len(got))
	for symbol, bars := range got {
		if len(bars) == 0 {
			continue
		}
		results[symbol] = bars // last write wins on re-fetch
		satisfied[symbol] = true
	}
	next := remaining[:0]
	for _, symbol := range remaining {
		if !satisfied[symbol] {
			next = append(next, symbol)
		}
	}
	l.Info("Batch complete", zap.Int("fetched", len(satisfied)), zap.Int("unresolved", len(next)))
	return next
}

// fetchBatch calls the provider and converts a panic (a malformed payload
// tripping a parser, say) into an ordinary provider failure, so one bad
// response can never take down the whole fetch.
func fetchBatch(ctx context.Context, p Provider, batch []string, days int) (got map[string][]models.PriceBar, err error) {
	defer func() {
		if r := recover(); r != nil {
			got = nil
			err = fmt.Errorf("provider %s panicked: %v", p.Name(), r)
		}
	}()
	return p.FetchDailyBars(ctx, batch, days)
}

// setCooldown moves the cooldown forward only; an already-later cooldown is
// never shortened.
func setCooldown(state *models.ProviderState, until time.Time) {
	if until.After(state.CooldownUntil) {
		state.CooldownUntil = until
	}
}

// Package provider contains the market-data provider clients and the quota
// scheduler that spreads a symbol-data request across them. Every provider
// has a different free-tier quota; the scheduler's job is to satisfy the
// request without burning any single provider's quota.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/mscrnt/Robo-Trader/internal/models"
)

// ErrRateLimited is returned by a provider that hit an explicit quota or
// too-many-requests response. Partial results fetched before the limit are
// still returned alongside it.
var ErrRateLimited = errors.New("provider rate limited")

// Provider is the capability a data source must expose to the scheduler.
type Provider interface {
	// Name identifies the provider in logs and persisted quota state.
	Name() string

	// Available reports whether the provider is configured and usable.
	Available() bool

	// FetchDailyBars fetches up to `days` days of daily OHLCV bars per
	// symbol. Pacing between calls is the provider's own responsibility,
	// sized to its rate class; the wait blocks and is not cancellable
	// mid-sleep beyond ctx expiry between calls.
	FetchDailyBars(ctx context.Context, symbols []string, days int) (map[string][]models.PriceBar, error)
}

// dayUTC normalizes a bar timestamp to midnight UTC so bars from different
// providers collide on the same (symbol, date) key.
func dayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

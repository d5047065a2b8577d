// Package watchlist manages the symbol universe the pipeline trades. The
// news side of the system ranks symbols by relevance; this package only
// consumes that ranking and keeps a local mirror so a news outage degrades
// to the last known list instead of aborting the run.
package watchlist

import (
	"context"
	"fmt"
	"time"

	"github.com/mscrnt/Robo-Trader/internal/models"
	"go.uber.org/zap"
)

// Builder is the external capability that produces a ranked watchlist.
type Builder interface {
	BuildWatchlist(ctx context.Context, maxSymbols int) ([]string, error)
}

// EntryStore persists the local watchlist mirror.
type EntryStore interface {
	UpsertWatchlist(entries []models.WatchlistEntry) error
	TopWatchlist(limit int) ([]string, error)
}

// Refresher pulls a fresh ranked watchlist and mirrors it locally.
type Refresher struct {
	builder Builder
	store   EntryStore
	logger  *zap.Logger
	max     int
	now     func() time.Time
}

// NewRefresher creates a watchlist refresher capped at maxSymbols.
func NewRefresher(builder Builder, store EntryStore, maxSymbols int, logger *zap.Logger) *Refresher {
	return &Refresher{
		builder: builder,
		store:   store,
		logger:  logger.Named("watchlist"),
		max:     maxSymbols,
		now:     time.Now,
	}
}

// Refresh asks the builder for a fresh ranked list and mirrors it into the
// store. The returned symbols keep the builder's ranking order.
func (r *Refresher) Refresh(ctx context.Context) ([]string, error) {
	symbols, err := r.builder.BuildWatchlist(ctx, r.max)
	if err != nil {
		return nil, fmt.Errorf("watchlist build failed: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("watchlist build returned no symbols")
	}

	now := r.now().UTC()
	entries := make([]models.WatchlistEntry, 0, len(symbols))
	for i, symbol := range symbols {
		entries = append(entries, models.WatchlistEntry{
			Symbol:   symbol,
			Source:   "news",
			Score:    float64(len(symbols) - i), // preserve ranking order
			LastSeen: now,
		})
	}
	if err := r.store.UpsertWatchlist(entries); err != nil {
		// The fresh list is still usable even if mirroring failed.
		r.logger.Warn("Could not mirror watchlist", zap.Error(err))
	}

	r.logger.Info("Watchlist refreshed", zap.Int("symbols", len(symbols)))
	return symbols, nil
}

// StoredBuilder is a Builder that reads the locally mirrored ranking. It is
// used when no live news service is wired in: the ingest side writes the
// table, the pipeline reads it.
type StoredBuilder struct {
	store EntryStore
}

var _ Builder = (*StoredBuilder)(nil)

// NewStoredBuilder creates a Builder over the local watchlist table.
func NewStoredBuilder(store EntryStore) *StoredBuilder {
	return &StoredBuilder{store: store}
}

// BuildWatchlist returns the stored ranking, best first.
func (b *StoredBuilder) BuildWatchlist(_ context.Context, maxSymbols int) ([]string, error) {
	return b.store.TopWatchlist(maxSymbols)
}

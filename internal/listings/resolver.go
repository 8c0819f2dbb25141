package listings

import (
	"context"
	"fmt"
	"sync"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
)

// Resolver answers "which target venues list this symbol" from an
// in-memory index loaded once per scan. It never issues outbound calls
// during a scan and an unknown symbol is simply not listed, not an error.
type Resolver struct {
	db     *store.DB
	venues []string

	mu    sync.RWMutex
	index map[string]map[string]struct{} // symbol -> venue set
}

func NewResolver(db *store.DB, targetVenues []string) *Resolver {
	return &Resolver{
		db:     db,
		venues: targetVenues,
		index:  make(map[string]map[string]struct{}),
	}
}

// Load rebuilds the index from the exchange_listings table, restricted to
// the target venues.
func (r *Resolver) Load(ctx context.Context) error {
	ctx, cancel := r.db.QueryCtx(ctx)
	defer cancel()

	var rows []model.ListingRecord
	err := r.db.SelectContext(ctx, &rows,
		`SELECT venue, symbol, name, first_seen, last_seen, source
		 FROM exchange_listings
		 WHERE venue = ANY($1)`, pq.Array(r.venues))
	if err != nil {
		return fmt.Errorf("load exchange listings: %w", err)
	}

	index := make(map[string]map[string]struct{}, len(rows))
	for _, rec := range rows {
		sym := model.NormalizeSymbol(rec.Symbol)
		if index[sym] == nil {
			index[sym] = make(map[string]struct{})
		}
		index[sym][rec.Venue] = struct{}{}
	}

	r.mu.Lock()
	r.index = index
	r.mu.Unlock()

	log.Debug().Int("symbols", len(index)).Strs("venues", r.venues).Msg("listing index loaded")
	return nil
}

// VenuesFor returns the target venues listing symbol, in configured venue
// order. Empty for unknown symbols.
func (r *Resolver) VenuesFor(symbol string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.index[model.NormalizeSymbol(symbol)]
	if !ok {
		return nil
	}

	venues := make([]string, 0, len(set))
	for _, v := range r.venues {
		if _, listed := set[v]; listed {
			venues = append(venues, v)
		}
	}
	return venues
}

// Symbols returns every indexed symbol, used for scan summary logging.
func (r *Resolver) Symbols() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

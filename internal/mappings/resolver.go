package mappings

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
)

// Resolver maps asset symbols to the external identifiers the history
// provider keys on, from an in-memory index loaded once per scan. A
// missing mapping excludes the asset from the current scan only; the next
// table refresh is expected to pick it up.
type Resolver struct {
	db *store.DB

	mu    sync.RWMutex
	index map[string]string // normalized symbol -> external id
}

func NewResolver(db *store.DB) *Resolver {
	return &Resolver{db: db, index: make(map[string]string)}
}

// Load rebuilds the index from the identity_mappings table.
func (r *Resolver) Load(ctx context.Context) error {
	ctx, cancel := r.db.QueryCtx(ctx)
	defer cancel()

	var rows []model.IdentityRecord
	err := r.db.SelectContext(ctx, &rows,
		`SELECT symbol, external_id, rank, source, updated_at FROM identity_mappings`)
	if err != nil {
		return fmt.Errorf("load identity mappings: %w", err)
	}

	index := make(map[string]string, len(rows))
	for _, rec := range rows {
		index[model.NormalizeSymbol(rec.Symbol)] = rec.ExternalID
	}

	r.mu.Lock()
	r.index = index
	r.mu.Unlock()

	log.Debug().Int("mappings", len(index)).Msg("identity index loaded")
	return nil
}

// Resolve returns the external identifier for symbol, if one is mapped.
func (r *Resolver) Resolve(symbol string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index[model.NormalizeSymbol(symbol)]
	return id, ok
}

// Size returns the number of indexed mappings.
func (r *Resolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

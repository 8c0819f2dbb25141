package mappings

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/fetch"
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/providers/coingecko"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
)

const metaKey = "mappings"

// CoinLister supplies the provider's full identifier catalog.
type CoinLister interface {
	CoinList(ctx context.Context) ([]coingecko.CoinListEntry, error)
}

// Refresher rebuilds the identity_mappings table from the history
// provider's full coin list. Sole writer to the table; serializes against
// scans through the mappings advisory lock.
type Refresher struct {
	db     *store.DB
	lister CoinLister
}

func NewRefresher(db *store.DB, lister CoinLister) *Refresher {
	return &Refresher{db: db, lister: lister}
}

// Stale reports whether the table is older than maxAge or empty.
func (r *Refresher) Stale(ctx context.Context, maxAge time.Duration) (bool, error) {
	ctx, cancel := r.db.QueryCtx(ctx)
	defer cancel()

	var refreshedAt time.Time
	err := r.db.GetContext(ctx, &refreshedAt,
		`SELECT refreshed_at FROM refresh_meta WHERE store = $1`, metaKey)
	if store.IsNoRows(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read mappings refresh meta: %w", err)
	}
	return time.Since(refreshedAt) > maxAge, nil
}

// Refresh fetches the provider's coin list and rebuilds the table
// wholesale. List position approximates market rank; when several coins
// share a symbol the earliest (lowest rank) keeps the mapping.
func (r *Refresher) Refresh(ctx context.Context) error {
	release, err := r.db.AcquireLock(ctx, store.LockMappings)
	if err != nil {
		return err
	}
	defer release()

	coins, err := r.lister.CoinList(ctx)
	if err != nil {
		return fmt.Errorf("fetch coin list: %w", err)
	}
	if len(coins) == 0 {
		return fmt.Errorf("%w: provider returned empty coin list", fetch.ErrUnavailable)
	}

	records := make(map[string]model.IdentityRecord, len(coins))
	for i, c := range coins {
		sym := model.NormalizeSymbol(c.Symbol)
		if sym == "" || c.ID == "" {
			continue
		}
		if _, taken := records[sym]; taken {
			continue
		}
		records[sym] = model.IdentityRecord{
			Symbol:     sym,
			ExternalID: c.ID,
			Rank:       i,
			Source:     "coins_list",
		}
	}

	now := time.Now().UTC()

	qctx, cancel := r.db.QueryCtx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(qctx, nil)
	if err != nil {
		return fmt.Errorf("begin mappings rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(qctx, `DELETE FROM identity_mappings`); err != nil {
		return fmt.Errorf("clear identity mappings: %w", err)
	}

	for _, rec := range records {
		_, err := tx.ExecContext(qctx,
			`INSERT INTO identity_mappings (symbol, external_id, rank, source, updated_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			rec.Symbol, rec.ExternalID, rec.Rank, rec.Source, now)
		if err != nil {
			return fmt.Errorf("insert mapping %s: %w", rec.Symbol, err)
		}
	}

	_, err = tx.ExecContext(qctx,
		`INSERT INTO refresh_meta (store, refreshed_at, row_count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (store) DO UPDATE SET refreshed_at = $2, row_count = $3`,
		metaKey, now, len(records))
	if err != nil {
		return fmt.Errorf("update mappings refresh meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mappings rebuild: %w", err)
	}

	log.Info().Int("mappings", len(records)).Msg("identity mappings refreshed")
	return nil
}

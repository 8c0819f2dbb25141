package listings

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/fetch"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
)

const metaKey = "listings"

// Refresher rebuilds the exchange_listings table from venue public APIs.
// It runs on its own slow cadence and serializes against scans through
// the listings advisory lock; it is the sole writer to the table.
type Refresher struct {
	db       *store.DB
	fetchers []VenueFetcher
}

func NewRefresher(db *store.DB, fetchers ...VenueFetcher) *Refresher {
	return &Refresher{db: db, fetchers: fetchers}
}

// Stale reports whether the table is older than maxAge (or has never been
// built).
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
		return false, fmt.Errorf("read listings refresh meta: %w", err)
	}
	return time.Since(refreshedAt) > maxAge, nil
}

// Refresh fetches every venue's asset list and rebuilds the table
// wholesale: existing rows keep their first_seen, rows no longer reported
// by a venue are dropped. A venue whose fetch fails keeps its previous
// rows untouched.
func (r *Refresher) Refresh(ctx context.Context) error {
	release, err := r.db.AcquireLock(ctx, store.LockListings)
	if err != nil {
		return err
	}
	defer release()

	started := time.Now().UTC()
	total := 0
	succeeded := 0

	for _, f := range r.fetchers {
		listings, err := f.Fetch(ctx)
		if err != nil {
			log.Error().Str("venue", f.Venue()).Err(err).Msg("venue listing fetch failed, keeping previous rows")
			continue
		}
		if len(listings) == 0 {
			log.Warn().Str("venue", f.Venue()).Msg("venue returned no listings, keeping previous rows")
			continue
		}

		if err := r.rebuildVenue(ctx, f.Venue(), listings, started); err != nil {
			return err
		}

		log.Info().Str("venue", f.Venue()).Int("assets", len(listings)).Msg("venue listings refreshed")
		total += len(listings)
		succeeded++
	}

	// A round where no venue answered must not mark the table fresh, or a
	// dead refresh would silence itself for a whole cadence.
	if succeeded == 0 {
		log.Error().Int("venues", len(r.fetchers)).Msg("all venue listing fetches failed, leaving refresh meta unchanged")
		return fmt.Errorf("%w: no venue listings refreshed", fetch.ErrUnavailable)
	}

	qctx, cancel := r.db.QueryCtx(ctx)
	defer cancel()
	_, err = r.db.ExecContext(qctx,
		`INSERT INTO refresh_meta (store, refreshed_at, row_count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (store) DO UPDATE SET refreshed_at = $2, row_count = $3`,
		metaKey, started, total)
	if err != nil {
		return fmt.Errorf("update listings refresh meta: %w", err)
	}
	return nil
}

func (r *Refresher) rebuildVenue(ctx context.Context, venue string, listings []Listing, now time.Time) error {
	ctx, cancel := r.db.QueryCtx(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin listings rebuild: %w", err)
	}
	defer tx.Rollback()

	for _, l := range listings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO exchange_listings (venue, symbol, name, first_seen, last_seen, source)
			 VALUES ($1, $2, $3, $4, $4, $5)
			 ON CONFLICT (venue, symbol) DO UPDATE SET last_seen = $4, name = $3, source = $5`,
			venue, l.Symbol, l.Name, now, venue+"_api")
		if err != nil {
			return fmt.Errorf("upsert listing %s/%s: %w", venue, l.Symbol, err)
		}
	}

	// Anything not touched this round is delisted.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM exchange_listings WHERE venue = $1 AND last_seen < $2`, venue, now)
	if err != nil {
		return fmt.Errorf("prune delisted %s: %w", venue, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit listings rebuild: %w", err)
	}
	return nil
}

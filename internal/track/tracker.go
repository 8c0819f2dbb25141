package track

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
)

// Changes is the partition of one scan's qualifying set against the
// persisted active set. Exited assets carry their last persisted state
// because they are absent from the new qualifying set.
type Changes struct {
	Entered   []model.AssetSnapshot
	Exited    []model.ActiveQualifier
	Unchanged []model.AssetSnapshot
}

// Diff partitions qualifying against active. Both inputs are treated as
// immutable snapshots; Diff performs no I/O. Qualifying order is preserved
// for entered/unchanged, exits are sorted by symbol for stable output.
func Diff(active map[string]model.ActiveQualifier, qualifying []model.AssetSnapshot) Changes {
	var ch Changes

	seen := make(map[string]struct{}, len(qualifying))
	for _, a := range qualifying {
		key := model.NormalizeSymbol(a.Symbol)
		seen[key] = struct{}{}
		if _, ok := active[key]; ok {
			ch.Unchanged = append(ch.Unchanged, a)
		} else {
			ch.Entered = append(ch.Entered, a)
		}
	}

	for key, row := range active {
		if _, ok := seen[key]; !ok {
			ch.Exited = append(ch.Exited, row)
		}
	}
	sort.Slice(ch.Exited, func(i, j int) bool { return ch.Exited[i].Symbol < ch.Exited[j].Symbol })

	return ch
}

// Tracker owns all mutation of the active_qualifiers table and all appends
// to the scan_history log. Nothing else writes to either.
type Tracker struct {
	db *store.DB
}

func NewTracker(db *store.DB) *Tracker {
	return &Tracker{db: db}
}

// Active loads the persisted qualifying set keyed by normalized symbol.
func (t *Tracker) Active(ctx context.Context) (map[string]model.ActiveQualifier, error) {
	ctx, cancel := t.db.QueryCtx(ctx)
	defer cancel()

	var rows []model.ActiveQualifier
	err := t.db.SelectContext(ctx, &rows,
		`SELECT symbol, name, slug, external_id, entered_at, last_seen_at, last_scan_at,
		        gain_7d, gain_30d, uniformity_score, volume_24h
		 FROM active_qualifiers`)
	if err != nil {
		return nil, fmt.Errorf("load active qualifiers: %w", err)
	}

	active := make(map[string]model.ActiveQualifier, len(rows))
	for _, r := range rows {
		active[model.NormalizeSymbol(r.Symbol)] = r
	}
	return active, nil
}

// ActiveList returns the persisted qualifiers sorted by uniformity score,
// for the read-only query surface.
func (t *Tracker) ActiveList(ctx context.Context) ([]model.ActiveQualifier, error) {
	ctx, cancel := t.db.QueryCtx(ctx)
	defer cancel()

	var rows []model.ActiveQualifier
	err := t.db.SelectContext(ctx, &rows,
		`SELECT symbol, name, slug, external_id, entered_at, last_seen_at, last_scan_at,
		        gain_7d, gain_30d, uniformity_score, volume_24h
		 FROM active_qualifiers
		 ORDER BY uniformity_score DESC, symbol`)
	if err != nil {
		return nil, fmt.Errorf("load active qualifiers: %w", err)
	}
	return rows, nil
}

// Sync diffs the final qualifying set against persisted state and applies
// the result in one transaction: entered rows inserted, exited rows
// deleted, unchanged rows refreshed, and every qualifying symbol appended
// to scan_history. Events are only emitted by the caller after Sync
// returns, so an emitted "entered" always has a committed row behind it.
func (t *Tracker) Sync(ctx context.Context, runID string, qualifying []model.AssetSnapshot, now time.Time) (Changes, error) {
	active, err := t.Active(ctx)
	if err != nil {
		return Changes{}, err
	}

	ch := Diff(active, qualifying)

	ctx, cancel := t.db.QueryCtx(ctx)
	defer cancel()

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return Changes{}, fmt.Errorf("begin qualifier sync: %w", err)
	}
	defer tx.Rollback()

	for _, a := range ch.Entered {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO active_qualifiers
			   (symbol, name, slug, external_id, entered_at, last_seen_at, last_scan_at,
			    gain_7d, gain_30d, uniformity_score, volume_24h)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			model.NormalizeSymbol(a.Symbol), a.Name, a.Slug, a.ExternalID, now, now, now,
			a.Gains.Chg7d, a.Gains.Chg30d, a.UniformityScore, a.Volume24h)
		if err != nil {
			return Changes{}, fmt.Errorf("insert qualifier %s: %w", a.Symbol, err)
		}
	}

	for _, q := range ch.Exited {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM active_qualifiers WHERE symbol = $1`,
			model.NormalizeSymbol(q.Symbol))
		if err != nil {
			return Changes{}, fmt.Errorf("delete qualifier %s: %w", q.Symbol, err)
		}
	}

	for _, a := range ch.Unchanged {
		_, err := tx.ExecContext(ctx,
			`UPDATE active_qualifiers
			 SET name = $2, slug = $3, external_id = $4, last_seen_at = $5, last_scan_at = $5,
			     gain_7d = $6, gain_30d = $7, uniformity_score = $8, volume_24h = $9
			 WHERE symbol = $1`,
			model.NormalizeSymbol(a.Symbol), a.Name, a.Slug, a.ExternalID, now,
			a.Gains.Chg7d, a.Gains.Chg30d, a.UniformityScore, a.Volume24h)
		if err != nil {
			return Changes{}, fmt.Errorf("update qualifier %s: %w", a.Symbol, err)
		}
	}

	// Every qualifying symbol lands in the append-only log, entered or not.
	for _, a := range qualifying {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scan_history
			   (run_id, scanned_at, symbol, name, gain_7d, gain_30d, uniformity_score, volume_24h)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			runID, now, model.NormalizeSymbol(a.Symbol), a.Name,
			a.Gains.Chg7d, a.Gains.Chg30d, a.UniformityScore, a.Volume24h)
		if err != nil {
			return Changes{}, fmt.Errorf("append scan history %s: %w", a.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Changes{}, fmt.Errorf("commit qualifier sync: %w", err)
	}

	log.Info().
		Str("run_id", runID).
		Int("entered", len(ch.Entered)).
		Int("exited", len(ch.Exited)).
		Int("unchanged", len(ch.Unchanged)).
		Msg("qualifier state synced")

	return ch, nil
}

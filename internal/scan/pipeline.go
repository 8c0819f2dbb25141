package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/config"
	"github.com/edwardlthompson/linear-trend-spotter/internal/fetch"
	"github.com/edwardlthompson/linear-trend-spotter/internal/metrics"
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/notify"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
	"github.com/edwardlthompson/linear-trend-spotter/internal/track"
)

// Stage names used in logs and metrics.
const (
	StageFetch      = "fetch"
	StageListing    = "listing_check"
	StageVolume     = "volume_filter"
	StageGain       = "gain_filter"
	StageIdentity   = "identity_resolve"
	StageEnrich     = "history_enrich"
	StageUniformity = "uniformity_filter"
)

// SnapshotProvider delivers the bulk asset universe for a run.
type SnapshotProvider interface {
	TopAssets(ctx context.Context, limit int) ([]model.AssetSnapshot, error)
}

// ListingResolver answers which target venues list a symbol.
type ListingResolver interface {
	Load(ctx context.Context) error
	VenuesFor(symbol string) []string
}

// IdentityResolver maps symbols to history-provider identifiers.
type IdentityResolver interface {
	Load(ctx context.Context) error
	Resolve(symbol string) (string, bool)
}

// HistoryProvider serves the per-asset enrichment payload.
type HistoryProvider interface {
	GetHistory(ctx context.Context, id string) (*model.History, error)
}

// Syncer applies one run's qualifying set to durable state.
type Syncer interface {
	Sync(ctx context.Context, runID string, qualifying []model.AssetSnapshot, now time.Time) (track.Changes, error)
}

// Result summarizes one completed scan run.
type Result struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Stages     map[string]int        `json:"stages"`
	Qualifying []model.AssetSnapshot `json:"qualifying"`
	Entered    int                   `json:"entered"`
	Exited     int                   `json:"exited"`
	Unchanged  int                   `json:"unchanged"`
}

// Summary renders the run for terminal output.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s finished in %s\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "  qualifying: %d (entered %d, exited %d, unchanged %d)\n",
		len(r.Qualifying), r.Entered, r.Exited, r.Unchanged)
	for _, a := range r.Qualifying {
		fmt.Fprintf(&b, "  %-8s score %5.1f  7d %+6.1f%%  30d %+6.1f%%  vol $%.0fM\n",
			a.Symbol, a.UniformityScore, a.Gains.Chg7d, a.Gains.Chg30d, a.Volume24h/1e6)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Pipeline runs the staged scan: bulk fetch, listing check, volume and
// gain gates, identity resolution, concurrent history enrichment,
// uniformity gate, then the durable diff-and-sync. Only the bulk fetch
// aborts a run; every later stage drops individual assets.
type Pipeline struct {
	cfg       config.ScanConfig
	db        *store.DB
	snapshot  SnapshotProvider
	listings  ListingResolver
	identity  IdentityResolver
	history   HistoryProvider
	syncer    Syncer
	deliverer notify.Deliverer
	gains     *GainFilter
	meter     *metrics.Registry
}

func NewPipeline(
	cfg config.ScanConfig,
	db *store.DB,
	snapshot SnapshotProvider,
	listings ListingResolver,
	identity IdentityResolver,
	history HistoryProvider,
	syncer Syncer,
	deliverer notify.Deliverer,
	meter *metrics.Registry,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		db:        db,
		snapshot:  snapshot,
		listings:  listings,
		identity:  identity,
		history:   history,
		syncer:    syncer,
		deliverer: deliverer,
		gains:     NewGainFilter(cfg.GainThreshold7d, cfg.GainThreshold30d, cfg.ExcludedSymbols),
		meter:     meter,
	}
}

// Run executes one full scan under the scan advisory lock. A concurrent
// run on another process sees store.ErrContention instead of blocking.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	release, err := p.db.AcquireLock(ctx, store.LockScan)
	if err != nil {
		return nil, err
	}
	defer release()

	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Stages:    make(map[string]int),
	}
	runLog := log.With().Str("run_id", res.RunID).Logger()
	runLog.Info().Int("max_assets", p.cfg.MaxAssets).Msg("scan started")

	defer func() {
		res.FinishedAt = time.Now().UTC()
		if p.meter != nil {
			p.meter.ScanDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
		}
	}()

	// Read-side indexes are loaded once per run so every stage sees one
	// consistent view even if a refresher commits mid-scan.
	if err := p.listings.Load(ctx); err != nil {
		p.recordOutcome("error")
		return nil, fmt.Errorf("load listing index: %w", err)
	}
	if err := p.identity.Load(ctx); err != nil {
		p.recordOutcome("error")
		return nil, fmt.Errorf("load identity index: %w", err)
	}

	assets, err := p.snapshot.TopAssets(ctx, p.cfg.MaxAssets)
	if err != nil {
		p.recordOutcome("error")
		return nil, fmt.Errorf("scan aborted at %s: %w", StageFetch, err)
	}
	p.stage(res, StageFetch, len(assets))

	assets = p.listingCheck(assets)
	p.stage(res, StageListing, len(assets))

	assets = p.volumeFilter(assets)
	p.stage(res, StageVolume, len(assets))

	assets = p.gainFilter(assets)
	p.stage(res, StageGain, len(assets))

	assets = p.identityResolve(assets)
	p.stage(res, StageIdentity, len(assets))

	assets = p.enrich(ctx, assets, runLog)
	p.stage(res, StageEnrich, len(assets))

	qualifying := p.uniformityFilter(assets)
	p.stage(res, StageUniformity, len(qualifying))

	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].UniformityScore != qualifying[j].UniformityScore {
			return qualifying[i].UniformityScore > qualifying[j].UniformityScore
		}
		return qualifying[i].Symbol < qualifying[j].Symbol
	})
	res.Qualifying = qualifying

	now := time.Now().UTC()
	changes, err := p.syncer.Sync(ctx, res.RunID, qualifying, now)
	if err != nil {
		p.recordOutcome("error")
		return nil, fmt.Errorf("sync qualifier state: %w", err)
	}
	res.Entered = len(changes.Entered)
	res.Exited = len(changes.Exited)
	res.Unchanged = len(changes.Unchanged)

	p.deliver(ctx, res.RunID, changes, now, runLog)

	p.recordOutcome("ok")
	runLog.Info().
		Int("qualifying", len(qualifying)).
		Int("entered", res.Entered).
		Int("exited", res.Exited).
		Msg("scan finished")
	return res, nil
}

func (p *Pipeline) recordOutcome(outcome string) {
	if p.meter != nil {
		p.meter.ScansTotal.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) stage(res *Result, name string, survivors int) {
	res.Stages[name] = survivors
	p.meter.RecordStage(name, survivors)
	log.Debug().Str("stage", name).Int("survivors", survivors).Msg("stage complete")
}

// listingCheck keeps assets listed on at least one target venue and
// stamps the venue list onto the snapshot.
func (p *Pipeline) listingCheck(assets []model.AssetSnapshot) []model.AssetSnapshot {
	kept := assets[:0]
	for _, a := range assets {
		venues := p.listings.VenuesFor(a.Symbol)
		if len(venues) == 0 {
			p.meter.RecordDrop(StageListing, "unlisted")
			continue
		}
		a.Venues = venues
		kept = append(kept, a)
	}
	return kept
}

func (p *Pipeline) volumeFilter(assets []model.AssetSnapshot) []model.AssetSnapshot {
	kept := assets[:0]
	for _, a := range assets {
		if a.Volume24h < p.cfg.MinVolume24h {
			p.meter.RecordDrop(StageVolume, "low_volume")
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func (p *Pipeline) gainFilter(assets []model.AssetSnapshot) []model.AssetSnapshot {
	kept := assets[:0]
	for _, a := range assets {
		if !p.gains.Pass(a) {
			p.meter.RecordDrop(StageGain, "below_threshold")
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func (p *Pipeline) identityResolve(assets []model.AssetSnapshot) []model.AssetSnapshot {
	kept := assets[:0]
	for _, a := range assets {
		id, ok := p.identity.Resolve(a.Symbol)
		if !ok {
			p.meter.RecordDrop(StageIdentity, "unmapped")
			log.Debug().Str("symbol", a.Symbol).Msg("no identity mapping, skipping")
			continue
		}
		a.ExternalID = id
		kept = append(kept, a)
	}
	return kept
}

// enrich fetches history for each surviving asset through a bounded
// worker pool. A failed asset is dropped from this run; the shared fetch
// client's limiter and breaker keep the workers collectively inside the
// provider's rate budget.
func (p *Pipeline) enrich(ctx context.Context, assets []model.AssetSnapshot, runLog zerolog.Logger) []model.AssetSnapshot {
	workers := p.cfg.EnrichWorkers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	enriched := make([]*model.AssetSnapshot, len(assets))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				a := assets[i]
				h, err := p.history.GetHistory(ctx, a.ExternalID)
				if err != nil {
					reason := "fetch_failed"
					if errors.Is(err, fetch.ErrNotFound) {
						reason = "not_found"
					}
					p.meter.RecordDrop(StageEnrich, reason)
					runLog.Warn().Str("symbol", a.Symbol).Err(err).Msg("history enrichment failed, dropping asset")
					continue
				}
				a.VenueVolumes = h.VenueVolumes
				a.UniformityScore = h.UniformityScore
				a.TotalGain30d = h.TotalGain
				enriched[i] = &a
			}
		}()
	}

feed:
	for i := range assets {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	kept := make([]model.AssetSnapshot, 0, len(assets))
	for _, a := range enriched {
		if a != nil {
			kept = append(kept, *a)
		}
	}
	return kept
}

func (p *Pipeline) uniformityFilter(assets []model.AssetSnapshot) []model.AssetSnapshot {
	kept := assets[:0]
	for _, a := range assets {
		// A realized loss over the window never qualifies, whatever the
		// configured minimum score allows.
		if a.TotalGain30d <= 0 {
			p.meter.RecordDrop(StageUniformity, "no_gain")
			continue
		}
		if a.UniformityScore < p.cfg.UniformityMinScore {
			p.meter.RecordDrop(StageUniformity, "low_score")
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// deliver emits entered/exited events after the sync commit. Delivery
// failure is logged, never propagated: the committed state is the truth.
func (p *Pipeline) deliver(ctx context.Context, runID string, changes track.Changes, now time.Time, runLog zerolog.Logger) {
	if p.deliverer == nil {
		return
	}

	events := make([]notify.Event, 0, len(changes.Entered)+len(changes.Exited))
	for _, a := range changes.Entered {
		events = append(events, notify.EnteredEvent(runID, a, now))
		p.meter.RecordEvent(string(notify.EventEntered))
	}
	for _, q := range changes.Exited {
		events = append(events, notify.ExitedEvent(runID, q, now))
		p.meter.RecordEvent(string(notify.EventExited))
	}
	if len(events) == 0 {
		return
	}

	if err := p.deliverer.Deliver(ctx, events); err != nil {
		runLog.Error().Err(err).Int("events", len(events)).Msg("event delivery failed")
	}
}

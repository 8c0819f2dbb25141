package scan

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardlthompson/linear-trend-spotter/internal/config"
	"github.com/edwardlthompson/linear-trend-spotter/internal/fetch"
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/notify"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
	"github.com/edwardlthompson/linear-trend-spotter/internal/track"
)

type stubSnapshot struct {
	assets []model.AssetSnapshot
	err    error
}

func (s *stubSnapshot) TopAssets(ctx context.Context, limit int) ([]model.AssetSnapshot, error) {
	return s.assets, s.err
}

type stubListings struct {
	venues map[string][]string
}

func (s *stubListings) Load(ctx context.Context) error { return nil }
func (s *stubListings) VenuesFor(symbol string) []string {
	return s.venues[model.NormalizeSymbol(symbol)]
}

type stubIdentity struct {
	ids map[string]string
}

func (s *stubIdentity) Load(ctx context.Context) error { return nil }
func (s *stubIdentity) Resolve(symbol string) (string, bool) {
	id, ok := s.ids[model.NormalizeSymbol(symbol)]
	return id, ok
}

type stubHistory struct {
	byID map[string]*model.History
	errs map[string]error
}

func (s *stubHistory) GetHistory(ctx context.Context, id string) (*model.History, error) {
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	return s.byID[id], nil
}

type stubSyncer struct {
	active     map[string]model.ActiveQualifier
	qualifying []model.AssetSnapshot
}

func (s *stubSyncer) Sync(ctx context.Context, runID string, qualifying []model.AssetSnapshot, now time.Time) (track.Changes, error) {
	s.qualifying = qualifying
	return track.Diff(s.active, qualifying), nil
}

type stubDeliverer struct {
	events []notify.Event
}

func (s *stubDeliverer) Deliver(ctx context.Context, events []notify.Event) error {
	s.events = append(s.events, events...)
	return nil
}

func lockableDB(t *testing.T) (*store.DB, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })

	return store.NewForTest(sqlx.NewDb(rawDB, "postgres")), mock
}

func expectScanLock(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("pg_try_advisory_lock").
		WithArgs(store.LockScan).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("pg_advisory_unlock").
		WithArgs(store.LockScan).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func scanCfg() config.ScanConfig {
	cfg := config.Default().Scan
	cfg.EnrichWorkers = 2
	return cfg
}

func TestPipeline_Run(t *testing.T) {
	db, mock := lockableDB(t)
	expectScanLock(mock)

	snapshot := &stubSnapshot{assets: []model.AssetSnapshot{
		{Symbol: "BTC", Name: "Bitcoin", Volume24h: 25_000_000_000, Gains: model.Gains{Chg7d: 3.2, Chg30d: 11.5}},
		{Symbol: "SOL", Name: "Solana", Volume24h: 1_800_000_000, Gains: model.Gains{Chg7d: 9.4, Chg30d: 38.2}},
		{Symbol: "JAG", Name: "Jagged", Volume24h: 90_000_000, Gains: model.Gains{Chg7d: 12, Chg30d: 44}},
		{Symbol: "THIN", Name: "Thin", Volume24h: 500_000, Gains: model.Gains{Chg7d: 20, Chg30d: 80}},
		{Symbol: "OFF", Name: "OffVenue", Volume24h: 5_000_000, Gains: model.Gains{Chg7d: 15, Chg30d: 50}},
		{Symbol: "GHOST", Name: "Unmapped", Volume24h: 8_000_000, Gains: model.Gains{Chg7d: 10, Chg30d: 40}},
		{Symbol: "USDT", Name: "Tether", Volume24h: 60_000_000_000, Gains: model.Gains{Chg7d: 8, Chg30d: 31}},
	}}

	listings := &stubListings{venues: map[string][]string{
		"BTC":   {"coinbase", "kraken"},
		"SOL":   {"coinbase", "kraken", "mexc"},
		"JAG":   {"mexc"},
		"THIN":  {"mexc"},
		"GHOST": {"kraken"},
		"USDT":  {"coinbase", "kraken", "mexc"},
	}}

	identity := &stubIdentity{ids: map[string]string{
		"BTC": "bitcoin",
		"SOL": "solana",
		"JAG": "jagged-token",
	}}

	history := &stubHistory{byID: map[string]*model.History{
		"solana": {
			VenueVolumes:    map[string]float64{"coinbase": 12_000_000, "kraken": 9_000_000},
			UniformityScore: 100,
			TotalGain:       38.2,
		},
		"jagged-token": {
			VenueVolumes:    map[string]float64{"mexc": 2_000_000},
			UniformityScore: 20.5,
			TotalGain:       44,
		},
	}}

	syncer := &stubSyncer{active: map[string]model.ActiveQualifier{}}
	deliverer := &stubDeliverer{}

	p := NewPipeline(scanCfg(), db, snapshot, listings, identity, history, syncer, deliverer, nil)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, res.Stages[StageFetch])
	assert.Equal(t, 6, res.Stages[StageListing], "OFF is unlisted")
	assert.Equal(t, 5, res.Stages[StageVolume], "THIN is below minimum volume")
	assert.Equal(t, 3, res.Stages[StageGain], "BTC misses thresholds, USDT is excluded")
	assert.Equal(t, 2, res.Stages[StageIdentity], "GHOST has no mapping")
	assert.Equal(t, 2, res.Stages[StageEnrich])
	assert.Equal(t, 1, res.Stages[StageUniformity], "JAG scores below the minimum")

	require.Len(t, res.Qualifying, 1)
	sol := res.Qualifying[0]
	assert.Equal(t, "SOL", sol.Symbol)
	assert.Equal(t, "solana", sol.ExternalID)
	assert.Equal(t, 100.0, sol.UniformityScore)
	assert.Equal(t, []string{"coinbase", "kraken", "mexc"}, sol.Venues)

	assert.Equal(t, 1, res.Entered)
	assert.Equal(t, 0, res.Exited)
	require.Len(t, deliverer.events, 1)
	assert.Equal(t, notify.EventEntered, deliverer.events[0].Kind)
	assert.Equal(t, "SOL", deliverer.events[0].Symbol)
	assert.Equal(t, res.RunID, deliverer.events[0].RunID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_SecondRunIsUnchanged(t *testing.T) {
	db, mock := lockableDB(t)
	expectScanLock(mock)

	snapshot := &stubSnapshot{assets: []model.AssetSnapshot{
		{Symbol: "SOL", Name: "Solana", Volume24h: 1_800_000_000, Gains: model.Gains{Chg7d: 9.4, Chg30d: 38.2}},
	}}
	listings := &stubListings{venues: map[string][]string{"SOL": {"coinbase"}}}
	identity := &stubIdentity{ids: map[string]string{"SOL": "solana"}}
	history := &stubHistory{byID: map[string]*model.History{
		"solana": {UniformityScore: 100, TotalGain: 38.2},
	}}
	syncer := &stubSyncer{active: map[string]model.ActiveQualifier{
		"SOL": {Symbol: "SOL", Name: "Solana"},
	}}
	deliverer := &stubDeliverer{}

	p := NewPipeline(scanCfg(), db, snapshot, listings, identity, history, syncer, deliverer, nil)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Entered)
	assert.Equal(t, 1, res.Unchanged)
	assert.Empty(t, deliverer.events, "no transition means no events")
}

func TestPipeline_LosingSeriesNeverQualifies(t *testing.T) {
	db, mock := lockableDB(t)
	expectScanLock(mock)

	snapshot := &stubSnapshot{assets: []model.AssetSnapshot{
		{Symbol: "DIP", Name: "Dipper", Volume24h: 40_000_000, Gains: model.Gains{Chg7d: 9, Chg30d: 35}},
	}}
	listings := &stubListings{venues: map[string][]string{"DIP": {"kraken"}}}
	identity := &stubIdentity{ids: map[string]string{"DIP": "dipper"}}
	// Snapshot gains pass the gate but the fetched window realized a loss.
	history := &stubHistory{byID: map[string]*model.History{
		"dipper": {UniformityScore: 0, TotalGain: -12.5},
	}}
	syncer := &stubSyncer{active: map[string]model.ActiveQualifier{}}
	deliverer := &stubDeliverer{}

	cfg := scanCfg()
	cfg.UniformityMinScore = 0

	p := NewPipeline(cfg, db, snapshot, listings, identity, history, syncer, deliverer, nil)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stages[StageEnrich])
	assert.Equal(t, 0, res.Stages[StageUniformity], "a zero minimum score still requires a positive gain")
	assert.Empty(t, res.Qualifying)
	assert.Empty(t, deliverer.events)
}

func TestPipeline_EnrichFailureDropsAssetOnly(t *testing.T) {
	db, mock := lockableDB(t)
	expectScanLock(mock)

	snapshot := &stubSnapshot{assets: []model.AssetSnapshot{
		{Symbol: "SOL", Name: "Solana", Volume24h: 1_800_000_000, Gains: model.Gains{Chg7d: 9.4, Chg30d: 38.2}},
		{Symbol: "BROKE", Name: "Broken", Volume24h: 9_000_000, Gains: model.Gains{Chg7d: 11, Chg30d: 42}},
	}}
	listings := &stubListings{venues: map[string][]string{"SOL": {"coinbase"}, "BROKE": {"mexc"}}}
	identity := &stubIdentity{ids: map[string]string{"SOL": "solana", "BROKE": "broken-token"}}
	history := &stubHistory{
		byID: map[string]*model.History{"solana": {UniformityScore: 100, TotalGain: 38.2}},
		errs: map[string]error{"broken-token": fetch.ErrNotFound},
	}
	syncer := &stubSyncer{active: map[string]model.ActiveQualifier{}}

	p := NewPipeline(scanCfg(), db, snapshot, listings, identity, history, syncer, notify.LogDeliverer{}, nil)
	res, err := p.Run(context.Background())
	require.NoError(t, err, "a single asset's enrichment failure does not abort the run")

	assert.Equal(t, 2, res.Stages[StageIdentity])
	assert.Equal(t, 1, res.Stages[StageEnrich])
	require.Len(t, res.Qualifying, 1)
	assert.Equal(t, "SOL", res.Qualifying[0].Symbol)
}

func TestPipeline_BulkFetchFailureAbortsRun(t *testing.T) {
	db, mock := lockableDB(t)
	expectScanLock(mock)

	snapshot := &stubSnapshot{err: fetch.ErrUnavailable}
	p := NewPipeline(scanCfg(), db, snapshot, &stubListings{}, &stubIdentity{}, &stubHistory{}, &stubSyncer{}, nil, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetch.ErrUnavailable)
}

func TestPipeline_LockContention(t *testing.T) {
	db, mock := lockableDB(t)
	mock.ExpectQuery("pg_try_advisory_lock").
		WithArgs(store.LockScan).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	p := NewPipeline(scanCfg(), db, &stubSnapshot{}, &stubListings{}, &stubIdentity{}, &stubHistory{}, &stubSyncer{}, nil, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrContention, "a concurrent run is refused, not queued")
}

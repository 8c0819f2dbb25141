package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/config"
	"github.com/edwardlthompson/linear-trend-spotter/internal/fetch"
	"github.com/edwardlthompson/linear-trend-spotter/internal/history"
	"github.com/edwardlthompson/linear-trend-spotter/internal/listings"
	"github.com/edwardlthompson/linear-trend-spotter/internal/mappings"
	"github.com/edwardlthompson/linear-trend-spotter/internal/metrics"
	"github.com/edwardlthompson/linear-trend-spotter/internal/notify"
	"github.com/edwardlthompson/linear-trend-spotter/internal/providers/cmc"
	"github.com/edwardlthompson/linear-trend-spotter/internal/providers/coingecko"
	"github.com/edwardlthompson/linear-trend-spotter/internal/scan"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
	"github.com/edwardlthompson/linear-trend-spotter/internal/track"
)

// App owns the wired component graph: storage handles, providers,
// refreshers, and the scan pipeline. Commands construct one App and call
// into it.
type App struct {
	Cfg   *config.Config
	DB    *store.DB
	Meter *metrics.Registry

	Tracker           *track.Tracker
	Pipeline          *scan.Pipeline
	ListingsRefresher *listings.Refresher
	MappingsRefresher *mappings.Refresher

	redis *redis.Client
}

// New connects storage and wires every component against cfg.
func New(cfg *config.Config) (*App, error) {
	db, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Storage.RedisAddr,
		DB:   cfg.Storage.RedisDB,
	})

	meter := metrics.NewRegistry()
	client := fetch.NewClient(cfg, meter)

	snapshot := cmc.NewClient(client, cfg.Providers.Snapshot)
	gecko := coingecko.NewClient(client, cfg.Providers.History)

	cache := history.NewCache(rdb, cfg.Storage.HistoryTTL)
	historyProvider := history.NewProvider(cache, gecko, cfg.Scan.TargetVenues, cfg.Scan.WindowDays, meter)

	listingResolver := listings.NewResolver(db, cfg.Scan.TargetVenues)
	identityResolver := mappings.NewResolver(db)
	tracker := track.NewTracker(db)

	pipeline := scan.NewPipeline(
		cfg.Scan,
		db,
		snapshot,
		listingResolver,
		identityResolver,
		historyProvider,
		tracker,
		notify.LogDeliverer{},
		meter,
	)

	return &App{
		Cfg:      cfg,
		DB:       db,
		Meter:    meter,
		Tracker:  tracker,
		Pipeline: pipeline,
		ListingsRefresher: listings.NewRefresher(db,
			listings.NewCoinbaseFetcher(client, ""),
			listings.NewKrakenFetcher(client, ""),
			listings.NewMexcFetcher(client, ""),
		),
		MappingsRefresher: mappings.NewRefresher(db, gecko),
		redis:             rdb,
	}, nil
}

// Close releases storage handles.
func (a *App) Close() {
	if err := a.redis.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close failed")
	}
	if err := a.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("postgres close failed")
	}
}

// EnsureFresh rebuilds the listing and identity tables when they are
// older than their configured maximum age. Called before a scan so a
// first run on an empty database bootstraps itself.
func (a *App) EnsureFresh(ctx context.Context) error {
	stale, err := a.ListingsRefresher.Stale(ctx, a.Cfg.Refresh.ListingsMaxAge)
	if err != nil {
		return err
	}
	if stale {
		log.Info().Msg("exchange listings stale, refreshing")
		if err := a.ListingsRefresher.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh listings: %w", err)
		}
	}

	stale, err = a.MappingsRefresher.Stale(ctx, a.Cfg.Refresh.MappingsMaxAge)
	if err != nil {
		return err
	}
	if stale {
		log.Info().Msg("identity mappings stale, refreshing")
		if err := a.MappingsRefresher.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh mappings: %w", err)
		}
	}
	return nil
}

// RunScan freshens the lookup tables if needed and executes one scan.
func (a *App) RunScan(ctx context.Context) (*scan.Result, error) {
	if err := a.EnsureFresh(ctx); err != nil {
		return nil, err
	}
	return a.Pipeline.Run(ctx)
}

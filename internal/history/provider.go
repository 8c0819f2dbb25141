package history

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/metrics"
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/scoring"
)

// ChartSource is the slice of the history provider the enrichment path
// needs.
type ChartSource interface {
	Tickers(ctx context.Context, id string, venues []string) (map[string]float64, error)
	MarketChart(ctx context.Context, id string, days int) ([]float64, error)
}

// Provider serves per-asset history, consulting the TTL cache before the
// upstream provider. On a miss it fetches venue volumes and the daily
// price series, scores the series, and writes the assembled payload back
// to the cache.
type Provider struct {
	cache      *Cache
	source     ChartSource
	venues     []string
	windowDays int
	meter      *metrics.Registry
}

func NewProvider(cache *Cache, source ChartSource, venues []string, windowDays int, meter *metrics.Registry) *Provider {
	return &Provider{
		cache:      cache,
		source:     source,
		venues:     venues,
		windowDays: windowDays,
		meter:      meter,
	}
}

// GetHistory returns the enrichment payload for the given external
// identifier. Cache hits cost no network calls; Redis failures degrade to
// a fetch rather than failing the asset.
func (p *Provider) GetHistory(ctx context.Context, id string) (*model.History, error) {
	if p.cache != nil {
		h, ok, err := p.cache.Get(ctx, id)
		if err != nil {
			log.Warn().Str("id", id).Err(err).Msg("history cache unavailable, fetching")
		} else if ok {
			p.meter.RecordCache(true)
			return h, nil
		}
	}
	p.meter.RecordCache(false)

	volumes, err := p.source.Tickers(ctx, id, p.venues)
	if err != nil {
		return nil, err
	}

	prices, err := p.source.MarketChart(ctx, id, p.windowDays)
	if err != nil {
		return nil, err
	}
	window := scoring.Window(prices, p.windowDays)
	score, gain := scoring.Uniformity(window)

	h := &model.History{
		Prices:          window,
		VenueVolumes:    volumes,
		UniformityScore: score,
		TotalGain:       gain,
		FetchedAt:       time.Now().UTC(),
	}

	if p.cache != nil {
		if err := p.cache.Put(ctx, id, h); err != nil {
			log.Warn().Str("id", id).Err(err).Msg("history cache write failed")
		}
	}
	return h, nil
}

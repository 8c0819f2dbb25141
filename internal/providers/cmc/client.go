package cmc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/config"
	"github.com/edwardlthompson/linear-trend-spotter/internal/fetch"
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
)

// service is the fetch-client bucket for the bulk snapshot provider.
const service = "snapshot"

// Client is the bulk market snapshot provider: one listings call per scan
// returning the full asset universe with volume and multi-window
// percentage changes.
type Client struct {
	client  *fetch.Client
	baseURL string
	apiKey  string
}

func NewClient(client *fetch.Client, cfg config.SnapshotProviderConfig) *Client {
	return &Client{client: client, baseURL: cfg.BaseURL, apiKey: cfg.APIKey}
}

type listingsResponse struct {
	Data []struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
		Slug   string `json:"slug"`
		Quote  struct {
			USD struct {
				Volume24h float64 `json:"volume_24h"`
				Chg7d     float64 `json:"percent_change_7d"`
				Chg30d    float64 `json:"percent_change_30d"`
				Chg60d    float64 `json:"percent_change_60d"`
				Chg90d    float64 `json:"percent_change_90d"`
			} `json:"USD"`
		} `json:"quote"`
	} `json:"data"`
}

// TopAssets fetches up to limit assets ranked by market cap. This is the
// single bulk request of a scan: if it fails after the fetch client's
// retries, the whole run aborts.
func (c *Client) TopAssets(ctx context.Context, limit int) ([]model.AssetSnapshot, error) {
	u := fmt.Sprintf("%s/v1/cryptocurrency/listings/latest?%s", c.baseURL, url.Values{
		"limit":   {fmt.Sprint(limit)},
		"convert": {"USD"},
		"sort":    {"market_cap"},
	}.Encode())

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	}

	var resp listingsResponse
	if err := c.client.GetJSON(ctx, service, u, header, &resp); err != nil {
		return nil, fmt.Errorf("bulk snapshot: %w", err)
	}

	assets := make([]model.AssetSnapshot, 0, len(resp.Data))
	seen := make(map[string]struct{}, len(resp.Data))
	for _, d := range resp.Data {
		sym := model.NormalizeSymbol(d.Symbol)
		if sym == "" {
			continue
		}
		// First occurrence wins: the response is ranked by market cap.
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		assets = append(assets, model.AssetSnapshot{
			Symbol:    sym,
			Name:      d.Name,
			Slug:      d.Slug,
			Volume24h: d.Quote.USD.Volume24h,
			Gains: model.Gains{
				Chg7d:  d.Quote.USD.Chg7d,
				Chg30d: d.Quote.USD.Chg30d,
				Chg60d: d.Quote.USD.Chg60d,
				Chg90d: d.Quote.USD.Chg90d,
			},
		})
	}

	log.Info().Int("assets", len(assets)).Msg("bulk snapshot fetched")
	return assets, nil
}

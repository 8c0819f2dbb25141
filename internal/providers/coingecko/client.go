package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/edwardlthompson/linear-trend-spotter/internal/config"
	"github.com/edwardlthompson/linear-trend-spotter/internal/fetch"
)

// service is the fetch-client bucket shared by all history-provider
// calls, so ticker and chart requests draw from one rate budget.
const service = "history"

// Client talks to the per-asset history provider: venue ticker volumes
// and daily price charts, keyed by the provider's own coin identifiers.
type Client struct {
	client  *fetch.Client
	baseURL string
}

func NewClient(client *fetch.Client, cfg config.HistoryProviderConfig) *Client {
	return &Client{client: client, baseURL: cfg.BaseURL}
}

type tickersResponse struct {
	Tickers []struct {
		Market struct {
			Name       string `json:"name"`
			Identifier string `json:"identifier"`
		} `json:"market"`
		ConvertedVolume struct {
			USD float64 `json:"usd"`
		} `json:"converted_volume"`
	} `json:"tickers"`
}

// Tickers returns 24h USD volume per target venue for the given coin.
// A venue can appear under several pair tickers; the largest volume is
// kept. Venues with no ticker are simply absent from the result.
func (c *Client) Tickers(ctx context.Context, id string, venues []string) (map[string]float64, error) {
	u := fmt.Sprintf("%s/coins/%s/tickers", c.baseURL, url.PathEscape(id))

	var resp tickersResponse
	if err := c.client.GetJSON(ctx, service, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("tickers for %s: %w", id, err)
	}

	volumes := make(map[string]float64)
	for _, t := range resp.Tickers {
		venue := matchVenue(t.Market.Identifier, t.Market.Name, venues)
		if venue == "" {
			continue
		}
		if t.ConvertedVolume.USD > volumes[venue] {
			volumes[venue] = t.ConvertedVolume.USD
		}
	}
	return volumes, nil
}

// matchVenue maps a ticker's market identifier or display name onto one
// of the configured venue keys. Substring match covers provider naming
// like "kraken" vs "Kraken" vs "gdax"/"Coinbase Exchange".
func matchVenue(identifier, name string, venues []string) string {
	ident := strings.ToLower(identifier)
	disp := strings.ToLower(name)
	for _, v := range venues {
		key := strings.ToLower(v)
		if strings.Contains(ident, key) || strings.Contains(disp, key) {
			return v
		}
	}
	return ""
}

type marketChartResponse struct {
	Prices [][]float64 `json:"prices"`
}

// MarketChart returns the daily closing prices for the trailing days
// window, oldest first.
func (c *Client) MarketChart(ctx context.Context, id string, days int) ([]float64, error) {
	u := fmt.Sprintf("%s/coins/%s/market_chart?%s", c.baseURL, url.PathEscape(id), url.Values{
		"vs_currency": {"usd"},
		"days":        {fmt.Sprint(days)},
		"interval":    {"daily"},
	}.Encode())

	var resp marketChartResponse
	if err := c.client.GetJSON(ctx, service, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("market chart for %s: %w", id, err)
	}

	prices := make([]float64, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		if len(p) < 2 {
			continue
		}
		prices = append(prices, p[1])
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: empty price chart for %s", fetch.ErrUnavailable, id)
	}
	return prices, nil
}

// CoinList returns the provider's full identifier catalog, used by the
// identity mapping refresher.
type CoinListEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

func (c *Client) CoinList(ctx context.Context) ([]CoinListEntry, error) {
	var coins []CoinListEntry
	if err := c.client.GetJSON(ctx, service, c.baseURL+"/coins/list", nil, &coins); err != nil {
		return nil, fmt.Errorf("coin list: %w", err)
	}
	return coins, nil
}

package listings

import (
	"context"
	"fmt"
	"strings"

	"github.com/edwardlthompson/linear-trend-spotter/internal/fetch"
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
)

// fetchService is the shared rate-limit/breaker bucket for all public
// venue endpoints.
const fetchService = "venues"

// Listing is one asset a venue reports as tradable.
type Listing struct {
	Symbol string
	Name   string
}

// VenueFetcher pulls the current asset list from one venue's public API.
type VenueFetcher interface {
	Venue() string
	Fetch(ctx context.Context) ([]Listing, error)
}

// CoinbaseFetcher reads the public products endpoint.
type CoinbaseFetcher struct {
	client  *fetch.Client
	baseURL string
}

func NewCoinbaseFetcher(client *fetch.Client, baseURL string) *CoinbaseFetcher {
	if baseURL == "" {
		baseURL = "https://api.exchange.coinbase.com"
	}
	return &CoinbaseFetcher{client: client, baseURL: baseURL}
}

func (f *CoinbaseFetcher) Venue() string { return "coinbase" }

func (f *CoinbaseFetcher) Fetch(ctx context.Context) ([]Listing, error) {
	var products []struct {
		ID           string `json:"id"`
		BaseCurrency string `json:"base_currency"`
	}
	if err := f.client.GetJSON(ctx, fetchService, f.baseURL+"/products", nil, &products); err != nil {
		return nil, fmt.Errorf("coinbase products: %w", err)
	}

	seen := make(map[string]struct{}, len(products))
	var listings []Listing
	for _, p := range products {
		sym := model.NormalizeSymbol(p.BaseCurrency)
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		listings = append(listings, Listing{Symbol: sym, Name: sym})
	}
	return listings, nil
}

// KrakenFetcher reads the public AssetPairs endpoint and normalizes
// Kraken's legacy asset codes so they match bulk-provider symbols.
type KrakenFetcher struct {
	client  *fetch.Client
	baseURL string
}

func NewKrakenFetcher(client *fetch.Client, baseURL string) *KrakenFetcher {
	if baseURL == "" {
		baseURL = "https://api.kraken.com"
	}
	return &KrakenFetcher{client: client, baseURL: baseURL}
}

func (f *KrakenFetcher) Venue() string { return "kraken" }

func (f *KrakenFetcher) Fetch(ctx context.Context) ([]Listing, error) {
	var payload struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			Base string `json:"base"`
		} `json:"result"`
	}
	if err := f.client.GetJSON(ctx, fetchService, f.baseURL+"/0/public/AssetPairs", nil, &payload); err != nil {
		return nil, fmt.Errorf("kraken asset pairs: %w", err)
	}
	if len(payload.Error) > 0 {
		return nil, fmt.Errorf("%w: kraken: %s", fetch.ErrUnavailable, strings.Join(payload.Error, "; "))
	}

	seen := make(map[string]struct{})
	var listings []Listing
	for _, pair := range payload.Result {
		sym := normalizeKrakenAsset(pair.Base)
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		listings = append(listings, Listing{Symbol: sym, Name: sym})
	}
	return listings, nil
}

// normalizeKrakenAsset maps Kraken's internal codes (XXBT, ZUSD, XBT.S)
// to conventional symbols.
func normalizeKrakenAsset(code string) string {
	code = model.NormalizeSymbol(code)
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[:i] // staking/margin suffixes like XBT.S
	}
	if len(code) == 4 && (code[0] == 'X' || code[0] == 'Z') {
		code = code[1:]
	}
	switch code {
	case "XBT":
		return "BTC"
	case "XDG":
		return "DOGE"
	}
	return code
}

// MexcFetcher derives base assets from the public ticker list, since MEXC
// has no dedicated listings endpoint.
type MexcFetcher struct {
	client  *fetch.Client
	baseURL string
}

var mexcQuotes = []string{"USDT", "USDC", "TUSD", "BTC", "ETH"}

func NewMexcFetcher(client *fetch.Client, baseURL string) *MexcFetcher {
	if baseURL == "" {
		baseURL = "https://api.mexc.com"
	}
	return &MexcFetcher{client: client, baseURL: baseURL}
}

func (f *MexcFetcher) Venue() string { return "mexc" }

func (f *MexcFetcher) Fetch(ctx context.Context) ([]Listing, error) {
	var tickers []struct {
		Symbol string `json:"symbol"`
	}
	if err := f.client.GetJSON(ctx, fetchService, f.baseURL+"/api/v3/ticker/price", nil, &tickers); err != nil {
		return nil, fmt.Errorf("mexc tickers: %w", err)
	}

	seen := make(map[string]struct{})
	var listings []Listing
	for _, t := range tickers {
		pair := model.NormalizeSymbol(t.Symbol)
		for _, quote := range mexcQuotes {
			if strings.HasSuffix(pair, quote) && len(pair) > len(quote) {
				base := pair[:len(pair)-len(quote)]
				if _, dup := seen[base]; !dup {
					seen[base] = struct{}{}
					listings = append(listings, Listing{Symbol: base, Name: base})
				}
				break
			}
		}
	}
	return listings, nil
}

package model

import "strings"

// Gains holds percentage changes over the fixed lookback windows reported
// by the bulk snapshot provider. 60d/90d are populated when available.
type Gains struct {
	Chg7d  float64 `json:"chg_7d"`
	Chg30d float64 `json:"chg_30d"`
	Chg60d float64 `json:"chg_60d,omitempty"`
	Chg90d float64 `json:"chg_90d,omitempty"`
}

// AssetSnapshot is one asset's state as it moves through the pipeline.
// Stages only add fields, never rewrite earlier ones, so a snapshot that
// fell out mid-run still shows everything that was known about it.
type AssetSnapshot struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Slug      string  `json:"slug,omitempty"`
	Volume24h float64 `json:"volume_24h"`
	Gains     Gains   `json:"gains"`

	// Added by ListingCheck.
	Venues []string `json:"venues,omitempty"`

	// Added by IdentityResolve.
	ExternalID string `json:"external_id,omitempty"`

	// Added by HistoryEnrich.
	VenueVolumes    map[string]float64 `json:"venue_volumes,omitempty"`
	UniformityScore float64            `json:"uniformity_score"`
	TotalGain30d    float64            `json:"total_gain_30d"`
}

// NormalizeSymbol canonicalizes an asset symbol for use as a set key.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

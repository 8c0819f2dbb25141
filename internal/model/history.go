package model

import "time"

// History is the enrichment payload for one asset: its daily closing
// series over the scoring window, per-venue volumes, and the uniformity
// figures derived from the series.
type History struct {
	Prices          []float64          `json:"prices"`
	VenueVolumes    map[string]float64 `json:"venue_volumes"`
	UniformityScore float64            `json:"uniformity_score"`
	TotalGain       float64            `json:"total_gain"`
	FetchedAt       time.Time          `json:"fetched_at"`
}

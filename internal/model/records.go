package model

import "time"

// ListingRecord maps a (venue, symbol) pair to its listing metadata.
// Owned by the listing resolver; rebuilt wholesale on a slow cadence and
// read-only during a scan.
type ListingRecord struct {
	Venue     string    `db:"venue" json:"venue"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Name      string    `db:"name" json:"name"`
	FirstSeen time.Time `db:"first_seen" json:"first_seen"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
	Source    string    `db:"source" json:"source"`
}

// IdentityRecord maps a symbol to the external identifier the history
// provider keys on. Rank breaks ties when several assets share a symbol.
type IdentityRecord struct {
	Symbol     string    `db:"symbol" json:"symbol"`
	ExternalID string    `db:"external_id" json:"external_id"`
	Rank       int       `db:"rank" json:"rank"`
	Source     string    `db:"source" json:"source"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ActiveQualifier is one row of durable entry/exit state: a symbol is in
// this set iff it passed every filter stage on the most recent scan.
type ActiveQualifier struct {
	Symbol          string    `db:"symbol" json:"symbol"`
	Name            string    `db:"name" json:"name"`
	Slug            string    `db:"slug" json:"slug"`
	ExternalID      string    `db:"external_id" json:"external_id"`
	EnteredAt       time.Time `db:"entered_at" json:"entered_at"`
	LastSeenAt      time.Time `db:"last_seen_at" json:"last_seen_at"`
	LastScanAt      time.Time `db:"last_scan_at" json:"last_scan_at"`
	Gain7d          float64   `db:"gain_7d" json:"gain_7d"`
	Gain30d         float64   `db:"gain_30d" json:"gain_30d"`
	UniformityScore float64   `db:"uniformity_score" json:"uniformity_score"`
	Volume24h       float64   `db:"volume_24h" json:"volume_24h"`
}

// ScanRecord is one row of the append-only history log: every qualifying
// symbol on every scan, independent of entered/exited bookkeeping.
type ScanRecord struct {
	ID              int64     `db:"id" json:"id"`
	RunID           string    `db:"run_id" json:"run_id"`
	ScannedAt       time.Time `db:"scanned_at" json:"scanned_at"`
	Symbol          string    `db:"symbol" json:"symbol"`
	Name            string    `db:"name" json:"name"`
	Gain7d          float64   `db:"gain_7d" json:"gain_7d"`
	Gain30d         float64   `db:"gain_30d" json:"gain_30d"`
	UniformityScore float64   `db:"uniformity_score" json:"uniformity_score"`
	Volume24h       float64   `db:"volume_24h" json:"volume_24h"`
}

package scan

import (
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
)

// GainFilter applies the multi-window growth thresholds and the
// stable-asset exclusion list. Thresholds are injected configuration; the
// filter itself does no I/O and is deterministic.
type GainFilter struct {
	min7d    float64
	min30d   float64
	excluded map[string]struct{}
}

// NewGainFilter builds a filter requiring strictly-greater gains over both
// windows. symbols in excluded never pass regardless of gains.
func NewGainFilter(min7d, min30d float64, excluded []string) *GainFilter {
	ex := make(map[string]struct{}, len(excluded))
	for _, s := range excluded {
		ex[model.NormalizeSymbol(s)] = struct{}{}
	}
	return &GainFilter{min7d: min7d, min30d: min30d, excluded: ex}
}

// Pass reports whether the asset clears the gain gate. Exclusion is
// checked first: it is the cheapest test and order-independent for the
// final set.
func (f *GainFilter) Pass(a model.AssetSnapshot) bool {
	if _, ok := f.excluded[model.NormalizeSymbol(a.Symbol)]; ok {
		return false
	}
	return a.Gains.Chg7d > f.min7d && a.Gains.Chg30d > f.min30d
}

package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
)

func asset(symbol string, chg7d, chg30d float64) model.AssetSnapshot {
	return model.AssetSnapshot{
		Symbol: symbol,
		Gains:  model.Gains{Chg7d: chg7d, Chg30d: chg30d},
	}
}

func TestGainFilter_StrictThresholds(t *testing.T) {
	filter := NewGainFilter(7, 30, nil)

	tests := []struct {
		name string
		a    model.AssetSnapshot
		pass bool
	}{
		{"exactly_at_thresholds_fails", asset("AAA", 7.0, 30.0), false},
		{"just_above_passes", asset("AAA", 7.1, 30.1), true},
		{"weak_7d_fails", asset("AAA", 6.9, 80), false},
		{"weak_30d_fails", asset("AAA", 20, 29.9), false},
		{"both_strong_passes", asset("AAA", 9, 35), true},
		{"negative_fails", asset("AAA", -3, 40), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.pass, filter.Pass(tt.a))
		})
	}
}

func TestGainFilter_ExclusionList(t *testing.T) {
	filter := NewGainFilter(7, 30, []string{"USDT", "usdc"})

	assert.False(t, filter.Pass(asset("USDT", 50, 90)), "excluded symbol never passes")
	assert.False(t, filter.Pass(asset("usdc", 50, 90)), "exclusion is case-insensitive")
	assert.True(t, filter.Pass(asset("SOL", 50, 90)))
}

package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func linearSeries(start, dailyStep float64, days int) []float64 {
	prices := make([]float64, days)
	for i := range prices {
		prices[i] = start + dailyStep*float64(i)
	}
	return prices
}

func TestUniformity_PerfectlyLinear(t *testing.T) {
	// 100 -> 135 in equal daily steps: zero deviation from the ideal line.
	prices := linearSeries(100, 35.0/29.0, 30)

	score, gain := Uniformity(prices)
	assert.InDelta(t, 100, score, 0.01)
	assert.InDelta(t, 35, gain, 0.1)
}

func TestUniformity_NonPositiveGain(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
	}{
		{"declining", linearSeries(100, -1, 30)},
		{"flat", linearSeries(100, 0, 30)},
		{"round_trip", []float64{100, 180, 250, 120, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, gain := Uniformity(tt.prices)
			assert.Equal(t, 0.0, score)
			assert.LessOrEqual(t, gain, 0.0)
		})
	}
}

func TestUniformity_HockeyStickScoresLow(t *testing.T) {
	// Flat for 29 days, then the entire gain on the last day. Deviation is
	// 35/29 * (1+2+...+28) = 490 against the 35*29 = 1015 normalizer, so
	// the score lands at 100*(1-sqrt(490/1015)) = 30.5.
	prices := linearSeries(100, 0, 29)
	prices = append(prices, 135)

	score, gain := Uniformity(prices)
	assert.InDelta(t, 35, gain, 0.1)
	assert.InDelta(t, 30.5, score, 0.1)
}

func TestUniformity_MonotonicInDeviation(t *testing.T) {
	// Same 35% total gain, increasing concentration of the move. Score
	// must be non-increasing as the shape departs from the ideal line.
	smooth := linearSeries(100, 35.0/29.0, 30)

	noisy := make([]float64, len(smooth))
	copy(noisy, smooth)
	for i := 5; i < 25; i += 3 {
		noisy[i] += 2
	}

	spike := linearSeries(100, 0, 29)
	spike = append(spike, 135)

	smoothScore, _ := Uniformity(smooth)
	noisyScore, _ := Uniformity(noisy)
	spikeScore, _ := Uniformity(spike)

	assert.GreaterOrEqual(t, smoothScore, noisyScore)
	assert.GreaterOrEqual(t, noisyScore, spikeScore)
}

func TestUniformity_HandComputedFixture(t *testing.T) {
	// N=3, prices 100,110,120: cum = [0,10,20], ideal = [0,10,20],
	// deviation 0 -> score 100, gain 20.
	score, gain := Uniformity([]float64{100, 110, 120})
	assert.InDelta(t, 100, score, 0.01)
	assert.InDelta(t, 20, gain, 0.01)

	// N=3, prices 100,100,120: cum = [0,0,20], ideal = [0,10,20],
	// deviation 10, max 40 -> 100*(1-sqrt(0.25)) = 50.
	score, gain = Uniformity([]float64{100, 100, 120})
	assert.InDelta(t, 50, score, 0.01)
	assert.InDelta(t, 20, gain, 0.01)
}

func TestUniformity_DegenerateInputs(t *testing.T) {
	score, gain := Uniformity(nil)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, 0.0, gain)

	score, gain = Uniformity([]float64{100})
	assert.Equal(t, 0.0, score)
	assert.Equal(t, 0.0, gain)

	score, _ = Uniformity([]float64{0, 10})
	assert.Equal(t, 0.0, score, "non-positive base price cannot be scored")
}

func TestWindow(t *testing.T) {
	prices := linearSeries(1, 1, 40)

	got := Window(prices, 30)
	assert.Len(t, got, 30)
	assert.Equal(t, prices[10], got[0])
	assert.Equal(t, prices[39], got[29])

	assert.Nil(t, Window(prices, 41), "short series cannot be windowed")
	assert.Nil(t, Window(prices, 1))
}

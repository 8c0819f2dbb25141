package scoring

import "math"

// Uniformity measures how evenly a realized gain is distributed across a
// daily closing-price window. It returns a score in [0,100] and the total
// percentage gain over the window.
//
// The score compares the cumulative percentage trajectory against the
// straight line implied by the realized total gain and normalizes the
// summed deviation by the worst case, where the whole gain lands on the
// final day. The square root makes the score forgiving of moderate
// day-to-day noise while punishing concentrated hockey-stick gains
// increasingly hard.
//
// prices is ordered oldest to newest. Fewer than two points, a
// non-positive base price, or a non-positive total gain all score zero.
func Uniformity(prices []float64) (score, totalGain float64) {
	n := len(prices)
	if n < 2 {
		return 0, 0
	}

	base := prices[0]
	if base <= 0 {
		return 0, 0
	}

	cum := make([]float64, n)
	for i, p := range prices {
		cum[i] = (p - base) / base * 100
	}

	totalGain = round1(cum[n-1])
	if cum[n-1] <= 0 {
		return 0, totalGain
	}

	dailyGain := cum[n-1] / float64(n-1)

	var totalDeviation float64
	for i := 0; i < n; i++ {
		ideal := float64(i) * dailyGain
		totalDeviation += math.Abs(cum[i] - ideal)
	}

	// Worst case: flat until the final day, then the entire gain at once.
	maxDeviation := cum[n-1] * float64(n-1)

	normalized := 0.0
	if maxDeviation > 0 {
		normalized = math.Min(totalDeviation/maxDeviation, 1)
	}

	score = round1(100 * (1 - math.Sqrt(normalized)))
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	return score, totalGain
}

// Window trims a price series to its trailing window of length days,
// returning nil when the series is too short to score.
func Window(prices []float64, days int) []float64 {
	if days < 2 || len(prices) < days {
		return nil
	}
	return prices[len(prices)-days:]
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

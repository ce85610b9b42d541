package rhythm

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// AnalyzeConsistency scores how steadily the onsets hold a tempo. With a
// target BPM the expected interval is 60000/bpm; otherwise the user's own
// mean interval is the yardstick.
func AnalyzeConsistency(onsetsMs []float64, targetBPM float64) float64 {
	if len(onsetsMs) < 2 {
		return 0
	}

	intervals := make([]float64, len(onsetsMs)-1)
	for i := 1; i < len(onsetsMs); i++ {
		intervals[i-1] = onsetsMs[i] - onsetsMs[i-1]
	}

	expected := stat.Mean(intervals, nil)
	if targetBPM > 0 {
		expected = 60000.0 / targetBPM
	}
	if expected <= 0 {
		return 0
	}

	var errSum float64
	for _, iv := range intervals {
		errSum += math.Min(1, math.Abs(iv-expected)/expected)
	}
	meanErr := errSum / float64(len(intervals))

	return math.Max(0, 100*(1-meanErr))
}

// AnalyzeCreativity rewards rhythmic variety: intervals are quantized to
// multiples of the shortest one and scored by how many distinct values
// appear. Too few onsets score a neutral 50.
func AnalyzeCreativity(onsetsMs []float64) float64 {
	if len(onsetsMs) < 4 {
		return 50
	}

	intervals := make([]float64, len(onsetsMs)-1)
	minInterval := math.Inf(1)
	for i := 1; i < len(onsetsMs); i++ {
		intervals[i-1] = onsetsMs[i] - onsetsMs[i-1]
		if intervals[i-1] > 0 && intervals[i-1] < minInterval {
			minInterval = intervals[i-1]
		}
	}
	if math.IsInf(minInterval, 1) {
		return 50
	}

	unique := make(map[int]struct{}, len(intervals))
	for _, iv := range intervals {
		unique[int(math.Round(iv/minInterval))] = struct{}{}
	}

	variety := float64(len(unique)) / float64(len(intervals))
	return math.Min(100, variety*150)
}

// CompareRhythms aligns the two interval sequences with dynamic time
// warping and maps the normalized distance to [0, 100].
func CompareRhythms(userOnsetsMs, refOnsetsMs []float64) float64 {
	userIntervals := toIntervals(userOnsetsMs)
	refIntervals := toIntervals(refOnsetsMs)
	if len(userIntervals) == 0 || len(refIntervals) == 0 {
		return 0
	}

	distance := dtwDistance(userIntervals, refIntervals)

	n := len(userIntervals)
	m := len(refIntervals)
	longest := n
	if m > longest {
		longest = m
	}
	meanRef := stat.Mean(refIntervals, nil)
	if meanRef <= 0 {
		return 0
	}

	normalized := distance / (float64(longest) * meanRef)
	return math.Max(0, 100*(1-normalized))
}

func toIntervals(onsetsMs []float64) []float64 {
	if len(onsetsMs) < 2 {
		return nil
	}
	intervals := make([]float64, len(onsetsMs)-1)
	for i := 1; i < len(onsetsMs); i++ {
		intervals[i-1] = onsetsMs[i] - onsetsMs[i-1]
	}
	return intervals
}

// dtwDistance computes the classic dynamic-programming alignment cost with
// absolute difference as the local cost.
func dtwDistance(a, b []float64) float64 {
	n, m := len(a), len(b)

	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = math.Inf(1)
	}

	for i := 1; i <= n; i++ {
		curr[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := math.Abs(a[i-1] - b[j-1])
			curr[j] = cost + math.Min(prev[j], math.Min(curr[j-1], prev[j-1]))
		}
		prev, curr = curr, prev
	}

	return prev[m]
}

// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package detection

import (
	"math"
	"sort"
	"time"
)

// burstReasonThreshold is the burst score at or above which the
// classifier annotates findings with a rapid-recon reason.
const burstReasonThreshold = 6.0

// BurstScore rates how bursty a sequence of recon timestamps is on a
// 0-10 scale. The score combines the coefficient of variation of
// inter-arrival gaps (irregular rapid-fire probing scores high) with
// an action-density term (many actions packed inside the widest gap).
// Fewer than two timestamps cannot form a gap and score 0; a sequence
// where every gap is zero is maximally bursty.
func BurstScore(timestamps []time.Time) float64 {
	if len(timestamps) < 2 {
		return 0
	}

	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	gaps := make([]float64, 0, len(sorted)-1)
	var sum, maxGap float64
	allZero := true
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Sub(sorted[i-1]).Seconds()
		if gap != 0 {
			allZero = false
		}
		if gap > maxGap {
			maxGap = gap
		}
		sum += gap
		gaps = append(gaps, gap)
	}
	if allZero {
		return 10
	}

	mean := sum / float64(len(gaps))

	// Sample standard deviation needs at least two gaps; a single gap
	// has no spread and contributes nothing.
	cv := 0.0
	if len(gaps) >= 2 {
		var ss float64
		for _, g := range gaps {
			d := g - mean
			ss += d * d
		}
		cv = math.Sqrt(ss/float64(len(gaps)-1)) / mean
	}

	density := float64(len(sorted))
	if maxGap > 0 {
		density = float64(len(sorted)) / (maxGap / 60.0)
	}

	score := cv*2.0 + density*0.5
	if score > 10 {
		score = 10
	}
	return math.Round(score*100) / 100
}

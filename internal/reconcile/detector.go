// Package reconcile implements duplicate detection and resolution over the
// per-user activity timeline.
package reconcile

import (
	"math"
	"sort"
	"time"

	"example.com/reconciliation/internal/domain"
)

const (
	// MatchWindow bounds the start-time gap between two records of the same run.
	MatchWindow = 10 * time.Minute
	// DistanceToleranceM bounds the distance delta between two records of the same run.
	DistanceToleranceM = 50.0
)

// CandidatePair is one device-health/fitness-network pair suspected to record
// the same real-world run. Similarity is a 0-100 display score; classification
// itself is the hard window/tolerance threshold.
type CandidatePair struct {
	DeviceHealth   domain.Activity
	FitnessNetwork domain.Activity
	Similarity     float64
}

// FindDuplicatePairs scans one user's activities for cross-source duplicates.
//
// The input is sorted by start time and scanned with a sliding window: for
// each record the forward scan stops as soon as the next start time exceeds
// MatchWindow, so cost stays near-linear. Each record joins at most one pair;
// once matched, both members are excluded from the rest of the pass.
func FindDuplicatePairs(activities []domain.Activity) []CandidatePair {
	sorted := make([]domain.Activity, len(activities))
	copy(sorted, activities)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.Before(sorted[j].StartedAt)
	})

	matched := make(map[int]bool, len(sorted))
	var pairs []CandidatePair

	for i := range sorted {
		if matched[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].StartedAt.Sub(sorted[i].StartedAt) > MatchWindow {
				break
			}
			if matched[j] {
				continue
			}
			if !IsDuplicate(sorted[i], sorted[j]) {
				continue
			}
			pairs = append(pairs, newPair(sorted[i], sorted[j]))
			matched[i] = true
			matched[j] = true
			break
		}
	}

	return pairs
}

// IsDuplicate classifies two activities as records of the same run. The check
// is symmetric: same user, opposite sources, start times within MatchWindow on
// the same UTC calendar day, distances within DistanceToleranceM.
func IsDuplicate(a, b domain.Activity) bool {
	if a.UserID != b.UserID {
		return false
	}
	if !oppositeSources(a.Source, b.Source) {
		return false
	}
	if absDuration(a.StartedAt.Sub(b.StartedAt)) > MatchWindow {
		return false
	}
	if !sameCalendarDay(a.StartedAt, b.StartedAt) {
		return false
	}
	return math.Abs(a.DistanceM-b.DistanceM) <= DistanceToleranceM
}

// Similarity reports a 0-100 score for display ranking. It is 100 for
// identical start time and distance and decays smoothly to 0 as either delta
// approaches its threshold. Cubic falloff keeps close matches near the top:
// a 3-minute/20-meter pair still scores above 90.
func Similarity(a, b domain.Activity) float64 {
	t := clamp01(absDuration(a.StartedAt.Sub(b.StartedAt)).Seconds() / MatchWindow.Seconds())
	d := clamp01(math.Abs(a.DistanceM-b.DistanceM) / DistanceToleranceM)
	score := 100 * (1 - t*t*t) * (1 - d*d*d)
	return math.Round(score*10) / 10
}

func newPair(a, b domain.Activity) CandidatePair {
	pair := CandidatePair{Similarity: Similarity(a, b)}
	if a.Source == domain.SourceDeviceHealth {
		pair.DeviceHealth = a
		pair.FitnessNetwork = b
	} else {
		pair.DeviceHealth = b
		pair.FitnessNetwork = a
	}
	return pair
}

func oppositeSources(a, b domain.Source) bool {
	return (a == domain.SourceDeviceHealth && b == domain.SourceFitnessNetwork) ||
		(a == domain.SourceFitnessNetwork && b == domain.SourceDeviceHealth)
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package aggregator

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

type groupKey struct {
	ip          string
	windowStart time.Time
}

// BuildWindows converts raw login request records into per-(IP, minute)
// feature windows, restricted to records with timestamp in
// [rangeStart, rangeEnd). Groups with no requests are never emitted. The
// result is sorted by window start descending, then IP ascending.
func BuildWindows(records []models.RequestLog, rangeStart, rangeEnd time.Time) []models.FeatureWindow {
	groups := make(map[groupKey][]models.RequestLog)
	order := make([]groupKey, 0)

	for _, rec := range records {
		at := rec.AtUtc.UTC()
		if at.Before(rangeStart) || !at.Before(rangeEnd) {
			continue
		}

		key := groupKey{ip: rec.IPAddress, windowStart: models.FloorToMinute(at)}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	windows := make([]models.FeatureWindow, 0, len(order))
	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].AtUtc.Before(group[j].AtUtc)
		})
		windows = append(windows, buildWindow(key.ip, key.windowStart, group))
	}

	sort.Slice(windows, func(i, j int) bool {
		if !windows[i].WindowStartUtc.Equal(windows[j].WindowStartUtc) {
			return windows[i].WindowStartUtc.After(windows[j].WindowStartUtc)
		}
		return windows[i].IP < windows[j].IP
	})

	return windows
}

// buildWindow computes the statistics for one non-empty ordered group.
func buildWindow(ip string, windowStart time.Time, ordered []models.RequestLog) models.FeatureWindow {
	requestCount := len(ordered)

	errorCount := 0
	for _, l := range ordered {
		if l.StatusCode >= 400 {
			errorCount++
		}
	}

	errorRate := 0.0
	if requestCount > 0 {
		errorRate = float64(errorCount) / float64(requestCount)
	}

	// Mean of consecutive inter-arrival deltas, in arrival order. Undefined
	// for a single request.
	var avgInterval *float64
	if requestCount > 1 {
		total := 0.0
		for i := 1; i < requestCount; i++ {
			total += ordered[i].AtUtc.Sub(ordered[i-1].AtUtc).Seconds()
		}
		mean := total / float64(requestCount-1)
		avgInterval = &mean
	}

	elapsed := make([]float64, requestCount)
	sum := 0.0
	for i, l := range ordered {
		elapsed[i] = float64(l.ElapsedMs)
		sum += elapsed[i]
	}
	avgElapsed := sum / float64(requestCount)
	p95 := Percentile(elapsed, 0.95)

	statusBreakdown := make(map[int]int)
	for _, l := range ordered {
		statusBreakdown[l.StatusCode]++
	}

	uniqueUsers := make(map[string]struct{})
	for _, l := range ordered {
		if l.UserID != nil && strings.TrimSpace(*l.UserID) != "" {
			uniqueUsers[*l.UserID] = struct{}{}
		}
	}

	return models.FeatureWindow{
		IP:                        ip,
		WindowStartUtc:            windowStart,
		WindowEndUtc:              windowStart.Add(time.Minute),
		RequestCount:              requestCount,
		ErrorCount:                errorCount,
		ErrorRate:                 errorRate,
		AvgSecondsBetweenRequests: avgInterval,
		AvgElapsedMs:              &avgElapsed,
		P95ElapsedMs:              &p95,
		UniqueUserCount:           len(uniqueUsers),
		StatusBreakdown:           statusBreakdown,
		LastStatusCode:            ordered[requestCount-1].StatusCode,
		FirstRequestAtUtc:         ordered[0].AtUtc,
		LastRequestAtUtc:          ordered[requestCount-1].AtUtc,
	}
}

// Percentile computes a linear-interpolation percentile over the values.
// For a single value that value is every percentile.
func Percentile(values []float64, percentile float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	position := percentile * float64(len(sorted)-1)
	lower := int(math.Floor(position))
	upper := int(math.Ceil(position))

	if lower == upper {
		return sorted[lower]
	}

	weight := position - float64(lower)
	return sorted[lower] + weight*(sorted[upper]-sorted[lower])
}

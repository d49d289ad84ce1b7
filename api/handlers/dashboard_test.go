package handlers

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

func detection(ip string, windowStart time.Time, score float64, anomaly bool, requests int, errorRate float64) models.Detection {
	return models.Detection{
		IPAddress:      ip,
		WindowStartUtc: windowStart,
		WindowEndUtc:   windowStart.Add(time.Minute),
		DetectedAtUtc:  windowStart.Add(2 * time.Minute),
		Score:          score,
		IsAnomaly:      anomaly,
		RequestCount:   requests,
		ErrorRate:      errorRate,
	}
}

func TestBuildSummary(t *testing.T) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	detections := []models.Detection{
		detection("1.1.1.1", base, 0.9, true, 40, 0.8),
		detection("1.1.1.1", base.Add(time.Minute), 0.3, false, 3, 0.0),
		detection("2.2.2.2", base, 0.7, true, 25, 0.5),
		detection("3.3.3.3", base, 0.2, false, 2, 0.0),
	}

	summary := buildSummary(detections)

	assert.Equal(t, 4, summary.TotalEvaluations)
	assert.Equal(t, 2, summary.TotalAnomalies)
	assert.Equal(t, 2, summary.TotalNormals)
	assert.InDelta(t, 0.5, summary.AnomalyRate, 1e-9)
	assert.Equal(t, 3, summary.UniqueIPCount)
}

func TestBuildSummary_Empty(t *testing.T) {
	summary := buildSummary(nil)

	assert.Zero(t, summary.TotalEvaluations)
	assert.Zero(t, summary.AnomalyRate)
}

func TestBuildTopSuspicious(t *testing.T) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	detections := []models.Detection{
		detection("1.1.1.1", base, 0.9, true, 40, 0.8),
		detection("1.1.1.1", base.Add(time.Minute), 0.8, true, 60, 0.6),
		detection("1.1.1.1", base.Add(2*time.Minute), 0.3, false, 3, 0.0),
		detection("2.2.2.2", base, 0.7, true, 25, 0.5),
		detection("3.3.3.3", base, 0.2, false, 2, 0.0),
	}

	top := buildTopSuspicious(detections, 10)
	require.Len(t, top, 2, "only anomalous addresses appear")

	first := top[0]
	assert.Equal(t, "1.1.1.1", first.IPAddress)
	assert.InDelta(t, 0.9, first.LastScore, 1e-9)
	assert.Equal(t, 2, first.TotalAnomalies)
	assert.Equal(t, 3, first.TotalWindows)
	assert.InDelta(t, 50.0, first.AverageRequestCount, 1e-9)
	assert.InDelta(t, 0.7, first.AverageErrorRate, 1e-9)
	// Stats of the newest anomalous window
	assert.Equal(t, base.Add(time.Minute), first.WindowStartUtc)
	assert.Equal(t, 60, first.RecentRequestCount)
	assert.InDelta(t, 0.6, first.RecentErrorRate, 1e-9)

	assert.Equal(t, "2.2.2.2", top[1].IPAddress)
}

func TestBuildTopSuspicious_Limit(t *testing.T) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	var detections []models.Detection
	for i := 0; i < 15; i++ {
		detections = append(detections, detection(
			fmt.Sprintf("10.0.0.%d", i), base, 0.7+float64(i)*0.01, true, 10, 0.5))
	}

	top := buildTopSuspicious(detections, 10)

	assert.Len(t, top, 10)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].LastScore, top[i].LastScore)
	}
}

func TestLatestByIP(t *testing.T) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	detections := []models.Detection{
		detection("1.1.1.1", base, 0.9, true, 40, 0.8),
		detection("1.1.1.1", base.Add(time.Minute), 0.3, false, 3, 0.0),
		detection("2.2.2.2", base, 0.7, true, 25, 0.5),
	}

	latest := latestByIP(detections)
	require.Len(t, latest, 2)

	byIP := map[string]models.Detection{}
	for _, d := range latest {
		byIP[d.IPAddress] = d
	}

	// The newest window wins even when an older one scored higher
	assert.Equal(t, base.Add(time.Minute), byIP["1.1.1.1"].WindowStartUtc)
	assert.InDelta(t, 0.3, byIP["1.1.1.1"].Score, 1e-9)

	// Output ordered by score descending
	assert.Equal(t, "2.2.2.2", latest[0].IPAddress)
}

func TestRecentByDetectedAt(t *testing.T) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	detections := []models.Detection{
		detection("1.1.1.1", base, 0.9, true, 40, 0.8),
		detection("2.2.2.2", base.Add(5*time.Minute), 0.7, true, 25, 0.5),
		detection("3.3.3.3", base.Add(2*time.Minute), 0.2, false, 2, 0.0),
	}

	recent := recentByDetectedAt(detections, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "2.2.2.2", recent[0].IPAddress)
	assert.Equal(t, "3.3.3.3", recent[1].IPAddress)
}

package detector

import (
	"math"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

// FeatureVector maps a feature window to the vector fed to the isolation
// forest. Training and scoring must use the same mapping, so this is the
// only place it exists. Returns nil for a window without requests.
//
// Counts go through log1p to compress heavy tails; durations and the status
// class are rescaled so features land in comparable magnitudes, because
// split thresholds are drawn uniformly over raw value ranges.
func FeatureVector(window *models.FeatureWindow) []float64 {
	if window.RequestCount <= 0 {
		return nil
	}

	success, unauthorized, serverErrors := window.StatusCounts()

	avgInterval := 60.0
	if window.AvgSecondsBetweenRequests != nil {
		avgInterval = *window.AvgSecondsBetweenRequests
	}

	avgElapsed := 0.0
	if window.AvgElapsedMs != nil {
		avgElapsed = *window.AvgElapsedMs
	}

	p95Elapsed := 0.0
	if window.P95ElapsedMs != nil {
		p95Elapsed = *window.P95ElapsedMs
	}

	return []float64{
		math.Log1p(float64(window.RequestCount)),
		math.Log1p(float64(window.ErrorCount)),
		window.ErrorRate,
		avgInterval / 60.0,
		avgElapsed / 1000.0,
		p95Elapsed / 1000.0,
		float64(window.UniqueUserCount),
		math.Log1p(float64(success)),
		math.Log1p(float64(unauthorized)),
		math.Log1p(float64(serverErrors)),
		float64(window.LastStatusCode) / 100.0,
	}
}

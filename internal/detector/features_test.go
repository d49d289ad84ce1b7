package detector

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

func TestFeatureVector_EmptyWindowIsNil(t *testing.T) {
	assert.Nil(t, FeatureVector(&models.FeatureWindow{}))
	assert.Nil(t, FeatureVector(&models.FeatureWindow{RequestCount: -1}))
}

func TestFeatureVector_Values(t *testing.T) {
	interval := 22.5
	avgElapsed := 200.0
	p95 := 290.0

	window := &models.FeatureWindow{
		IP:                        "1.2.3.4",
		WindowStartUtc:            time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		RequestCount:              3,
		ErrorCount:                1,
		ErrorRate:                 1.0 / 3.0,
		AvgSecondsBetweenRequests: &interval,
		AvgElapsedMs:              &avgElapsed,
		P95ElapsedMs:              &p95,
		UniqueUserCount:           2,
		StatusBreakdown:           map[int]int{200: 2, 401: 1},
		LastStatusCode:            200,
	}

	vector := FeatureVector(window)
	require.Len(t, vector, 11)

	assert.InDelta(t, math.Log1p(3), vector[0], 1e-9)
	assert.InDelta(t, math.Log1p(1), vector[1], 1e-9)
	assert.InDelta(t, 1.0/3.0, vector[2], 1e-9)
	assert.InDelta(t, 22.5/60.0, vector[3], 1e-9)
	assert.InDelta(t, 0.2, vector[4], 1e-9)
	assert.InDelta(t, 0.29, vector[5], 1e-9)
	assert.InDelta(t, 2, vector[6], 1e-9)
	assert.InDelta(t, math.Log1p(2), vector[7], 1e-9)
	assert.InDelta(t, math.Log1p(1), vector[8], 1e-9)
	assert.InDelta(t, 0, vector[9], 1e-9)
	assert.InDelta(t, 2.0, vector[10], 1e-9)
}

func TestFeatureVector_MissingOptionalsUseDefaults(t *testing.T) {
	window := &models.FeatureWindow{
		RequestCount:    1,
		StatusBreakdown: map[int]int{503: 1},
		LastStatusCode:  503,
	}

	vector := FeatureVector(window)
	require.Len(t, vector, 11)

	// No inter-arrival data defaults to a full minute between requests
	assert.InDelta(t, 1.0, vector[3], 1e-9)
	assert.InDelta(t, 0.0, vector[4], 1e-9)
	assert.InDelta(t, 0.0, vector[5], 1e-9)
	assert.InDelta(t, math.Log1p(1), vector[9], 1e-9)
	assert.InDelta(t, 5.03, vector[10], 1e-9)
}

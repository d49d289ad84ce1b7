package forest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusteredDataset produces points near the origin plus a handful of far
// outliers, the canonical shape an isolation forest separates well.
func clusteredDataset(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	dataset := make([][]float64, 0, n)
	for i := 0; i < n; i++ {
		dataset = append(dataset, []float64{
			rng.NormFloat64() * 0.5,
			rng.NormFloat64() * 0.5,
			rng.NormFloat64() * 0.5,
		})
	}
	return dataset
}

func TestAveragePathLength(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		expected float64
	}{
		{name: "zero", n: 0, expected: 0},
		{name: "one", n: 1, expected: 0},
		{name: "two", n: 2, expected: 2.0*(math.Log(1)+eulerGamma) - 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, averagePathLength(tt.n), 1e-9)
		})
	}
}

func TestAveragePathLength_Monotonic(t *testing.T) {
	prev := averagePathLength(2)
	for n := 3; n <= 4096; n *= 2 {
		cur := averagePathLength(n)
		assert.Greater(t, cur, prev, "c(n) must grow with n (n=%d)", n)
		prev = cur
	}
}

func TestTrain_InvalidParams(t *testing.T) {
	dataset := clusteredDataset(16, 1)

	tests := []struct {
		name       string
		trees      int
		sampleSize int
	}{
		{name: "zero trees", trees: 0, sampleSize: 8},
		{name: "negative trees", trees: -1, sampleSize: 8},
		{name: "zero sample size", trees: 10, sampleSize: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Train(dataset, tt.trees, tt.sampleSize, nil)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestTrain_InsufficientData(t *testing.T) {
	nan := math.NaN()

	tests := []struct {
		name    string
		dataset [][]float64
	}{
		{name: "empty", dataset: nil},
		{name: "single row", dataset: [][]float64{{1, 2}}},
		{name: "dimensionless rows", dataset: [][]float64{{}, {}}},
		{name: "all rows non-finite", dataset: [][]float64{{nan, 1}, {1, nan}, {math.Inf(1), 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Train(tt.dataset, 10, 8, nil)
			assert.ErrorIs(t, err, ErrInsufficientData)
		})
	}
}

func TestTrain_DiscardsNonFiniteRows(t *testing.T) {
	dataset := clusteredDataset(32, 2)
	dataset = append(dataset, []float64{math.NaN(), 0, 0})
	dataset = append(dataset, []float64{0, math.Inf(-1), 0})

	seed := int64(7)
	model, err := Train(dataset, 10, 64, &seed)

	require.NoError(t, err)
	// Sample size clamps to the 32 clean rows, not the 34 raw ones
	assert.Equal(t, 32, model.SampleSize())
}

func TestTrain_ClampsSampleSize(t *testing.T) {
	dataset := clusteredDataset(10, 3)
	seed := int64(1)

	model, err := Train(dataset, 5, 256, &seed)

	require.NoError(t, err)
	assert.Equal(t, 10, model.SampleSize())
	assert.Equal(t, 5, model.TreeCount())
}

func TestTrain_SeedDeterminism(t *testing.T) {
	dataset := clusteredDataset(200, 4)
	seed := int64(42)

	m1, err := Train(dataset, 50, 64, &seed)
	require.NoError(t, err)
	m2, err := Train(dataset, 50, 64, &seed)
	require.NoError(t, err)

	probes := [][]float64{
		{0, 0, 0},
		{0.3, -0.2, 0.1},
		{8, 8, 8},
		{-5, 12, 0.5},
	}
	for _, p := range probes {
		assert.Equal(t, m1.Score(p), m2.Score(p), "seeded runs must score identically")
	}
}

func TestScore_Range(t *testing.T) {
	dataset := clusteredDataset(300, 5)
	seed := int64(9)
	model, err := Train(dataset, 100, 128, &seed)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(6))
	for i := 0; i < 100; i++ {
		p := []float64{rng.NormFloat64() * 3, rng.NormFloat64() * 3, rng.NormFloat64() * 3}
		score := model.Score(p)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestScore_OutlierScoresHigherThanInlier(t *testing.T) {
	dataset := clusteredDataset(400, 11)
	seed := int64(13)
	model, err := Train(dataset, 100, 128, &seed)
	require.NoError(t, err)

	inlier := model.Score([]float64{0.1, -0.1, 0.05})
	outlier := model.Score([]float64{25, -30, 40})

	assert.Greater(t, outlier, inlier)
	assert.Greater(t, outlier, 0.6, "a far outlier should score clearly anomalous")
}

func TestScore_IdenticalVectorsTrainable(t *testing.T) {
	dataset := make([][]float64, 64)
	for i := range dataset {
		dataset[i] = []float64{1, 2, 3}
	}

	seed := int64(21)
	model, err := Train(dataset, 20, 32, &seed)
	require.NoError(t, err)

	// Every tree degenerates into a single leaf, so the path length is
	// c(sampleSize) and the score lands near 0.5
	score := model.Score([]float64{1, 2, 3})
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScore_EmptyModelReturnsZero(t *testing.T) {
	m := &Model{}
	assert.Zero(t, m.Score([]float64{1, 2, 3}))
}

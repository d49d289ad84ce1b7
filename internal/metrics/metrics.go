package metrics

import (
	"sync"
	"time"
)

// Metrics tracks engine-level counters for the dashboard's stats endpoint.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	windowsEvaluated   int64
	detectionsInserted int64
	anomaliesDetected  int64
	trainingsCompleted int64
	trainingsDeferred  int64
	insertFailures     int64
	cycleErrors        int64

	// Gauges
	lastTrainedAt   time.Time
	lastWatermark   time.Time
	trainingSamples int
	modelTrees      int
	modelSampleSize int
}

var (
	instance *Metrics
	once     sync.Once
)

func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{}
	})
	return instance
}

func (m *Metrics) RecordWindowEvaluated(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowsEvaluated += int64(count)
}

func (m *Metrics) RecordDetections(inserted, anomalies int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectionsInserted += int64(inserted)
	m.anomaliesDetected += int64(anomalies)
}

func (m *Metrics) RecordTraining(samples, trees, sampleSize int, trainedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainingsCompleted++
	m.trainingSamples = samples
	m.modelTrees = trees
	m.modelSampleSize = sampleSize
	m.lastTrainedAt = trainedAt
}

func (m *Metrics) RecordTrainingDeferred() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainingsDeferred++
}

func (m *Metrics) RecordInsertFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertFailures++
}

func (m *Metrics) RecordCycleError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycleErrors++
}

func (m *Metrics) SetWatermark(watermark time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastWatermark = watermark
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	WindowsEvaluated   int64     `json:"windows_evaluated"`
	DetectionsInserted int64     `json:"detections_inserted"`
	AnomaliesDetected  int64     `json:"anomalies_detected"`
	TrainingsCompleted int64     `json:"trainings_completed"`
	TrainingsDeferred  int64     `json:"trainings_deferred"`
	InsertFailures     int64     `json:"insert_failures"`
	CycleErrors        int64     `json:"cycle_errors"`
	LastTrainedAt      time.Time `json:"last_trained_at"`
	LastWatermark      time.Time `json:"last_watermark"`
	TrainingSamples    int       `json:"training_samples"`
	ModelTrees         int       `json:"model_trees"`
	ModelSampleSize    int       `json:"model_sample_size"`
}

func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		WindowsEvaluated:   m.windowsEvaluated,
		DetectionsInserted: m.detectionsInserted,
		AnomaliesDetected:  m.anomaliesDetected,
		TrainingsCompleted: m.trainingsCompleted,
		TrainingsDeferred:  m.trainingsDeferred,
		InsertFailures:     m.insertFailures,
		CycleErrors:        m.cycleErrors,
		LastTrainedAt:      m.lastTrainedAt,
		LastWatermark:      m.lastWatermark,
		TrainingSamples:    m.trainingSamples,
		ModelTrees:         m.modelTrees,
		ModelSampleSize:    m.modelSampleSize,
	}
}

// Reset clears all counters. Intended for tests.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowsEvaluated = 0
	m.detectionsInserted = 0
	m.anomaliesDetected = 0
	m.trainingsCompleted = 0
	m.trainingsDeferred = 0
	m.insertFailures = 0
	m.cycleErrors = 0
	m.lastTrainedAt = time.Time{}
	m.lastWatermark = time.Time{}
	m.trainingSamples = 0
	m.modelTrees = 0
	m.modelSampleSize = 0
}

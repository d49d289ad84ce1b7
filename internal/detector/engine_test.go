package detector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivansuy/finalsecurityandaudit/internal/events"
	"github.com/ivansuy/finalsecurityandaudit/pkg/config"
	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

type fakeLogSource struct {
	records []models.RequestLog
	err     error
	calls   int
}

func (f *fakeLogSource) GetLoginRecords(_ context.Context, from, to time.Time) ([]models.RequestLog, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	var out []models.RequestLog
	for _, r := range f.records {
		if !r.AtUtc.Before(from) && r.AtUtc.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeStore struct {
	inserted  []*models.Detection
	batches   int
	existing  map[string]struct{}
	maxWindow *time.Time
	insertErr error
}

func (f *fakeStore) InsertBatch(_ context.Context, records []*models.Detection) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.batches++
	f.inserted = append(f.inserted, records...)
	return nil
}

func (f *fakeStore) ExistingIPsForWindow(_ context.Context, _ time.Time) (map[string]struct{}, error) {
	if f.existing == nil {
		return map[string]struct{}{}, nil
	}
	return f.existing, nil
}

func (f *fakeStore) MaxWindowStart(_ context.Context) (*time.Time, error) {
	return f.maxWindow, nil
}

func testConfig() config.AnomalyConfig {
	return config.AnomalyConfig{
		Trees:                   10,
		SampleSize:              32,
		Threshold:               0.65,
		TrainingLookbackHours:   24,
		MinTrainingSamples:      4,
		CatchUpMinutes:          120,
		RetrainMinutes:          15,
		EvaluationWindowMinutes: 1,
		RandomSeed:              42,
	}
}

func newTestEngine(cfg config.AnomalyConfig, logs LogSource, store DetectionStore) *Engine {
	bus := events.NewEventBus(64)
	return NewEngine(cfg, logs, store, events.NewPublisher(bus))
}

// steadyTraffic produces one login per second for each IP across the given
// span so every minute yields a trainable window.
func steadyTraffic(start time.Time, minutes int, ips ...string) []models.RequestLog {
	var records []models.RequestLog
	for m := 0; m < minutes; m++ {
		for s := 0; s < 60; s += 20 {
			for _, ip := range ips {
				records = append(records, models.RequestLog{
					AtUtc:      start.Add(time.Duration(m)*time.Minute + time.Duration(s)*time.Second),
					Method:     "POST",
					Path:       "/api/auth/login",
					StatusCode: 200,
					IPAddress:  ip,
					ElapsedMs:  80,
				})
			}
		}
	}
	return records
}

func TestEnsureModel_TrainsWhenEnoughSamples(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1")}
	e := newTestEngine(testConfig(), logs, &fakeStore{})

	ok := e.ensureModel(context.Background(), now)

	require.True(t, ok)
	require.NotNil(t, e.CurrentModel())
	assert.Equal(t, now, e.modelTrainedAt)
	assert.Equal(t, 10, e.CurrentModel().TreeCount())
}

func TestEnsureModel_DefersWithoutModel(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	e := newTestEngine(testConfig(), &fakeLogSource{}, &fakeStore{})

	ok := e.ensureModel(context.Background(), now)

	assert.False(t, ok)
	assert.Nil(t, e.CurrentModel())
}

func TestEnsureModel_DeferralKeepsOldModel(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1")}
	e := newTestEngine(testConfig(), logs, &fakeStore{})

	require.True(t, e.ensureModel(context.Background(), now))
	trained := e.CurrentModel()
	require.NotNil(t, trained)

	// Past the retrain interval with no fresh traffic: the stale model
	// must keep serving instead of being dropped.
	logs.records = nil
	later := now.Add(20 * time.Minute)
	ok := e.ensureModel(context.Background(), later)

	assert.True(t, ok)
	assert.Same(t, trained, e.CurrentModel())
}

func TestEnsureModel_SkipsWhenFresh(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1")}
	e := newTestEngine(testConfig(), logs, &fakeStore{})

	require.True(t, e.ensureModel(context.Background(), now))
	callsAfterTraining := logs.calls

	ok := e.ensureModel(context.Background(), now.Add(time.Minute))

	assert.True(t, ok)
	assert.Equal(t, callsAfterTraining, logs.calls, "a fresh model must not hit the log source")
}

func TestEnsureWatermark_RecoversOnce(t *testing.T) {
	recovered := time.Date(2026, 2, 1, 11, 57, 0, 0, time.UTC)
	store := &fakeStore{maxWindow: &recovered}
	e := newTestEngine(testConfig(), &fakeLogSource{}, store)

	require.NoError(t, e.ensureWatermark(context.Background()))
	assert.Equal(t, recovered, e.lastProcessed)

	// A later, larger store value must not move the watermark again
	later := recovered.Add(time.Hour)
	store.maxWindow = &later
	require.NoError(t, e.ensureWatermark(context.Background()))
	assert.Equal(t, recovered, e.lastProcessed)
}

func TestEnsureWatermark_EmptyStore(t *testing.T) {
	e := newTestEngine(testConfig(), &fakeLogSource{}, &fakeStore{})

	require.NoError(t, e.ensureWatermark(context.Background()))

	assert.True(t, e.lastProcessed.IsZero())
	assert.True(t, e.watermarkRecovered)
}

func TestEvaluateNewWindows_NoModelIsNoop(t *testing.T) {
	logs := &fakeLogSource{}
	e := newTestEngine(testConfig(), logs, &fakeStore{})

	err := e.evaluateNewWindows(context.Background(), time.Now().UTC())

	require.NoError(t, err)
	assert.Zero(t, logs.calls)
}

func TestEvaluateNewWindows_CatchUpBounded(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1")}
	store := &fakeStore{}
	e := newTestEngine(testConfig(), logs, store)
	require.True(t, e.ensureModel(context.Background(), now))
	require.NoError(t, e.ensureWatermark(context.Background()))

	require.NoError(t, e.evaluateNewWindows(context.Background(), now))

	// With no stored watermark the walk starts at the catch-up bound, two
	// hours behind the newest fully-elapsed minute, and ends there.
	target := time.Date(2026, 2, 1, 11, 59, 0, 0, time.UTC)
	assert.Equal(t, target, e.lastProcessed)

	for _, d := range store.inserted {
		assert.False(t, d.WindowStartUtc.Before(target.Add(-120*time.Minute)))
		assert.False(t, d.WindowStartUtc.After(target))
	}
	assert.NotEmpty(t, store.inserted)
}

func TestEvaluateNewWindows_EmptyMinutesAdvanceWatermark(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1")}
	store := &fakeStore{}
	e := newTestEngine(testConfig(), logs, store)
	require.True(t, e.ensureModel(context.Background(), now))

	// Watermark three minutes back with no traffic in between
	e.watermarkRecovered = true
	e.lastProcessed = time.Date(2026, 2, 1, 11, 56, 0, 0, time.UTC)
	logs.records = nil

	require.NoError(t, e.evaluateNewWindows(context.Background(), now))

	assert.Equal(t, time.Date(2026, 2, 1, 11, 59, 0, 0, time.UTC), e.lastProcessed)
	assert.Empty(t, store.inserted)
}

func TestEvaluateNewWindows_AlreadyCurrent(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1")}
	e := newTestEngine(testConfig(), logs, &fakeStore{})
	require.True(t, e.ensureModel(context.Background(), now))

	e.watermarkRecovered = true
	e.lastProcessed = time.Date(2026, 2, 1, 11, 59, 0, 0, time.UTC)
	callsBefore := logs.calls

	require.NoError(t, e.evaluateNewWindows(context.Background(), now))

	assert.Equal(t, callsBefore, logs.calls)
}

func TestEvaluateWindow_SkipsExistingIPs(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	windowStart := time.Date(2026, 2, 1, 11, 40, 0, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1", "10.0.0.2")}
	store := &fakeStore{existing: map[string]struct{}{"10.0.0.1": {}, "10.0.0.2": {}}}
	e := newTestEngine(testConfig(), logs, store)
	require.True(t, e.ensureModel(context.Background(), now))

	err := e.evaluateWindow(context.Background(), e.CurrentModel(), windowStart, e.windowSize())

	require.NoError(t, err)
	assert.Zero(t, store.batches, "fully evaluated windows must not be written again")
}

func TestEvaluateWindow_InsertsOnePerIP(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	windowStart := time.Date(2026, 2, 1, 11, 40, 0, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1", "10.0.0.2")}
	store := &fakeStore{}
	e := newTestEngine(testConfig(), logs, store)
	require.True(t, e.ensureModel(context.Background(), now))

	err := e.evaluateWindow(context.Background(), e.CurrentModel(), windowStart, e.windowSize())

	require.NoError(t, err)
	require.Len(t, store.inserted, 2)

	seen := map[string]bool{}
	for _, d := range store.inserted {
		seen[d.IPAddress] = true
		assert.Equal(t, windowStart, d.WindowStartUtc)
		assert.Equal(t, windowStart.Add(time.Minute), d.WindowEndUtc)
		assert.GreaterOrEqual(t, d.Score, 0.0)
		assert.LessOrEqual(t, d.Score, 1.0)
	}
	assert.True(t, seen["10.0.0.1"])
	assert.True(t, seen["10.0.0.2"])
}

func TestEvaluateWindow_InsertFailureStopsWatermark(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)
	logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1")}
	store := &fakeStore{insertErr: errors.New("connection reset")}
	e := newTestEngine(testConfig(), logs, store)
	require.True(t, e.ensureModel(context.Background(), now))

	e.watermarkRecovered = true
	e.lastProcessed = time.Date(2026, 2, 1, 11, 57, 0, 0, time.UTC)

	err := e.evaluateNewWindows(context.Background(), now)

	require.Error(t, err)
	// The failing minute is retried next cycle
	assert.Equal(t, time.Date(2026, 2, 1, 11, 57, 0, 0, time.UTC), e.lastProcessed)
}

func TestEngine_StartStop(t *testing.T) {
	e := newTestEngine(testConfig(), &fakeLogSource{}, &fakeStore{})

	require.NoError(t, e.Start())
	assert.True(t, e.IsRunning())
	require.NoError(t, e.Start(), "starting twice is a no-op")

	e.Stop()
	assert.False(t, e.IsRunning())
	e.Stop()
}

func TestEvaluateNewWindows_ScoresAreDeterministicForSeed(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 30, 0, time.UTC)

	runOnce := func() []*models.Detection {
		logs := &fakeLogSource{records: steadyTraffic(now.Add(-30*time.Minute), 20, "10.0.0.1")}
		store := &fakeStore{}
		e := newTestEngine(testConfig(), logs, store)
		require.True(t, e.ensureModel(context.Background(), now))
		e.watermarkRecovered = true
		e.lastProcessed = time.Date(2026, 2, 1, 11, 55, 0, 0, time.UTC)
		require.NoError(t, e.evaluateNewWindows(context.Background(), now))
		return store.inserted
	}

	first := runOnce()
	second := runOnce()

	require.Equal(t, len(first), len(second))
	for i := range first {
		key := fmt.Sprintf("%s@%s", first[i].IPAddress, first[i].WindowStartUtc)
		assert.Equal(t, first[i].Score, second[i].Score, "scores diverged for %s", key)
	}
}

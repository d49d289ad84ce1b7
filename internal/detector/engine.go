// Package detector drives the login anomaly detection engine: a single
// control loop that keeps the isolation forest fresh and evaluates newly
// elapsed feature windows exactly once.
package detector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/internal/aggregator"
	"github.com/ivansuy/finalsecurityandaudit/internal/events"
	"github.com/ivansuy/finalsecurityandaudit/internal/forest"
	"github.com/ivansuy/finalsecurityandaudit/internal/logger"
	"github.com/ivansuy/finalsecurityandaudit/internal/metrics"
	"github.com/ivansuy/finalsecurityandaudit/pkg/config"
	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

// LogSource provides the raw login request records the engine consumes.
type LogSource interface {
	GetLoginRecords(ctx context.Context, from, to time.Time) ([]models.RequestLog, error)
}

// DetectionStore persists scored windows and answers the recovery queries.
type DetectionStore interface {
	InsertBatch(ctx context.Context, records []*models.Detection) error
	ExistingIPsForWindow(ctx context.Context, windowStart time.Time) (map[string]struct{}, error)
	MaxWindowStart(ctx context.Context) (*time.Time, error)
}

const (
	startupDelay = 5 * time.Second
	tickInterval = 1 * time.Second
)

type Engine struct {
	cfg       config.AnomalyConfig
	logs      LogSource
	store     DetectionStore
	publisher *events.Publisher
	stats     *metrics.Metrics

	// model is swapped atomically on retrain; in-flight Score calls keep
	// using the instance they resolved.
	model          atomic.Pointer[forest.Model]
	modelTrainedAt time.Time

	// lastProcessed is the watermark: the most recent window start fully
	// evaluated and persisted. Zero until recovered from the store.
	lastProcessed      time.Time
	watermarkRecovered bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewEngine(cfg config.AnomalyConfig, logs LogSource, store DetectionStore, publisher *events.Publisher) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:       cfg,
		logs:      logs,
		store:     store,
		publisher: publisher,
		stats:     metrics.Get(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	e.running = true
	e.wg.Add(1)
	go e.run()

	logger.Info("Anomaly detection engine started")
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	logger.Info("Anomaly detection engine stopped")
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// CurrentModel returns the model serving scoring calls, or nil before the
// first successful training.
func (e *Engine) CurrentModel() *forest.Model {
	return e.model.Load()
}

func (e *Engine) run() {
	defer e.wg.Done()

	select {
	case <-e.ctx.Done():
		return
	case <-time.After(startupDelay):
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	e.runCycle()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runCycle()
		}
	}
}

// runCycle performs one strictly sequential iteration: model freshness
// first, then incremental evaluation. A failure in either duty is logged
// and retried on the next tick.
func (e *Engine) runCycle() {
	now := time.Now().UTC()

	if !e.ensureModel(e.ctx, now) {
		return
	}

	if err := e.ensureWatermark(e.ctx); err != nil {
		logger.Errorf("Failed to recover evaluation watermark: %v", err)
		e.stats.RecordCycleError()
		return
	}

	if err := e.evaluateNewWindows(e.ctx, now); err != nil {
		if e.ctx.Err() == nil {
			logger.Errorf("Window evaluation failed: %v", err)
			e.publisher.Error("", "Window evaluation failed", err)
			e.stats.RecordCycleError()
		}
	}
}

func (e *Engine) windowSize() time.Duration {
	minutes := e.cfg.EvaluationWindowMinutes
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// ensureModel retrains when no model exists yet or the retrain interval has
// elapsed. Reports whether a model is in service: a deferred retrain keeps
// the previous model serving, so only a missing first model returns false.
func (e *Engine) ensureModel(ctx context.Context, now time.Time) bool {
	retrainInterval := time.Duration(maxInt(1, e.cfg.RetrainMinutes)) * time.Minute
	current := e.model.Load()

	if current != nil && now.Sub(e.modelTrainedAt) < retrainInterval {
		return true
	}

	// Train on a lookback range ending one evaluation window in the past:
	// the newest minute may still be accumulating requests.
	end := models.FloorToMinute(now.Add(-e.windowSize()))
	start := end.Add(-time.Duration(maxInt(1, e.cfg.TrainingLookbackHours)) * time.Hour)

	records, err := e.logs.GetLoginRecords(ctx, start, end)
	if err != nil {
		logger.Errorf("Failed to load training records: %v", err)
		e.stats.RecordCycleError()
		return current != nil
	}

	windows := aggregator.BuildWindows(records, start, end)
	dataset := make([][]float64, 0, len(windows))
	for i := range windows {
		if v := FeatureVector(&windows[i]); v != nil {
			dataset = append(dataset, v)
		}
	}

	required := maxInt(2, e.cfg.MinTrainingSamples)
	if len(dataset) < required {
		e.stats.RecordTrainingDeferred()
		e.publisher.TrainingDeferred(len(dataset), required)
		if current == nil {
			logger.Warnf("Not enough samples to train isolation forest: %d of %d required", len(dataset), required)
		}
		return current != nil
	}

	sampleSize := minInt(e.cfg.SampleSize, len(dataset))
	model, err := forest.Train(dataset, e.cfg.Trees, sampleSize, e.cfg.Seed())
	if err != nil {
		logger.Warnf("Isolation forest training failed: %v", err)
		e.stats.RecordTrainingDeferred()
		return current != nil
	}

	e.model.Store(model)
	e.modelTrainedAt = now
	e.stats.RecordTraining(len(dataset), e.cfg.Trees, sampleSize, now)
	e.publisher.ModelTrained(len(dataset), e.cfg.Trees)
	logger.Infof("Isolation forest trained (%d samples, %d trees)", len(dataset), e.cfg.Trees)
	return true
}

// ensureWatermark recovers lastProcessed from the store's most recent
// window start. Runs once per process; restarts neither re-evaluate scored
// windows nor skip unscored ones.
func (e *Engine) ensureWatermark(ctx context.Context) error {
	if e.watermarkRecovered {
		return nil
	}

	latest, err := e.store.MaxWindowStart(ctx)
	if err != nil {
		return err
	}

	if latest != nil {
		e.lastProcessed = *latest
		e.stats.SetWatermark(e.lastProcessed)
	}
	e.watermarkRecovered = true
	return nil
}

// evaluateNewWindows walks every fully-elapsed window after the watermark
// up to the target, bounded by the catch-up limit, and persists one
// detection per (window, IP). The watermark advances only after a minute
// commits, so a mid-range failure retries the same minute next tick.
func (e *Engine) evaluateNewWindows(ctx context.Context, now time.Time) error {
	model := e.model.Load()
	if model == nil {
		return nil
	}

	windowSize := e.windowSize()
	target := models.FloorToMinute(now.Add(-windowSize))

	if !e.lastProcessed.IsZero() && !e.lastProcessed.Before(target) {
		return nil
	}

	catchUp := time.Duration(maxInt(e.cfg.EvaluationWindowMinutes, e.cfg.CatchUpMinutes)) * time.Minute
	earliest := target.Add(-catchUp)

	var first time.Time
	if e.lastProcessed.IsZero() {
		first = earliest
	} else {
		first = e.lastProcessed.Add(windowSize)
	}
	// Gaps older than the catch-up bound are skipped permanently.
	if first.Before(earliest) {
		first = earliest
	}

	for windowStart := first; !windowStart.After(target); windowStart = windowStart.Add(windowSize) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.evaluateWindow(ctx, model, windowStart, windowSize); err != nil {
			return err
		}

		e.lastProcessed = windowStart
		e.stats.SetWatermark(windowStart)
	}

	return nil
}

func (e *Engine) evaluateWindow(ctx context.Context, model *forest.Model, windowStart time.Time, windowSize time.Duration) error {
	windowEnd := windowStart.Add(windowSize)

	records, err := e.logs.GetLoginRecords(ctx, windowStart, windowEnd)
	if err != nil {
		return err
	}

	windows := aggregator.BuildWindows(records, windowStart, windowEnd)
	if len(windows) == 0 {
		return nil
	}

	existing, err := e.store.ExistingIPsForWindow(ctx, windowStart)
	if err != nil {
		return err
	}

	detectedAt := time.Now().UTC()
	detections := make([]*models.Detection, 0, len(windows))
	anomalies := 0

	for i := range windows {
		window := &windows[i]
		if _, done := existing[window.IP]; done {
			continue
		}

		vector := FeatureVector(window)
		if vector == nil {
			continue
		}

		score := model.Score(vector)
		detection := models.NewDetection(window, score, e.cfg.Threshold, detectedAt)
		detections = append(detections, detection)

		if detection.IsAnomaly {
			anomalies++
			logger.WithIP(window.IP).Warnf("Anomalous login window %s (score %.3f)",
				windowStart.Format(time.RFC3339), score)
		}
	}

	if len(detections) > 0 {
		if err := e.store.InsertBatch(ctx, detections); err != nil {
			e.stats.RecordInsertFailure()
			return err
		}

		for _, d := range detections {
			if d.IsAnomaly {
				e.publisher.AnomalyDetected(d)
			}
		}
		e.publisher.WindowEvaluated(windowStart, len(detections), anomalies)
	}

	e.stats.RecordWindowEvaluated(len(windows))
	e.stats.RecordDetections(len(detections), anomalies)
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

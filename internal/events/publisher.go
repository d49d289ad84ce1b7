package events

import (
	"fmt"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

type Publisher struct {
	bus     *EventBus
	traceID string
}

func NewPublisher(bus *EventBus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) WithTraceID(traceID string) *Publisher {
	return &Publisher{
		bus:     p.bus,
		traceID: traceID,
	}
}

func (p *Publisher) publish(event *models.Event) {
	if p.traceID != "" {
		event.TraceID = p.traceID
	}
	p.bus.Publish(event)
}

func (p *Publisher) ModelTrained(samples, trees int) {
	msg := fmt.Sprintf("Isolation forest trained (%d samples, %d trees)", samples, trees)
	p.publish(models.NewEvent(models.EventTypeModelTrained, "", msg))
}

func (p *Publisher) TrainingDeferred(samples, required int) {
	msg := fmt.Sprintf("Training deferred: %d samples, %d required", samples, required)
	event := models.NewEvent(models.EventTypeTrainingDeferred, "", msg).
		WithSeverity(models.SeverityWarning)
	p.publish(event)
}

func (p *Publisher) WindowEvaluated(windowStart time.Time, evaluated, anomalies int) {
	msg := fmt.Sprintf("Window %s evaluated: %d IPs, %d anomalous",
		windowStart.Format(time.RFC3339), evaluated, anomalies)
	event := models.NewEvent(models.EventTypeWindowEvaluated, "", msg).
		WithData(map[string]interface{}{
			"window_start": windowStart,
			"evaluated":    evaluated,
			"anomalies":    anomalies,
		})
	p.publish(event)
}

func (p *Publisher) AnomalyDetected(detection *models.Detection) {
	msg := fmt.Sprintf("Anomalous login traffic from %s (score %.3f)", detection.IPAddress, detection.Score)
	event := models.NewEvent(models.EventTypeAnomalyDetected, detection.IPAddress, msg).
		WithSeverity(models.SeverityCritical).
		WithData(detection)
	p.publish(event)
}

func (p *Publisher) LoginBlocked(ip string, username *string, failCount int) {
	user := "-"
	if username != nil {
		user = *username
	}
	msg := fmt.Sprintf("Login blocked for %s (user %s, %d failures)", ip, user, failCount)
	event := models.NewEvent(models.EventTypeLoginBlocked, ip, msg).
		WithSeverity(models.SeverityWarning)
	p.publish(event)
}

func (p *Publisher) Error(ip, message string, err error) {
	event := models.NewEvent(models.EventTypeError, ip, message).
		WithSeverity(models.SeverityCritical).
		WithData(map[string]string{"error": err.Error()})
	p.publish(event)
}

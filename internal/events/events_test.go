package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

func receive(t *testing.T, ch <-chan *models.Event) *models.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestEventBus_SubscribeReceivesMatchingType(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()

	ch := bus.Subscribe(models.EventTypeAnomalyDetected)
	bus.Publish(models.NewEvent(models.EventTypeAnomalyDetected, "1.2.3.4", "anomalous window"))

	event := receive(t, ch)
	assert.Equal(t, models.EventTypeAnomalyDetected, event.Type)
	assert.Equal(t, "1.2.3.4", event.IPAddress)
}

func TestEventBus_SubscribeIgnoresOtherTypes(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()

	ch := bus.Subscribe(models.EventTypeAnomalyDetected)
	bus.Publish(models.NewEvent(models.EventTypeModelTrained, "", "trained"))

	select {
	case event := <-ch:
		t.Fatalf("unexpected event: %v", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAllReceivesEverything(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()

	ch := bus.SubscribeAll()
	bus.Publish(models.NewEvent(models.EventTypeModelTrained, "", "trained"))
	bus.Publish(models.NewEvent(models.EventTypeLoginBlocked, "1.2.3.4", "blocked"))

	first := receive(t, ch)
	second := receive(t, ch)
	assert.Equal(t, models.EventTypeModelTrained, first.Type)
	assert.Equal(t, models.EventTypeLoginBlocked, second.Type)
}

func TestEventBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := NewEventBus(8)
	ch := bus.SubscribeAll()
	bus.Close()

	bus.Publish(models.NewEvent(models.EventTypeAlert, "", "late"))

	_, open := <-ch
	assert.False(t, open, "channels close with the bus")
}

func TestPublisher_AnomalyDetected(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()

	ch := bus.Subscribe(models.EventTypeAnomalyDetected)
	publisher := NewPublisher(bus)

	detection := &models.Detection{
		IPAddress:      "9.9.9.9",
		WindowStartUtc: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Score:          0.91,
		IsAnomaly:      true,
	}
	publisher.AnomalyDetected(detection)

	event := receive(t, ch)
	assert.Equal(t, "9.9.9.9", event.IPAddress)
	assert.Equal(t, models.SeverityCritical, event.Severity)
	require.NotNil(t, event.Data)
}

func TestPublisher_WithTraceID(t *testing.T) {
	bus := NewEventBus(8)
	defer bus.Close()

	ch := bus.Subscribe(models.EventTypeModelTrained)
	publisher := NewPublisher(bus).WithTraceID("trace-123")

	publisher.ModelTrained(120, 100)

	event := receive(t, ch)
	assert.Equal(t, "trace-123", event.TraceID)
}

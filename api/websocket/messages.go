package websocket

import (
	"encoding/json"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

type MessageType string

const (
	MessageTypeDetection    MessageType = "detection"
	MessageTypeAnomaly      MessageType = "anomaly"
	MessageTypeModelTrained MessageType = "model_trained"
	MessageTypeLoginBlocked MessageType = "login_blocked"
	MessageTypeAlert        MessageType = "alert"
)

type OutgoingMessage struct {
	Type      MessageType `json:"type"`
	IPAddress string      `json:"ip_address,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func NewMessage(msgType MessageType, ip string, data interface{}) *OutgoingMessage {
	return &OutgoingMessage{
		Type:      msgType,
		IPAddress: ip,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func (m *OutgoingMessage) JSON() []byte {
	data, _ := json.Marshal(m)
	return data
}

type DetectionData struct {
	WindowStartUtc time.Time `json:"window_start_utc"`
	Score          float64   `json:"score"`
	IsAnomaly      bool      `json:"is_anomaly"`
	RequestCount   int       `json:"request_count"`
	ErrorRate      float64   `json:"error_rate"`
}

type ModelTrainedData struct {
	Trees       int `json:"trees"`
	SampleSize  int `json:"sample_size"`
	SampleCount int `json:"sample_count"`
}

type LoginBlockedData struct {
	FailCount    int     `json:"fail_count"`
	DelaySeconds float64 `json:"delay_seconds"`
}

type AlertData struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func BroadcastDetection(hub *Hub, detection *models.Detection) {
	data := DetectionData{
		WindowStartUtc: detection.WindowStartUtc,
		Score:          detection.Score,
		IsAnomaly:      detection.IsAnomaly,
		RequestCount:   detection.RequestCount,
		ErrorRate:      detection.ErrorRate,
	}
	msgType := MessageTypeDetection
	if detection.IsAnomaly {
		msgType = MessageTypeAnomaly
	}
	msg := NewMessage(msgType, detection.IPAddress, data)
	hub.BroadcastToIP(detection.IPAddress, msg.JSON())
}

func BroadcastAlert(hub *Hub, ip, severity, message string) {
	data := AlertData{
		Severity: severity,
		Message:  message,
	}
	msg := NewMessage(MessageTypeAlert, ip, data)
	hub.Broadcast(msg.JSON())
}

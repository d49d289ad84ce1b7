package models

import "time"

// Detection is one persisted scoring outcome for a (window start, IP) pair.
// The pair is unique in the store; rows are written exactly once and never
// updated or deleted by the engine.
type Detection struct {
	ID                        int64     `json:"id,omitempty"`
	IPAddress                 string    `json:"ip_address"`
	WindowStartUtc            time.Time `json:"window_start_utc"`
	WindowEndUtc              time.Time `json:"window_end_utc"`
	DetectedAtUtc             time.Time `json:"detected_at_utc"`
	Score                     float64   `json:"score"`
	IsAnomaly                 bool      `json:"is_anomaly"`
	RequestCount              int       `json:"request_count"`
	ErrorCount                int       `json:"error_count"`
	ErrorRate                 float64   `json:"error_rate"`
	AvgSecondsBetweenRequests *float64  `json:"avg_seconds_between_requests,omitempty"`
	AvgElapsedMs              *float64  `json:"avg_elapsed_ms,omitempty"`
	P95ElapsedMs              *float64  `json:"p95_elapsed_ms,omitempty"`
	UniqueUserCount           int       `json:"unique_user_count"`
	LastStatusCode            int       `json:"last_status_code"`
	SuccessCount              int       `json:"success_count"`
	UnauthorizedCount         int       `json:"unauthorized_count"`
	ServerErrorCount          int       `json:"server_error_count"`
}

// NewDetection assembles a detection record from a scored feature window.
func NewDetection(window *FeatureWindow, score float64, threshold float64, detectedAt time.Time) *Detection {
	success, unauthorized, serverErrors := window.StatusCounts()

	return &Detection{
		IPAddress:                 window.IP,
		WindowStartUtc:            window.WindowStartUtc,
		WindowEndUtc:              window.WindowEndUtc,
		DetectedAtUtc:             detectedAt,
		Score:                     score,
		IsAnomaly:                 score >= threshold,
		RequestCount:              window.RequestCount,
		ErrorCount:                window.ErrorCount,
		ErrorRate:                 window.ErrorRate,
		AvgSecondsBetweenRequests: window.AvgSecondsBetweenRequests,
		AvgElapsedMs:              window.AvgElapsedMs,
		P95ElapsedMs:              window.P95ElapsedMs,
		UniqueUserCount:           window.UniqueUserCount,
		LastStatusCode:            window.LastStatusCode,
		SuccessCount:              success,
		UnauthorizedCount:         unauthorized,
		ServerErrorCount:          serverErrors,
	}
}

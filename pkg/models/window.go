package models

import "time"

// FeatureWindow aggregates all login requests from one IP inside a single
// minute-aligned one-minute bucket. Windows are built on demand from the
// request log and are immutable once built; they are never persisted
// directly, only the detection derived from them is.
type FeatureWindow struct {
	IP                        string      `json:"ip"`
	WindowStartUtc            time.Time   `json:"window_start_utc"`
	WindowEndUtc              time.Time   `json:"window_end_utc"`
	RequestCount              int         `json:"request_count"`
	ErrorCount                int         `json:"error_count"`
	ErrorRate                 float64     `json:"error_rate"`
	AvgSecondsBetweenRequests *float64    `json:"avg_seconds_between_requests,omitempty"`
	AvgElapsedMs              *float64    `json:"avg_elapsed_ms,omitempty"`
	P95ElapsedMs              *float64    `json:"p95_elapsed_ms,omitempty"`
	UniqueUserCount           int         `json:"unique_user_count"`
	StatusBreakdown           map[int]int `json:"status_breakdown"`
	LastStatusCode            int         `json:"last_status_code"`
	FirstRequestAtUtc         time.Time   `json:"first_request_at_utc"`
	LastRequestAtUtc          time.Time   `json:"last_request_at_utc"`
}

// StatusCounts returns the 200, 401 and >=500 counters derived from the
// status breakdown.
func (w *FeatureWindow) StatusCounts() (success, unauthorized, serverErrors int) {
	success = w.StatusBreakdown[200]
	unauthorized = w.StatusBreakdown[401]
	for code, count := range w.StatusBreakdown {
		if code >= 500 {
			serverErrors += count
		}
	}
	return success, unauthorized, serverErrors
}

// FloorToMinute truncates a timestamp to its minute boundary in UTC.
func FloorToMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

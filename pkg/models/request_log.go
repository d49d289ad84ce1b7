package models

import "time"

// RequestLog is one row produced by the request-logging middleware. The
// anomaly engine only reads AtUtc, StatusCode, UserID, IPAddress and
// ElapsedMs; the rest exists for the audit trail.
type RequestLog struct {
	ID         int64     `json:"id,omitempty"`
	AtUtc      time.Time `json:"at_utc"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	UserID     *string   `json:"user_id,omitempty"`
	IPAddress  string    `json:"ip_address"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	UserAgent  *string   `json:"user_agent,omitempty"`
}

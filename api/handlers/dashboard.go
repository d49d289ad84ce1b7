package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ivansuy/finalsecurityandaudit/internal/aggregator"
	"github.com/ivansuy/finalsecurityandaudit/pkg/config"
	"github.com/ivansuy/finalsecurityandaudit/pkg/database/queries"
	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

type DashboardHandler struct {
	requestLogs *queries.RequestLogRepository
	attempts    *queries.AuthAttemptRepository
	detections  *queries.DetectionRepository
	anomalyCfg  config.AnomalyConfig
}

func NewDashboardHandler(
	requestLogs *queries.RequestLogRepository,
	attempts *queries.AuthAttemptRepository,
	detections *queries.DetectionRepository,
	anomalyCfg config.AnomalyConfig,
) *DashboardHandler {
	return &DashboardHandler{
		requestLogs: requestLogs,
		attempts:    attempts,
		detections:  detections,
		anomalyCfg:  anomalyCfg,
	}
}

type SummaryResponse struct {
	WindowHours  int                     `json:"window_hours"`
	AuthSuccess  int                     `json:"auth_success"`
	AuthFailed   int                     `json:"auth_failed"`
	TopEndpoints []queries.EndpointCount `json:"top_endpoints"`
}

// Summary reports 24h authentication outcomes and the busiest endpoints.
func (h *DashboardHandler) Summary(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	since := time.Now().UTC().Add(-24 * time.Hour)

	success, failed, err := h.attempts.CountOutcomes(ctx, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query auth attempts"})
		return
	}

	topEndpoints, err := h.requestLogs.TopEndpoints(ctx, since, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query request logs"})
		return
	}

	c.JSON(http.StatusOK, SummaryResponse{
		WindowHours:  24,
		AuthSuccess:  success,
		AuthFailed:   failed,
		TopEndpoints: topEndpoints,
	})
}

type LoginMetricsResponse struct {
	Minutes        int                    `json:"minutes"`
	SinceUtc       time.Time              `json:"since_utc"`
	GeneratedAtUtc time.Time              `json:"generated_at_utc"`
	Results        []models.FeatureWindow `json:"results"`
}

// LoginMetrics aggregates recent login traffic into per-minute feature
// windows, computed on demand from the raw request log.
func (h *DashboardHandler) LoginMetrics(c *gin.Context) {
	minutes := parseIntQuery(c, "minutes", 60)
	if minutes <= 0 {
		minutes = 60
	}
	if minutes > 1440 {
		minutes = 1440
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	since := now.Add(-time.Duration(minutes) * time.Minute)

	records, err := h.requestLogs.GetLoginRecords(ctx, since, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query request logs"})
		return
	}

	windows := aggregator.BuildWindows(records, since, now)
	if windows == nil {
		windows = []models.FeatureWindow{}
	}

	c.JSON(http.StatusOK, LoginMetricsResponse{
		Minutes:        minutes,
		SinceUtc:       since,
		GeneratedAtUtc: now,
		Results:        windows,
	})
}

type AnomalySummary struct {
	TotalEvaluations int     `json:"total_evaluations"`
	TotalAnomalies   int     `json:"total_anomalies"`
	TotalNormals     int     `json:"total_normals"`
	AnomalyRate      float64 `json:"anomaly_rate"`
	UniqueIPCount    int     `json:"unique_ip_count"`
}

type SuspiciousIP struct {
	IPAddress           string    `json:"ip_address"`
	LastScore           float64   `json:"last_score"`
	LastDetectedAtUtc   time.Time `json:"last_detected_at_utc"`
	WindowStartUtc      time.Time `json:"window_start_utc"`
	TotalAnomalies      int       `json:"total_anomalies"`
	TotalWindows        int       `json:"total_windows"`
	AverageRequestCount float64   `json:"average_request_count"`
	AverageErrorRate    float64   `json:"average_error_rate"`
	RecentRequestCount  int       `json:"recent_request_count"`
	RecentErrorRate     float64   `json:"recent_error_rate"`
}

type AnomaliesResponse struct {
	GeneratedAtUtc   time.Time          `json:"generated_at_utc"`
	WindowMinutes    int                `json:"window_minutes"`
	Threshold        float64            `json:"threshold"`
	Summary          AnomalySummary     `json:"summary"`
	TopSuspiciousIPs []SuspiciousIP     `json:"top_suspicious_ips"`
	RecentDetections []models.Detection `json:"recent_detections"`
	LatestByIP       []models.Detection `json:"latest_by_ip"`
}

// Anomalies returns the scored windows of the last N hours together with
// per-IP rollups for the dashboard.
func (h *DashboardHandler) Anomalies(c *gin.Context) {
	hours := parseIntQuery(c, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	if hours > 168 {
		hours = 168
	}

	maxRecords := parseIntQuery(c, "max_records", 150)
	if maxRecords <= 0 {
		maxRecords = 150
	}
	if maxRecords > 500 {
		maxRecords = 500
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	since := now.Add(-time.Duration(hours) * time.Hour)

	detections, err := h.detections.GetSince(ctx, since, maxRecords)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query detections"})
		return
	}

	windowMinutes := h.anomalyCfg.EvaluationWindowMinutes
	if windowMinutes < 1 {
		windowMinutes = 1
	}

	c.JSON(http.StatusOK, AnomaliesResponse{
		GeneratedAtUtc:   now,
		WindowMinutes:    windowMinutes,
		Threshold:        h.anomalyCfg.Threshold,
		Summary:          buildSummary(detections),
		TopSuspiciousIPs: buildTopSuspicious(detections, 10),
		RecentDetections: recentByDetectedAt(detections, 50),
		LatestByIP:       latestByIP(detections),
	})
}

func buildSummary(detections []models.Detection) AnomalySummary {
	summary := AnomalySummary{TotalEvaluations: len(detections)}

	uniqueIPs := make(map[string]struct{})
	for _, d := range detections {
		if d.IsAnomaly {
			summary.TotalAnomalies++
		}
		uniqueIPs[d.IPAddress] = struct{}{}
	}

	summary.TotalNormals = summary.TotalEvaluations - summary.TotalAnomalies
	summary.UniqueIPCount = len(uniqueIPs)
	if summary.TotalEvaluations > 0 {
		summary.AnomalyRate = float64(summary.TotalAnomalies) / float64(summary.TotalEvaluations)
	}
	return summary
}

func buildTopSuspicious(detections []models.Detection, limit int) []SuspiciousIP {
	windowsPerIP := make(map[string]int)
	for _, d := range detections {
		windowsPerIP[d.IPAddress]++
	}

	type rollup struct {
		entry        SuspiciousIP
		sumRequests  float64
		sumErrorRate float64
		newest       models.Detection
	}

	groups := make(map[string]*rollup)
	for _, d := range detections {
		if !d.IsAnomaly {
			continue
		}
		g, ok := groups[d.IPAddress]
		if !ok {
			g = &rollup{newest: d}
			g.entry.IPAddress = d.IPAddress
			groups[d.IPAddress] = g
		}

		g.entry.TotalAnomalies++
		g.sumRequests += float64(d.RequestCount)
		g.sumErrorRate += d.ErrorRate

		if d.Score > g.entry.LastScore {
			g.entry.LastScore = d.Score
		}
		if d.DetectedAtUtc.After(g.entry.LastDetectedAtUtc) {
			g.entry.LastDetectedAtUtc = d.DetectedAtUtc
		}
		if d.WindowStartUtc.After(g.newest.WindowStartUtc) {
			g.newest = d
		}
	}

	result := make([]SuspiciousIP, 0, len(groups))
	for ip, g := range groups {
		n := float64(g.entry.TotalAnomalies)
		g.entry.TotalWindows = windowsPerIP[ip]
		g.entry.AverageRequestCount = g.sumRequests / n
		g.entry.AverageErrorRate = g.sumErrorRate / n
		g.entry.WindowStartUtc = g.newest.WindowStartUtc
		g.entry.RecentRequestCount = g.newest.RequestCount
		g.entry.RecentErrorRate = g.newest.ErrorRate
		result = append(result, g.entry)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].LastScore != result[j].LastScore {
			return result[i].LastScore > result[j].LastScore
		}
		return result[i].TotalAnomalies > result[j].TotalAnomalies
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func recentByDetectedAt(detections []models.Detection, limit int) []models.Detection {
	recent := make([]models.Detection, len(detections))
	copy(recent, detections)

	sort.Slice(recent, func(i, j int) bool {
		return recent[i].DetectedAtUtc.After(recent[j].DetectedAtUtc)
	})

	if len(recent) > limit {
		recent = recent[:limit]
	}
	return recent
}

func latestByIP(detections []models.Detection) []models.Detection {
	latest := make(map[string]models.Detection)
	for _, d := range detections {
		cur, ok := latest[d.IPAddress]
		if !ok {
			latest[d.IPAddress] = d
			continue
		}
		if d.WindowStartUtc.After(cur.WindowStartUtc) ||
			(d.WindowStartUtc.Equal(cur.WindowStartUtc) && d.Score > cur.Score) {
			latest[d.IPAddress] = d
		}
	}

	result := make([]models.Detection, 0, len(latest))
	for _, d := range latest {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result
}

type AuthAttemptEntry struct {
	AttemptAtUtc          time.Time `json:"attempt_at_utc"`
	Username              *string   `json:"username,omitempty"`
	IPAddress             string    `json:"ip_address"`
	Success               bool      `json:"success"`
	FailCountForKey       int       `json:"fail_count_for_key"`
	BackoffSecondsApplied int       `json:"backoff_seconds_applied"`
	Reason                *string   `json:"reason,omitempty"`
}

type AuthAttemptsResponse struct {
	Hours          int                `json:"hours"`
	GeneratedAtUtc time.Time          `json:"generated_at_utc"`
	Attempts       []AuthAttemptEntry `json:"attempts"`
}

// AuthAttempts lists the raw login attempt audit trail, newest first.
func (h *DashboardHandler) AuthAttempts(c *gin.Context) {
	hours := parseIntQuery(c, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	if hours > 168 {
		hours = 168
	}

	limit := parseIntQuery(c, "limit", 200)
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	rows, err := h.attempts.GetRecent(ctx, now.Add(-time.Duration(hours)*time.Hour), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query auth attempts"})
		return
	}

	attempts := make([]AuthAttemptEntry, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, AuthAttemptEntry{
			AttemptAtUtc:          row.AttemptAtUtc,
			Username:              row.Username,
			IPAddress:             row.IPAddress,
			Success:               row.Success,
			FailCountForKey:       row.FailCountForKey,
			BackoffSecondsApplied: row.BackoffSecondsApplied,
			Reason:                row.Reason,
		})
	}

	c.JSON(http.StatusOK, AuthAttemptsResponse{
		Hours:          hours,
		GeneratedAtUtc: now,
		Attempts:       attempts,
	})
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

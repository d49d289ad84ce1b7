package queries

import (
	"context"
	"database/sql"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

type DetectionRepository struct {
	db *sql.DB
}

func NewDetectionRepository(db *sql.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch writes all records in a single transaction. Either every row
// of the minute lands or none does; the scheduler advances its watermark
// only after this returns nil.
func (r *DetectionRepository) InsertBatch(ctx context.Context, records []*models.Detection) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO login_anomaly_detections
			(ip_address, window_start_utc, window_end_utc, detected_at_utc, score, is_anomaly,
			 request_count, error_count, error_rate, avg_seconds_between_requests,
			 avg_elapsed_ms, p95_elapsed_ms, unique_user_count, last_status_code,
			 success_count, unauthorized_count, server_error_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range records {
		_, err := stmt.ExecContext(ctx,
			d.IPAddress, d.WindowStartUtc, d.WindowEndUtc, d.DetectedAtUtc, d.Score, d.IsAnomaly,
			d.RequestCount, d.ErrorCount, d.ErrorRate, d.AvgSecondsBetweenRequests,
			d.AvgElapsedMs, d.P95ElapsedMs, d.UniqueUserCount, d.LastStatusCode,
			d.SuccessCount, d.UnauthorizedCount, d.ServerErrorCount,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ExistingIPsForWindow returns the IPs already recorded for an exact window
// start. The scheduler uses this to skip work after a partial failure.
func (r *DetectionRepository) ExistingIPsForWindow(ctx context.Context, windowStart time.Time) (map[string]struct{}, error) {
	query := `SELECT ip_address FROM login_anomaly_detections WHERE window_start_utc = $1`

	rows, err := r.db.QueryContext(ctx, query, windowStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ips := make(map[string]struct{})
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips[ip] = struct{}{}
	}

	return ips, rows.Err()
}

// MaxWindowStart returns the most recent window start present in the store,
// or nil when no detection has ever been written. It anchors watermark
// recovery on cold start.
func (r *DetectionRepository) MaxWindowStart(ctx context.Context) (*time.Time, error) {
	query := `SELECT MAX(window_start_utc) FROM login_anomaly_detections`

	var max sql.NullTime
	if err := r.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return nil, err
	}
	if !max.Valid {
		return nil, nil
	}

	t := max.Time.UTC()
	return &t, nil
}

// GetSince returns detections with windowStart >= since, ordered by window
// start descending then score descending, capped at limit.
func (r *DetectionRepository) GetSince(ctx context.Context, since time.Time, limit int) ([]models.Detection, error) {
	if limit <= 0 {
		limit = 150
	}

	query := `
		SELECT id, ip_address, window_start_utc, window_end_utc, detected_at_utc, score, is_anomaly,
			request_count, error_count, error_rate, avg_seconds_between_requests,
			avg_elapsed_ms, p95_elapsed_ms, unique_user_count, last_status_code,
			success_count, unauthorized_count, server_error_count
		FROM login_anomaly_detections
		WHERE window_start_utc >= $1
		ORDER BY window_start_utc DESC, score DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		err := rows.Scan(&d.ID, &d.IPAddress, &d.WindowStartUtc, &d.WindowEndUtc, &d.DetectedAtUtc,
			&d.Score, &d.IsAnomaly, &d.RequestCount, &d.ErrorCount, &d.ErrorRate,
			&d.AvgSecondsBetweenRequests, &d.AvgElapsedMs, &d.P95ElapsedMs,
			&d.UniqueUserCount, &d.LastStatusCode,
			&d.SuccessCount, &d.UnauthorizedCount, &d.ServerErrorCount)
		if err != nil {
			return nil, err
		}
		d.WindowStartUtc = d.WindowStartUtc.UTC()
		d.WindowEndUtc = d.WindowEndUtc.UTC()
		d.DetectedAtUtc = d.DetectedAtUtc.UTC()
		detections = append(detections, d)
	}

	return detections, rows.Err()
}

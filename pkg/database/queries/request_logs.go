package queries

import (
	"context"
	"database/sql"
	"time"

	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

// LoginPath is the endpoint whose traffic feeds the anomaly engine.
const LoginPath = "/api/auth/login"

type RequestLogRepository struct {
	db *sql.DB
}

func NewRequestLogRepository(db *sql.DB) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func (r *RequestLogRepository) Insert(ctx context.Context, log *models.RequestLog) error {
	query := `
		INSERT INTO request_logs (at_utc, method, path, status_code, user_id, ip_address, elapsed_ms, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		log.AtUtc, log.Method, log.Path, log.StatusCode, log.UserID,
		log.IPAddress, log.ElapsedMs, log.UserAgent,
	)
	return err
}

// GetLoginRecords returns all login requests in [from, to), ordered by IP
// then timestamp ascending. The window aggregation relies on this ordering
// for its inter-arrival computation.
func (r *RequestLogRepository) GetLoginRecords(ctx context.Context, from, to time.Time) ([]models.RequestLog, error) {
	if !to.After(from) {
		return nil, nil
	}

	query := `
		SELECT id, at_utc, status_code, user_id, ip_address, elapsed_ms
		FROM request_logs
		WHERE path = $1 AND at_utc >= $2 AND at_utc < $3
		ORDER BY ip_address ASC, at_utc ASC`

	rows, err := r.db.QueryContext(ctx, query, LoginPath, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RequestLog
	for rows.Next() {
		var l models.RequestLog
		err := rows.Scan(&l.ID, &l.AtUtc, &l.StatusCode, &l.UserID, &l.IPAddress, &l.ElapsedMs)
		if err != nil {
			return nil, err
		}
		l.AtUtc = l.AtUtc.UTC()
		l.Path = LoginPath
		logs = append(logs, l)
	}

	return logs, rows.Err()
}

// EndpointCount is one row of the request volume ranking.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

// TopEndpoints ranks paths by request volume since the cutoff.
func (r *RequestLogRepository) TopEndpoints(ctx context.Context, since time.Time, limit int) ([]EndpointCount, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT path, COUNT(*) AS cnt
		FROM request_logs
		WHERE at_utc >= $1
		GROUP BY path
		ORDER BY cnt DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []EndpointCount
	for rows.Next() {
		var ec EndpointCount
		if err := rows.Scan(&ec.Endpoint, &ec.Count); err != nil {
			return nil, err
		}
		counts = append(counts, ec)
	}

	return counts, rows.Err()
}

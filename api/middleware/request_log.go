package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivansuy/finalsecurityandaudit/internal/logger"
	"github.com/ivansuy/finalsecurityandaudit/pkg/models"
)

// RequestLogWriter persists one row per handled request.
type RequestLogWriter interface {
	Insert(ctx context.Context, log *models.RequestLog) error
}

const requestLogTimeout = 5 * time.Second

// RequestDBLog writes an audit row for every request after the handler has
// run. This feed is what the anomaly engine aggregates, but logging is
// fire-and-forget: a failed insert never breaks the request flow.
func RequestDBLog(repo RequestLogWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)

		var userID *string
		if username, exists := c.Get(UsernameKey); exists {
			if name, ok := username.(string); ok && name != "" {
				userID = &name
			}
		}

		var userAgent *string
		if ua := c.Request.UserAgent(); ua != "" {
			userAgent = &ua
		}

		row := &models.RequestLog{
			AtUtc:      time.Now().UTC(),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			StatusCode: c.Writer.Status(),
			UserID:     userID,
			IPAddress:  c.ClientIP(),
			ElapsedMs:  elapsed.Milliseconds(),
			UserAgent:  userAgent,
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), requestLogTimeout)
			defer cancel()

			if err := repo.Insert(ctx, row); err != nil {
				logger.Errorf("Failed to persist request log: %v", err)
			}
		}()
	}
}

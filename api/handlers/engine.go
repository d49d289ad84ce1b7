package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ivansuy/finalsecurityandaudit/internal/detector"
	"github.com/ivansuy/finalsecurityandaudit/internal/metrics"
	"github.com/ivansuy/finalsecurityandaudit/pkg/database"
)

type EngineHandler struct {
	engine *detector.Engine
	db     *database.DB
}

func NewEngineHandler(engine *detector.Engine, db *database.DB) *EngineHandler {
	return &EngineHandler{engine: engine, db: db}
}

type ModelStatus struct {
	Trained    bool `json:"trained"`
	Trees      int  `json:"trees"`
	SampleSize int  `json:"sample_size"`
}

type DBStats struct {
	OpenConnections int `json:"open_connections"`
	InUse           int `json:"in_use"`
	Idle            int `json:"idle"`
}

type EngineStatusResponse struct {
	Running        bool             `json:"running"`
	GeneratedAtUtc time.Time        `json:"generated_at_utc"`
	Model          ModelStatus      `json:"model"`
	Stats          metrics.Snapshot `json:"stats"`
	Database       DBStats          `json:"database"`
}

// Status exposes the detector's run state, the active model and the
// counters accumulated since start.
func (h *EngineHandler) Status(c *gin.Context) {
	dbStats := h.db.GetConnectionStats()

	status := EngineStatusResponse{
		Running:        h.engine.IsRunning(),
		GeneratedAtUtc: time.Now().UTC(),
		Stats:          metrics.Get().GetSnapshot(),
		Database: DBStats{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
		},
	}

	if model := h.engine.CurrentModel(); model != nil {
		status.Model = ModelStatus{
			Trained:    true,
			Trees:      model.TreeCount(),
			SampleSize: model.SampleSize(),
		}
	}

	c.JSON(http.StatusOK, status)
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
)

var startTime = time.Now()

// Pinger is anything whose connection can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseHealth reports database reachability and table sizes.
type DatabaseHealth interface {
	Pinger
	TableCounts(ctx context.Context) (*models.TableCounts, error)
}

// HealthHandler provides health endpoints.
type HealthHandler struct {
	db    DatabaseHealth
	redis Pinger
}

// NewHealthHandler creates a new HealthHandler. redis may be nil.
func NewHealthHandler(db DatabaseHealth, redis Pinger) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

func status(err error) string {
	if err != nil {
		return "disconnected"
	}
	return "connected"
}

// GetHealth responds with service, database and redis status. Redis is
// bookkeeping only, so losing it does not make the service unhealthy.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	dbErr := h.db.Ping(ctx)
	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = status(h.redis.Ping(ctx))
	}

	healthy := dbErr == nil
	data := gin.H{
		"healthy":  healthy,
		"status":   "healthy",
		"version":  "1.0.0",
		"uptime":   int(time.Since(startTime).Seconds()),
		"database": status(dbErr),
		"redis":    redisStatus,
	}
	if !healthy {
		data["status"] = "unhealthy"
		utils.ErrorWithData(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Service is unhealthy", data)
		return
	}
	utils.Success(c, http.StatusOK, "Service is healthy", data)
}

// GetDatabaseHealth responds with the row count of every owned table.
func (h *HealthHandler) GetDatabaseHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	counts, err := h.db.TableCounts(ctx)
	if err != nil {
		handleError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Database is healthy", gin.H{
		"healthy":        true,
		"tables":         counts,
		"responseTimeMs": time.Since(start).Milliseconds(),
	})
}

package handler

import (
	"context"
	"net/http"
	"time"

	"bencidata/internal/infra"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Health pings the database and redis. Redis only feeds the audit queue, so
// an outage there degrades the service instead of failing the health check.
func Health(db *gorm.DB, rdb *redis.Client, queueCB *infra.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus := "connected"
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			redisStatus = "connected"
			if rdb.Ping(ctx).Err() != nil {
				redisStatus = "error"
			}
		}

		queue := "closed"
		if queueCB != nil && queueCB.State() == infra.CBOpen {
			queue = "open"
		}

		status := http.StatusOK
		if dbStatus != "connected" {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"ok":            status == http.StatusOK,
			"degraded":      redisStatus == "error" || queue == "open",
			"db":            dbStatus,
			"redis":         redisStatus,
			"queue_breaker": queue,
		})
	}
}

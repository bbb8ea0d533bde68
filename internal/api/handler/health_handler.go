package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/api/dto"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// Health handles GET /health
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := dto.HealthResponse{
			Status:   "healthy",
			Service:  deps.ServiceName,
			Database: "up",
		}

		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()

			if err := deps.Database.HealthCheck(ctx); err != nil {
				deps.Logger.Warn("Database health check failed",
					slog.String("error", err.Error()),
				)
				resp.Status = "unhealthy"
				resp.Database = "down"
				c.JSON(http.StatusServiceUnavailable, resp)
				return
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}

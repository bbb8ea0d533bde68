package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/voicenote-jobs/internal/supervisor"
	"github.com/gin-gonic/gin"
)

// ListQueues handles GET /api/v1/queues
// Returns the statistics of every queue
func (h *QueueHandler) ListQueues(c *gin.Context) {
	result, err := h.supervisor.AllStats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetQueue handles GET /api/v1/queues/:queueName
// Returns the statistics of one queue
func (h *QueueHandler) GetQueue(c *gin.Context) {
	result, err := h.supervisor.Stats(c.Request.Context(), c.Param("queueName"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// PauseQueue handles POST /api/v1/queues/:queueName/pause
func (h *QueueHandler) PauseQueue(c *gin.Context) {
	h.control(c, "pause", h.supervisor.Pause)
}

// ResumeQueue handles POST /api/v1/queues/:queueName/resume
func (h *QueueHandler) ResumeQueue(c *gin.Context) {
	h.control(c, "resume", h.supervisor.Resume)
}

// CleanQueue handles POST /api/v1/queues/:queueName/clean
// Removes finished jobs beyond the queue's retention policy
func (h *QueueHandler) CleanQueue(c *gin.Context) {
	h.control(c, "clean", h.supervisor.Clean)
}

func (h *QueueHandler) control(c *gin.Context, action string, op func(context.Context, string) (supervisor.ActionResult, error)) {
	queueName := c.Param("queueName")

	result, err := op(c.Request.Context(), queueName)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Queue control operation",
		slog.String("action", action),
		slog.String("queue", queueName),
		slog.String("request_id", c.GetString(RequestIDKey)),
	)

	c.JSON(http.StatusOK, result)
}

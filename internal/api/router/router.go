package router

import (
	"github.com/cuongbtq/voicenote-jobs/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(deps.CORSOrigins))

	r.GET("/health", handler.Health(deps))

	queueHandler := handler.NewQueueHandler(deps)
	noteHandler := handler.NewNoteHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1", AuthMiddleware(deps.AdminToken))
	{
		queues := v1.Group("/queues")
		{
			queues.GET("", queueHandler.ListQueues)
			queues.GET("/:queueName", queueHandler.GetQueue)
			queues.POST("/:queueName/pause", queueHandler.PauseQueue)
			queues.POST("/:queueName/resume", queueHandler.ResumeQueue)
			queues.POST("/:queueName/clean", queueHandler.CleanQueue)
		}

		// POST /api/v1/notes/:noteId/process - enqueue transcription and summary
		v1.POST("/notes/:noteId/process", noteHandler.ProcessNote)
	}

	return r
}

package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/voicenote-jobs/internal/intake"
	"github.com/cuongbtq/voicenote-jobs/internal/supervisor"
)

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"

// QueueSupervisor is the operational facade behind the queue routes
type QueueSupervisor interface {
	AllStats(ctx context.Context) (supervisor.AllStatsResult, error)
	Stats(ctx context.Context, name string) (supervisor.QueueStatsResult, error)
	Pause(ctx context.Context, name string) (supervisor.ActionResult, error)
	Resume(ctx context.Context, name string) (supervisor.ActionResult, error)
	Clean(ctx context.Context, name string) (supervisor.ActionResult, error)
}

// NoteSubmitter enqueues processing of a note
type NoteSubmitter interface {
	Submit(ctx context.Context, req intake.Request) (string, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	AdminToken  string
	CORSOrigins []string
	Supervisor  QueueSupervisor
	Intake      NoteSubmitter
	Database    HealthChecker
}

// QueueHandler handles the queue administration routes
type QueueHandler struct {
	logger     *slog.Logger
	supervisor QueueSupervisor
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger:     deps.Logger,
		supervisor: deps.Supervisor,
	}
}

// NoteHandler handles note processing requests
type NoteHandler struct {
	logger *slog.Logger
	intake NoteSubmitter
}

// NewNoteHandler creates a new NoteHandler instance
func NewNoteHandler(deps *Dependencies) *NoteHandler {
	return &NoteHandler{
		logger: deps.Logger,
		intake: deps.Intake,
	}
}

// Package supervisor is the operational facade over the job queues.
//
// It resolves queue names coming from operators, reports statistics and
// forwards pause, resume and clean requests. Failures other than bad input
// are reported as opaque internal errors; the cause is only logged.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
	"github.com/google/uuid"
)

// AllStatsResult is the snapshot of every queue
type AllStatsResult struct {
	Transcribe domain.QueueStats `json:"transcribe"`
	Summarize  domain.QueueStats `json:"summarize"`
	Timestamp  time.Time         `json:"timestamp"`
}

// QueueStatsResult is the snapshot of one queue
type QueueStatsResult struct {
	Queue     domain.QueueName  `json:"queue"`
	Stats     domain.QueueStats `json:"stats"`
	Timestamp time.Time         `json:"timestamp"`
}

// ActionResult reports the outcome of a control operation
type ActionResult struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// InternalError hides the cause of a failure from operational callers.
// CorrelationID matches the log entry holding the cause.
type InternalError struct {
	CorrelationID string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s (correlation id %s)", domain.ErrInternal, e.CorrelationID)
}

func (e *InternalError) Unwrap() error {
	return domain.ErrInternal
}

// Options configures a Supervisor
type Options struct {
	Logger    *slog.Logger
	Retention map[domain.QueueName]queue.Retention
	Now       func() time.Time
}

// Supervisor holds a reference to each job queue and nothing else
type Supervisor struct {
	queues    map[domain.QueueName]*queue.JobQueue
	retention map[domain.QueueName]queue.Retention
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Supervisor over queues
func New(queues []*queue.JobQueue, opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	byName := make(map[domain.QueueName]*queue.JobQueue, len(queues))
	for _, q := range queues {
		byName[q.Name()] = q
	}

	return &Supervisor{
		queues:    byName,
		retention: opts.Retention,
		logger:    opts.Logger.With(slog.String("component", "supervisor")),
		now:       opts.Now,
	}
}

// AllStats returns the statistics of the transcribe and summarize queues
func (s *Supervisor) AllStats(ctx context.Context) (AllStatsResult, error) {
	transcribe, err := s.stats(ctx, domain.QueueTranscribe)
	if err != nil {
		return AllStatsResult{}, err
	}
	summarize, err := s.stats(ctx, domain.QueueSummarize)
	if err != nil {
		return AllStatsResult{}, err
	}

	return AllStatsResult{
		Transcribe: transcribe,
		Summarize:  summarize,
		Timestamp:  s.timestamp(),
	}, nil
}

// Stats returns the statistics of one queue
func (s *Supervisor) Stats(ctx context.Context, name string) (QueueStatsResult, error) {
	q, err := s.resolve(name)
	if err != nil {
		return QueueStatsResult{}, err
	}
	stats, err := s.stats(ctx, q.Name())
	if err != nil {
		return QueueStatsResult{}, err
	}

	return QueueStatsResult{
		Queue:     q.Name(),
		Stats:     stats,
		Timestamp: s.timestamp(),
	}, nil
}

// Pause stops workers from taking new jobs of a queue
func (s *Supervisor) Pause(ctx context.Context, name string) (ActionResult, error) {
	q, err := s.resolve(name)
	if err != nil {
		return ActionResult{}, err
	}
	if err := q.Pause(ctx); err != nil {
		return ActionResult{}, s.internal("pause", q.Name(), err)
	}
	return s.result(fmt.Sprintf("Queue %s paused", q.Name())), nil
}

// Resume lets workers take jobs of a queue again
func (s *Supervisor) Resume(ctx context.Context, name string) (ActionResult, error) {
	q, err := s.resolve(name)
	if err != nil {
		return ActionResult{}, err
	}
	if err := q.Resume(ctx); err != nil {
		return ActionResult{}, s.internal("resume", q.Name(), err)
	}
	return s.result(fmt.Sprintf("Queue %s resumed", q.Name())), nil
}

// Clean removes finished jobs beyond the retention policy of a queue
func (s *Supervisor) Clean(ctx context.Context, name string) (ActionResult, error) {
	q, err := s.resolve(name)
	if err != nil {
		return ActionResult{}, err
	}
	removed, err := q.ApplyRetention(ctx, s.retention[q.Name()])
	if err != nil {
		return ActionResult{}, s.internal("clean", q.Name(), err)
	}
	return s.result(fmt.Sprintf("Queue %s cleaned, %d jobs removed", q.Name(), removed)), nil
}

func (s *Supervisor) resolve(name string) (*queue.JobQueue, error) {
	queueName, err := domain.ParseQueueName(name)
	if err != nil {
		return nil, err
	}
	q, ok := s.queues[queueName]
	if !ok {
		return nil, s.internal("resolve", queueName, errors.New("queue is not configured"))
	}
	return q, nil
}

func (s *Supervisor) stats(ctx context.Context, name domain.QueueName) (domain.QueueStats, error) {
	q, ok := s.queues[name]
	if !ok {
		return domain.QueueStats{}, s.internal("stats", name, errors.New("queue is not configured"))
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		return domain.QueueStats{}, s.internal("stats", name, err)
	}
	return stats, nil
}

func (s *Supervisor) internal(op string, name domain.QueueName, err error) error {
	correlationID := uuid.New().String()
	s.logger.Error("Queue operation failed",
		slog.String("operation", op),
		slog.String("queue", string(name)),
		slog.String("correlation_id", correlationID),
		slog.Any("error", err),
	)
	return &InternalError{CorrelationID: correlationID}
}

func (s *Supervisor) result(message string) ActionResult {
	return ActionResult{Message: message, Timestamp: s.timestamp()}
}

func (s *Supervisor) timestamp() time.Time {
	return s.now().UTC()
}

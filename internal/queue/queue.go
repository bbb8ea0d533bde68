// Package queue holds the job queues of the orchestration layer.
//
// A JobQueue is bound to one queue name and delegates persistence to a Store.
// Jobs move waiting → active → completed | waiting (retry) | failed. Pausing a
// queue stops dequeuing only; enqueuing keeps working and in-flight jobs run
// to completion. At most one waiting or active job exists per note and queue,
// which is what lets workers update note status without locking the note.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/google/uuid"
)

// Options configures a JobQueue
type Options struct {
	MaxAttempts int
	Logger      *slog.Logger
	Now         func() time.Time
}

// JobQueue is the durable FIFO of one work kind
type JobQueue struct {
	name        domain.QueueName
	store       Store
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a JobQueue for name on top of store
func New(name domain.QueueName, store Store, opts Options) *JobQueue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &JobQueue{
		name:        name,
		store:       store,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger.With(slog.String("queue", string(name))),
		now:         func() time.Time { return opts.Now().UTC() },
	}
}

// Name returns the queue name
func (q *JobQueue) Name() domain.QueueName {
	return q.name
}

// MaxAttempts returns the attempt budget given to new jobs
func (q *JobQueue) MaxAttempts() int {
	return q.maxAttempts
}

// Enqueue adds a job for noteID carrying payload and returns its id
func (q *JobQueue) Enqueue(ctx context.Context, noteID string, payload any) (string, error) {
	if strings.TrimSpace(noteID) == "" {
		return "", domain.NewValidationError("note_id", "is required")
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	now := q.now()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Queue:       q.name,
		NoteID:      noteID,
		Payload:     raw,
		State:       domain.JobStateWaiting,
		MaxAttempts: q.maxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.store.Insert(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicateActiveJob) {
			return "", err
		}
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("note_id", noteID),
	)

	return job.ID, nil
}

// DequeueNext claims the oldest available waiting job.
// It returns nil when the queue is paused or empty.
func (q *JobQueue) DequeueNext(ctx context.Context) (*domain.Job, error) {
	job, err := q.store.ClaimNext(ctx, q.name, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if job != nil {
		q.logger.Debug("Job dequeued",
			slog.String("job_id", job.ID),
			slog.String("note_id", job.NoteID),
			slog.Int("attempts", job.Attempts),
		)
	}
	return job, nil
}

// MarkCompleted moves an active job to completed
func (q *JobQueue) MarkCompleted(ctx context.Context, jobID string) error {
	if _, err := q.store.Complete(ctx, jobID, q.now()); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

// MarkFailed records a failed attempt of an active job. A retryable failure
// with attempts left puts the job back at the tail of the queue, available
// after backoff; otherwise the job becomes terminal-failed. The returned job
// tells the caller which of the two happened.
func (q *JobQueue) MarkFailed(ctx context.Context, jobID, reason string, retryable bool, backoff time.Duration) (*domain.Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.State != domain.JobStateActive {
		return nil, fmt.Errorf("failed to fail job %s: %w", jobID, domain.ErrJobNotActive)
	}

	now := q.now()
	if retryable && job.Attempts+1 < job.MaxAttempts {
		if backoff < 0 {
			backoff = 0
		}
		updated, err := q.store.Retry(ctx, jobID, reason, now.Add(backoff), now)
		if err != nil {
			return nil, fmt.Errorf("failed to requeue job %s: %w", jobID, err)
		}
		q.logger.Info("Job will be retried",
			slog.String("job_id", jobID),
			slog.Int("attempts", updated.Attempts),
			slog.Int("max_attempts", updated.MaxAttempts),
			slog.Duration("backoff", backoff),
		)
		return updated, nil
	}

	updated, err := q.store.Fail(ctx, jobID, reason, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}
	q.logger.Warn("Job failed permanently",
		slog.String("job_id", jobID),
		slog.Int("attempts", updated.Attempts),
		slog.Bool("retryable", retryable),
	)
	return updated, nil
}

// Heartbeat refreshes the liveness timestamp of an active job
func (q *JobQueue) Heartbeat(ctx context.Context, jobID string) error {
	return q.store.Touch(ctx, jobID, q.now())
}

// RecoverStalled fails active jobs whose heartbeat is older than staleAfter,
// typically left behind by a crashed worker. Each recovery consumes one attempt.
func (q *JobQueue) RecoverStalled(ctx context.Context, staleAfter time.Duration) ([]*domain.Job, error) {
	stalled, err := q.store.Stalled(ctx, q.name, q.now().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs: %w", err)
	}

	recovered := make([]*domain.Job, 0, len(stalled))
	for _, job := range stalled {
		updated, err := q.MarkFailed(ctx, job.ID, "stalled: no heartbeat", true, 0)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotActive) {
				// finished between listing and recovery
				continue
			}
			return recovered, err
		}
		recovered = append(recovered, updated)
	}
	return recovered, nil
}

// Pause stops dequeuing. It is idempotent.
func (q *JobQueue) Pause(ctx context.Context) error {
	if err := q.store.SetPaused(ctx, q.name, true, q.now()); err != nil {
		return fmt.Errorf("failed to pause queue: %w", err)
	}
	q.logger.Info("Queue paused")
	return nil
}

// Resume restarts dequeuing. It is idempotent.
func (q *JobQueue) Resume(ctx context.Context) error {
	if err := q.store.SetPaused(ctx, q.name, false, q.now()); err != nil {
		return fmt.Errorf("failed to resume queue: %w", err)
	}
	q.logger.Info("Queue resumed")
	return nil
}

// IsPaused reports the paused flag
func (q *JobQueue) IsPaused(ctx context.Context) (bool, error) {
	return q.store.Paused(ctx, q.name)
}

// CleanOldJobs removes completed or failed jobs that finished more than
// olderThan ago. Waiting and active jobs are never removed.
func (q *JobQueue) CleanOldJobs(ctx context.Context, olderThan time.Duration, states ...domain.JobState) (int, error) {
	if len(states) == 0 {
		states = []domain.JobState{domain.JobStateCompleted, domain.JobStateFailed}
	}
	if err := validateCleanStates(states); err != nil {
		return 0, err
	}

	cutoff := q.now().Add(-olderThan)
	removed := 0
	for _, state := range states {
		n, err := q.store.DeleteFinished(ctx, q.name, state, cutoff)
		if err != nil {
			return removed, fmt.Errorf("failed to clean %s jobs: %w", state, err)
		}
		removed += n
	}

	if removed > 0 {
		q.logger.Info("Old jobs cleaned",
			slog.Int("removed", removed),
			slog.Duration("older_than", olderThan),
		)
	}
	return removed, nil
}

// TrimToCount keeps only the newest keep jobs in a finished state
func (q *JobQueue) TrimToCount(ctx context.Context, keep int, state domain.JobState) (int, error) {
	if err := validateCleanStates([]domain.JobState{state}); err != nil {
		return 0, err
	}
	if keep < 0 {
		return 0, domain.NewValidationError("keep", "must not be negative")
	}
	n, err := q.store.TrimFinished(ctx, q.name, state, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim %s jobs: %w", state, err)
	}
	return n, nil
}

// Stats returns a snapshot of job counts
func (q *JobQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	now := q.now()
	stats, err := q.store.Counts(ctx, q.name, now)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	paused, err := q.store.Paused(ctx, q.name)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("failed to read paused flag: %w", err)
	}
	stats.Paused = paused
	return stats, nil
}

// Get returns a job by id
func (q *JobQueue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.store.Get(ctx, jobID)
}

// ActiveForNote returns the waiting or active job of a note, or nil
func (q *JobQueue) ActiveForNote(ctx context.Context, noteID string) (*domain.Job, error) {
	return q.store.OpenForNote(ctx, q.name, noteID)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: not valid JSON", domain.ErrInvalidPayload)
		}
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		return raw, nil
	}
}

func validateCleanStates(states []domain.JobState) error {
	for _, state := range states {
		if !state.Terminal() {
			return domain.NewValidationError("states", "only completed and failed jobs can be cleaned, got %q", state)
		}
	}
	return nil
}

// Retention bounds how long and how many finished jobs are kept.
// Zero values disable the corresponding limit.
type Retention struct {
	CompletedMaxAge   time.Duration
	CompletedMaxCount int
	FailedMaxAge      time.Duration
	FailedMaxCount    int
}

// ApplyRetention removes finished jobs beyond the retention limits and
// returns how many were removed.
func (q *JobQueue) ApplyRetention(ctx context.Context, r Retention) (int, error) {
	limits := []struct {
		state    domain.JobState
		maxAge   time.Duration
		maxCount int
	}{
		{domain.JobStateCompleted, r.CompletedMaxAge, r.CompletedMaxCount},
		{domain.JobStateFailed, r.FailedMaxAge, r.FailedMaxCount},
	}

	removed := 0
	for _, limit := range limits {
		if limit.maxAge > 0 {
			n, err := q.CleanOldJobs(ctx, limit.maxAge, limit.state)
			if err != nil {
				return removed, err
			}
			removed += n
		}
		if limit.maxCount > 0 {
			n, err := q.TrimToCount(ctx, limit.maxCount, limit.state)
			if err != nil {
				return removed, err
			}
			removed += n
		}
	}
	return removed, nil
}

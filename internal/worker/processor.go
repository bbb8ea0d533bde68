package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/notify"
)

// processJob runs one claimed job: note to in-progress, heartbeat, provider
// call under the job timeout, result commit and queue bookkeeping. A
// redelivered job whose result is already stored is only completed.
func (p *Pool) processJob(ctx context.Context, job *domain.Job) {
	logger := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("note_id", job.NoteID),
		slog.Int("attempt", job.Attempts+1),
	)
	logger.Info("Processing job")

	// in-flight jobs are not interrupted by shutdown, only by their own timeout
	runCtx := context.WithoutCancel(ctx)
	start := time.Now()

	note, err := p.notes.Get(runCtx, job.NoteID)
	if err != nil {
		p.handleFailure(runCtx, logger, job, fmt.Errorf("load note: %w", err))
		return
	}

	if job.Attempts > 0 {
		committed, err := p.processor.Committed(runCtx, job, note)
		if err != nil {
			p.handleFailure(runCtx, logger, job, fmt.Errorf("check earlier attempt: %w", err))
			return
		}
		if committed {
			p.completeCommitted(runCtx, logger, job, note.Status)
			return
		}
	}

	inProgress := p.processor.InProgress()
	if err := p.notes.UpdateStatus(runCtx, note.ID, inProgress); err != nil {
		p.handleFailure(runCtx, logger, job, fmt.Errorf("mark note %s: %w", inProgress, err))
		return
	}
	p.notify(runCtx, job, note, inProgress)

	jobCtx, cancel := context.WithTimeout(runCtx, p.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go p.sendJobHeartbeat(jobCtx, logger, job.ID, heartbeatDone)

	outcome, err := p.processor.Run(jobCtx, job, note)
	close(heartbeatDone)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("job timed out after %s: %w", p.jobTimeout, err)
		}
		p.handleFailure(runCtx, logger, job, err)
		return
	}

	status, err := p.processor.Commit(runCtx, job, note, outcome)
	if err != nil {
		p.handleFailure(runCtx, logger, job, fmt.Errorf("commit result: %w", err))
		return
	}

	if err := p.queue.MarkCompleted(runCtx, job.ID); err != nil {
		// the result is stored; stalled recovery may still retry the job
		logger.Error("Failed to mark job completed",
			slog.Any("error", err),
		)
		return
	}

	logger.Info("Job completed successfully",
		slog.Duration("duration", time.Since(start)),
		slog.String("note_status", string(status)),
	)
	p.notify(runCtx, job, note, status)
}

// completeCommitted finishes a redelivered job whose result an earlier
// attempt already stored. The note is left as it is.
func (p *Pool) completeCommitted(ctx context.Context, logger *slog.Logger, job *domain.Job, status domain.NoteStatus) {
	if err := p.queue.MarkCompleted(ctx, job.ID); err != nil {
		logger.Error("Failed to mark job completed",
			slog.Any("error", err),
		)
		return
	}
	logger.Info("Job already committed by an earlier attempt",
		slog.String("note_status", string(status)),
	)
}

// handleFailure records a failed attempt and moves the note to error when
// the job will not be retried.
func (p *Pool) handleFailure(ctx context.Context, logger *slog.Logger, job *domain.Job, cause error) {
	retryable := domain.IsRetryable(cause)
	backoff := p.backoff.Delay(job.Attempts + 1)

	logger.Warn("Job execution failed",
		slog.Bool("retryable", retryable),
		slog.Any("error", cause),
	)

	updated, err := p.queue.MarkFailed(ctx, job.ID, cause.Error(), retryable, backoff)
	if err != nil {
		logger.Error("Failed to record job failure",
			slog.Any("error", err),
		)
		return
	}

	if updated.State != domain.JobStateFailed {
		return
	}

	logger.Warn("Job failed permanently",
		slog.Int("attempts", updated.Attempts),
		slog.Int("max_attempts", updated.MaxAttempts),
	)
	markNoteFailed(ctx, logger, p.notes, p.notifier, updated, cause.Error())
}

// sendJobHeartbeat periodically refreshes the job's heartbeat timestamp
func (p *Pool) sendJobHeartbeat(ctx context.Context, logger *slog.Logger, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx, jobID); err != nil {
				logger.Warn("Failed to update job heartbeat",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (p *Pool) notify(ctx context.Context, job *domain.Job, note *domain.Note, status domain.NoteStatus) {
	p.notifier.Notify(ctx, notify.Event{
		NoteID:    note.ID,
		OwnerID:   note.OwnerID,
		Status:    status,
		JobID:     job.ID,
		Queue:     job.Queue,
		Timestamp: time.Now().UTC(),
	})
}

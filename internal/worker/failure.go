package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/notes"
	"github.com/cuongbtq/voicenote-jobs/internal/notify"
)

// markNoteFailed moves the note of a terminally failed job to error and
// publishes the change. A note that already reached ready is kept.
func markNoteFailed(ctx context.Context, logger *slog.Logger, repo notes.Repository, notifier notify.Notifier, job *domain.Job, reason string) {
	note, err := repo.Get(ctx, job.NoteID)
	if err != nil {
		if !errors.Is(err, domain.ErrNoteNotFound) {
			logger.Error("Failed to load note of failed job",
				slog.Any("error", err),
			)
		}
		return
	}
	if note.Status == domain.NoteStatusReady {
		logger.Info("Note already ready, keeping it",
			slog.String("reason", reason),
		)
		return
	}

	if err := repo.UpdateStatus(ctx, note.ID, domain.NoteStatusError); err != nil {
		logger.Error("Failed to mark note as error",
			slog.Any("error", err),
		)
		return
	}

	logger.Info("Note marked as error",
		slog.String("reason", reason),
	)
	notifier.Notify(ctx, notify.Event{
		NoteID:    note.ID,
		OwnerID:   note.OwnerID,
		Status:    domain.NoteStatusError,
		JobID:     job.ID,
		Queue:     job.Queue,
		Error:     failureMessage(job.Queue),
		Timestamp: time.Now().UTC(),
	})
}

// failureMessage is the owner-facing description of a failed job.
// Provider details stay in the job's last error.
func failureMessage(queue domain.QueueName) string {
	switch queue {
	case domain.QueueTranscribe:
		return "transcription failed"
	case domain.QueueSummarize:
		return "summarization failed"
	default:
		return "processing failed"
	}
}

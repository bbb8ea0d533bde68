// Package intake turns uploaded notes into transcribe jobs.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/notes"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
	"github.com/google/uuid"
)

// Request asks for a note to be transcribed and summarized
type Request struct {
	NoteID   string `json:"note_id"`
	MediaRef string `json:"media_ref"`
	Language string `json:"language,omitempty"`
}

// Validate checks the request fields
func (r Request) Validate() error {
	if _, err := uuid.Parse(r.NoteID); err != nil {
		return domain.NewValidationError("note_id", "must be a UUID")
	}
	if strings.TrimSpace(r.MediaRef) == "" {
		return domain.NewValidationError("media_ref", "is required")
	}
	return nil
}

// Service submits transcribe jobs for notes that are ready for processing
type Service struct {
	notes      notes.Repository
	transcribe *queue.JobQueue
	logger     *slog.Logger
}

// NewService creates an intake Service
func NewService(repo notes.Repository, transcribe *queue.JobQueue, logger *slog.Logger) *Service {
	return &Service{
		notes:      repo,
		transcribe: transcribe,
		logger:     logger,
	}
}

// Submit enqueues a transcribe job for the note and returns its id.
// The note must exist and be uploaded, ready or in error.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	note, err := s.notes.Get(ctx, req.NoteID)
	if err != nil {
		return "", err
	}
	if !note.Status.AcceptsTranscription() {
		return "", fmt.Errorf("%w: note %s is %s", domain.ErrInvalidTransition, note.ID, note.Status)
	}

	jobID, err := s.transcribe.Enqueue(ctx, note.ID, domain.TranscribePayload{
		MediaRef: req.MediaRef,
		Language: req.Language,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Note submitted for processing",
		slog.String("note_id", note.ID),
		slog.String("job_id", jobID),
	)
	return jobID, nil
}

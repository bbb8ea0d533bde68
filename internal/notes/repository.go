// Package notes gives the job orchestration layer access to voice notes.
package notes

import (
	"context"
	"fmt"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
)

// Repository reads and updates notes on behalf of workers and the intake
type Repository interface {
	Create(ctx context.Context, note *domain.Note) error
	Get(ctx context.Context, id string) (*domain.Note, error)

	// UpdateStatus moves a note to status. It fails with domain.ErrInvalidTransition
	// when the note status machine does not allow the change.
	UpdateStatus(ctx context.Context, id string, status domain.NoteStatus) error

	SetTranscript(ctx context.Context, id, transcript string) error
	SetSummary(ctx context.Context, id, summary string, actionItems []domain.ActionItem) error
}

func transitionError(id string, from, to domain.NoteStatus) error {
	return fmt.Errorf("%w: note %s cannot move from %s to %s", domain.ErrInvalidTransition, id, from, to)
}

func validateNewNote(note *domain.Note) error {
	if note.ID == "" {
		return domain.NewValidationError("id", "is required")
	}
	if note.OwnerID == "" {
		return domain.NewValidationError("owner_id", "is required")
	}
	if note.Status == "" {
		note.Status = domain.NoteStatusIdle
	}
	if !note.Status.Valid() {
		return domain.NewValidationError("status", "unknown status %q", note.Status)
	}
	return nil
}

package notes

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
)

// MemoryRepository keeps notes in process memory
type MemoryRepository struct {
	mu    sync.RWMutex
	notes map[string]*domain.Note
	now   func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		notes: make(map[string]*domain.Note),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Create(_ context.Context, note *domain.Note) error {
	if err := validateNewNote(note); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.notes[note.ID]; exists {
		return domain.NewValidationError("id", "note %s already exists", note.ID)
	}

	now := r.now()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now
	r.notes[note.ID] = cloneNote(note)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*domain.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	note, ok := r.notes[id]
	if !ok {
		return nil, domain.ErrNoteNotFound
	}
	return cloneNote(note), nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, status domain.NoteStatus) error {
	return r.update(id, func(note *domain.Note) error {
		if !domain.CanTransition(note.Status, status) {
			return transitionError(id, note.Status, status)
		}
		note.Status = status
		return nil
	})
}

func (r *MemoryRepository) SetTranscript(_ context.Context, id, transcript string) error {
	return r.update(id, func(note *domain.Note) error {
		note.Transcript = &transcript
		return nil
	})
}

func (r *MemoryRepository) SetSummary(_ context.Context, id, summary string, actionItems []domain.ActionItem) error {
	return r.update(id, func(note *domain.Note) error {
		note.Summary = &summary
		note.ActionItems = append([]domain.ActionItem(nil), actionItems...)
		return nil
	})
}

func (r *MemoryRepository) update(id string, mutate func(note *domain.Note) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	note, ok := r.notes[id]
	if !ok {
		return domain.ErrNoteNotFound
	}
	if err := mutate(note); err != nil {
		return err
	}
	note.UpdatedAt = r.now()
	return nil
}

func cloneNote(note *domain.Note) *domain.Note {
	c := *note
	c.Tags = append([]string(nil), note.Tags...)
	c.ActionItems = append([]domain.ActionItem(nil), note.ActionItems...)
	if note.Transcript != nil {
		t := *note.Transcript
		c.Transcript = &t
	}
	if note.Summary != nil {
		s := *note.Summary
		c.Summary = &s
	}
	return &c
}

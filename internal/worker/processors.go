package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/notes"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
)

// Processor is the queue specific part of job processing
type Processor interface {
	// InProgress is the note status set before Run
	InProgress() domain.NoteStatus

	// Run does the slow provider work. ctx carries the job timeout.
	Run(ctx context.Context, job *domain.Job, note *domain.Note) (Outcome, error)

	// Commit stores the outcome, advances the note and returns its new status
	Commit(ctx context.Context, job *domain.Job, note *domain.Note, outcome Outcome) (domain.NoteStatus, error)

	// Committed reports whether an earlier attempt of job already committed
	// its outcome, finishing any follow-up that attempt left undone.
	Committed(ctx context.Context, job *domain.Job, note *domain.Note) (bool, error)
}

// Outcome is the result of a successful Run
type Outcome struct {
	Transcript string
	Summary    domain.Summary
	Language   string
}

// Transcriber turns a stored media file into text
type Transcriber interface {
	Transcribe(ctx context.Context, mediaRef, language string) (string, error)
}

// Summarizer produces a summary and action items from a transcript
type Summarizer interface {
	Summarize(ctx context.Context, transcript, language string) (domain.Summary, error)
}

// TranscribeProcessor handles jobs of the transcribe queue and chains a
// summarize job once the transcript is stored.
type TranscribeProcessor struct {
	transcriber Transcriber
	notes       notes.Repository
	summarize   *queue.JobQueue
	logger      *slog.Logger
}

// NewTranscribeProcessor creates a TranscribeProcessor
func NewTranscribeProcessor(transcriber Transcriber, repo notes.Repository, summarize *queue.JobQueue, logger *slog.Logger) *TranscribeProcessor {
	return &TranscribeProcessor{
		transcriber: transcriber,
		notes:       repo,
		summarize:   summarize,
		logger:      logger,
	}
}

func (p *TranscribeProcessor) InProgress() domain.NoteStatus {
	return domain.NoteStatusTranscribing
}

func (p *TranscribeProcessor) Run(ctx context.Context, job *domain.Job, _ *domain.Note) (Outcome, error) {
	var payload domain.TranscribePayload
	if err := decodePayload(job, &payload); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(payload.MediaRef) == "" {
		return Outcome{}, fmt.Errorf("%w: media_ref is required", domain.ErrInvalidPayload)
	}

	transcript, err := p.transcriber.Transcribe(ctx, payload.MediaRef, payload.Language)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Transcript: transcript, Language: payload.Language}, nil
}

// Commit stores the transcript and chains a summarize job. The note is
// summarizing before that job exists.
func (p *TranscribeProcessor) Commit(ctx context.Context, job *domain.Job, note *domain.Note, outcome Outcome) (domain.NoteStatus, error) {
	if err := p.notes.SetTranscript(ctx, note.ID, outcome.Transcript); err != nil {
		return "", fmt.Errorf("store transcript: %w", err)
	}
	if err := p.notes.UpdateStatus(ctx, note.ID, domain.NoteStatusSummarizing); err != nil {
		return "", err
	}
	if err := p.enqueueSummarize(ctx, note.ID, outcome.Language); err != nil {
		return "", err
	}
	return domain.NoteStatusSummarizing, nil
}

// Committed is true once the transcript is stored and the note has moved
// on. A summarize job lost between the status change and the enqueue is
// queued again.
func (p *TranscribeProcessor) Committed(ctx context.Context, job *domain.Job, note *domain.Note) (bool, error) {
	if note.Transcript == nil || strings.TrimSpace(*note.Transcript) == "" {
		return false, nil
	}

	switch note.Status {
	case domain.NoteStatusReady:
		return true, nil
	case domain.NoteStatusSummarizing:
		var payload domain.TranscribePayload
		if err := decodePayload(job, &payload); err != nil {
			return false, err
		}
		if err := p.enqueueSummarize(ctx, note.ID, payload.Language); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

func (p *TranscribeProcessor) enqueueSummarize(ctx context.Context, noteID, language string) error {
	jobID, err := p.summarize.Enqueue(ctx, noteID, domain.SummarizePayload{Language: language})
	switch {
	case err == nil:
		p.logger.Info("Summarize job enqueued",
			slog.String("note_id", noteID),
			slog.String("job_id", jobID),
		)
		return nil
	case errors.Is(err, domain.ErrDuplicateActiveJob):
		p.logger.Info("Summarize job already queued",
			slog.String("note_id", noteID),
		)
		return nil
	default:
		return fmt.Errorf("enqueue summarize job: %w", err)
	}
}

// SummarizeProcessor handles jobs of the summarize queue
type SummarizeProcessor struct {
	summarizer Summarizer
	notes      notes.Repository
}

// NewSummarizeProcessor creates a SummarizeProcessor
func NewSummarizeProcessor(summarizer Summarizer, repo notes.Repository) *SummarizeProcessor {
	return &SummarizeProcessor{
		summarizer: summarizer,
		notes:      repo,
	}
}

func (p *SummarizeProcessor) InProgress() domain.NoteStatus {
	return domain.NoteStatusSummarizing
}

func (p *SummarizeProcessor) Run(ctx context.Context, job *domain.Job, note *domain.Note) (Outcome, error) {
	var payload domain.SummarizePayload
	if err := decodePayload(job, &payload); err != nil {
		return Outcome{}, err
	}
	if note.Transcript == nil || strings.TrimSpace(*note.Transcript) == "" {
		return Outcome{}, fmt.Errorf("%w: note %s has no transcript", domain.ErrInvalidPayload, note.ID)
	}

	summary, err := p.summarizer.Summarize(ctx, *note.Transcript, payload.Language)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Summary: summary, Language: payload.Language}, nil
}

func (p *SummarizeProcessor) Commit(ctx context.Context, _ *domain.Job, note *domain.Note, outcome Outcome) (domain.NoteStatus, error) {
	if err := p.notes.SetSummary(ctx, note.ID, outcome.Summary.Text, outcome.Summary.ActionItems); err != nil {
		return "", fmt.Errorf("store summary: %w", err)
	}
	if err := p.notes.UpdateStatus(ctx, note.ID, domain.NoteStatusReady); err != nil {
		return "", err
	}
	return domain.NoteStatusReady, nil
}

func (p *SummarizeProcessor) Committed(_ context.Context, _ *domain.Job, note *domain.Note) (bool, error) {
	return note.Status == domain.NoteStatusReady && note.Summary != nil, nil
}

func decodePayload(job *domain.Job, out any) error {
	if len(job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

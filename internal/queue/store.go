package queue

import (
	"context"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
)

// Store persists jobs and queue settings. Every method that changes the state
// of an existing job only succeeds when the job is in the expected state, so
// concurrent workers never need locks beyond the store's own transitions.
type Store interface {
	// Insert adds a waiting job. It fails with domain.ErrDuplicateActiveJob
	// when the note already has a waiting or active job in the same queue.
	Insert(ctx context.Context, job *domain.Job) error

	// ClaimNext moves the first available waiting job to active and returns it.
	// It returns nil when the queue is paused or nothing is available.
	ClaimNext(ctx context.Context, queue domain.QueueName, now time.Time) (*domain.Job, error)

	Get(ctx context.Context, id string) (*domain.Job, error)
	OpenForNote(ctx context.Context, queue domain.QueueName, noteID string) (*domain.Job, error)

	// Complete, Retry and Fail transition an active job and return its new version.
	Complete(ctx context.Context, id string, now time.Time) (*domain.Job, error)
	Retry(ctx context.Context, id, reason string, availableAt, now time.Time) (*domain.Job, error)
	Fail(ctx context.Context, id, reason string, now time.Time) (*domain.Job, error)

	Touch(ctx context.Context, id string, now time.Time) error
	Stalled(ctx context.Context, queue domain.QueueName, heartbeatBefore time.Time) ([]*domain.Job, error)

	DeleteFinished(ctx context.Context, queue domain.QueueName, state domain.JobState, finishedBefore time.Time) (int, error)
	TrimFinished(ctx context.Context, queue domain.QueueName, state domain.JobState, keep int) (int, error)

	Counts(ctx context.Context, queue domain.QueueName, now time.Time) (domain.QueueStats, error)
	SetPaused(ctx context.Context, queue domain.QueueName, paused bool, now time.Time) error
	Paused(ctx context.Context, queue domain.QueueName) (bool, error)
}

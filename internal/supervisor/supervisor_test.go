package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// failingStore breaks every read and control operation
type failingStore struct {
	*queue.MemoryStore
}

func (failingStore) Counts(context.Context, domain.QueueName, time.Time) (domain.QueueStats, error) {
	return domain.QueueStats{}, errors.New("connection refused by 10.0.0.5:5432")
}

func (failingStore) SetPaused(context.Context, domain.QueueName, bool, time.Time) error {
	return errors.New("connection refused by 10.0.0.5:5432")
}

func (failingStore) DeleteFinished(context.Context, domain.QueueName, domain.JobState, time.Time) (int, error) {
	return 0, errors.New("connection refused by 10.0.0.5:5432")
}

func newSupervisor(t *testing.T, store queue.Store, logs *bytes.Buffer, retention map[domain.QueueName]queue.Retention) (*Supervisor, *queue.JobQueue, *queue.JobQueue) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(logs, nil))
	now := func() time.Time { return fixedNow }
	transcribe := queue.New(domain.QueueTranscribe, store, queue.Options{Logger: logger, Now: now})
	summarize := queue.New(domain.QueueSummarize, store, queue.Options{Logger: logger, Now: now})

	return New([]*queue.JobQueue{transcribe, summarize}, Options{
		Logger:    logger,
		Retention: retention,
		Now:       now,
	}), transcribe, summarize
}

func TestSupervisor_AllStats(t *testing.T) {
	ctx := context.Background()
	sup, transcribe, summarize := newSupervisor(t, queue.NewMemoryStore(), &bytes.Buffer{}, nil)

	_, err := transcribe.Enqueue(ctx, "note-1", nil)
	require.NoError(t, err)
	_, err = transcribe.Enqueue(ctx, "note-2", nil)
	require.NoError(t, err)
	_, err = summarize.Enqueue(ctx, "note-3", nil)
	require.NoError(t, err)
	_, err = summarize.DequeueNext(ctx)
	require.NoError(t, err)

	result, err := sup.AllStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.QueueStats{Waiting: 2}, result.Transcribe)
	assert.Equal(t, domain.QueueStats{Active: 1}, result.Summarize)
	assert.Equal(t, fixedNow, result.Timestamp)
}

func TestSupervisor_Stats(t *testing.T) {
	ctx := context.Background()
	sup, transcribe, _ := newSupervisor(t, queue.NewMemoryStore(), &bytes.Buffer{}, nil)

	_, err := transcribe.Enqueue(ctx, "note-1", nil)
	require.NoError(t, err)
	require.NoError(t, transcribe.Pause(ctx))

	result, err := sup.Stats(ctx, "transcribe")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueTranscribe, result.Queue)
	assert.Equal(t, domain.QueueStats{Waiting: 1, Paused: true}, result.Stats)
	assert.Equal(t, fixedNow, result.Timestamp)
}

func TestSupervisor_UnknownQueue(t *testing.T) {
	ctx := context.Background()
	sup, _, _ := newSupervisor(t, queue.NewMemoryStore(), &bytes.Buffer{}, nil)

	operations := []struct {
		name string
		call func() error
	}{
		{"stats", func() error { _, err := sup.Stats(ctx, "bogus"); return err }},
		{"pause", func() error { _, err := sup.Pause(ctx, "bogus"); return err }},
		{"resume", func() error { _, err := sup.Resume(ctx, "bogus"); return err }},
		{"clean", func() error { _, err := sup.Clean(ctx, "bogus"); return err }},
		{"empty name", func() error { _, err := sup.Pause(ctx, ""); return err }},
		{"case sensitive", func() error { _, err := sup.Pause(ctx, "Transcribe"); return err }},
	}

	for _, op := range operations {
		t.Run(op.name, func(t *testing.T) {
			err := op.call()
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
			assert.NotErrorIs(t, err, domain.ErrInternal)
		})
	}
}

func TestSupervisor_PauseResume(t *testing.T) {
	ctx := context.Background()
	sup, transcribe, summarize := newSupervisor(t, queue.NewMemoryStore(), &bytes.Buffer{}, nil)

	result, err := sup.Pause(ctx, "transcribe")
	require.NoError(t, err)
	assert.Equal(t, "Queue transcribe paused", result.Message)
	assert.Equal(t, fixedNow, result.Timestamp)

	paused, err := transcribe.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	paused, err = summarize.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused, "pausing one queue must not affect the other")

	// idempotent
	_, err = sup.Pause(ctx, "transcribe")
	require.NoError(t, err)

	result, err = sup.Resume(ctx, "transcribe")
	require.NoError(t, err)
	assert.Equal(t, "Queue transcribe resumed", result.Message)

	paused, err = transcribe.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestSupervisor_Clean(t *testing.T) {
	ctx := context.Background()
	retention := map[domain.QueueName]queue.Retention{
		domain.QueueTranscribe: {CompletedMaxCount: 1},
	}
	sup, transcribe, _ := newSupervisor(t, queue.NewMemoryStore(), &bytes.Buffer{}, retention)

	for i := 0; i < 3; i++ {
		_, err := transcribe.Enqueue(ctx, fmt.Sprintf("note-%d", i), nil)
		require.NoError(t, err)
		job, err := transcribe.DequeueNext(ctx)
		require.NoError(t, err)
		require.NoError(t, transcribe.MarkCompleted(ctx, job.ID))
	}
	_, err := transcribe.Enqueue(ctx, "note-waiting", nil)
	require.NoError(t, err)

	result, err := sup.Clean(ctx, "transcribe")
	require.NoError(t, err)
	assert.Equal(t, "Queue transcribe cleaned, 2 jobs removed", result.Message)

	stats, err := transcribe.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Waiting: 1, Completed: 1}, stats)

	// summarize has no retention configured
	result, err = sup.Clean(ctx, "summarize")
	require.NoError(t, err)
	assert.Equal(t, "Queue summarize cleaned, 0 jobs removed", result.Message)
}

func TestSupervisor_InternalErrorsAreOpaque(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	retention := map[domain.QueueName]queue.Retention{
		domain.QueueTranscribe: {CompletedMaxAge: time.Hour},
	}
	sup, _, _ := newSupervisor(t, failingStore{queue.NewMemoryStore()}, &logs, retention)

	operations := []struct {
		name string
		call func() error
	}{
		{"all stats", func() error { _, err := sup.AllStats(ctx); return err }},
		{"stats", func() error { _, err := sup.Stats(ctx, "summarize"); return err }},
		{"pause", func() error { _, err := sup.Pause(ctx, "transcribe"); return err }},
		{"resume", func() error { _, err := sup.Resume(ctx, "transcribe"); return err }},
		{"clean", func() error { _, err := sup.Clean(ctx, "transcribe"); return err }},
	}

	for _, op := range operations {
		t.Run(op.name, func(t *testing.T) {
			logs.Reset()

			err := op.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInternal)
			assert.NotContains(t, err.Error(), "10.0.0.5")

			var internalErr *InternalError
			require.True(t, errors.As(err, &internalErr))
			assert.NotEmpty(t, internalErr.CorrelationID)

			assert.Contains(t, logs.String(), internalErr.CorrelationID)
			assert.Contains(t, logs.String(), "10.0.0.5")
		})
	}
}

func TestSupervisor_UnconfiguredQueue(t *testing.T) {
	ctx := context.Background()
	transcribe := queue.New(domain.QueueTranscribe, queue.NewMemoryStore(), queue.Options{})
	sup := New([]*queue.JobQueue{transcribe}, Options{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	_, err := sup.Pause(ctx, "summarize")
	assert.ErrorIs(t, err, domain.ErrInternal)

	_, err = sup.AllStats(ctx)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/notes"
	"github.com/cuongbtq/voicenote-jobs/internal/notify"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNoteID = "note-1"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) statuses() []domain.NoteStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NoteStatus, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Status)
	}
	return out
}

func (n *recordingNotifier) last() notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

type transcriberFunc func(ctx context.Context, mediaRef, language string) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, mediaRef, language string) (string, error) {
	return f(ctx, mediaRef, language)
}

type summarizerFunc func(ctx context.Context, transcript, language string) (domain.Summary, error)

func (f summarizerFunc) Summarize(ctx context.Context, transcript, language string) (domain.Summary, error) {
	return f(ctx, transcript, language)
}

type testEnv struct {
	notes      *notes.MemoryRepository
	transcribe *queue.JobQueue
	summarize  *queue.JobQueue
	notifier   *recordingNotifier
	logger     *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := queue.NewMemoryStore()
	env := &testEnv{
		notes:      notes.NewMemoryRepository(),
		transcribe: queue.New(domain.QueueTranscribe, store, queue.Options{MaxAttempts: 3, Logger: logger}),
		summarize:  queue.New(domain.QueueSummarize, store, queue.Options{MaxAttempts: 3, Logger: logger}),
		notifier:   &recordingNotifier{},
		logger:     logger,
	}

	require.NoError(t, env.notes.Create(context.Background(), &domain.Note{
		ID:      testNoteID,
		OwnerID: "user-1",
		Status:  domain.NoteStatusUploaded,
	}))
	return env
}

func (e *testEnv) transcribePool(transcriber Transcriber, timeout time.Duration) *Pool {
	return NewPool(&Config{
		Logger:       e.logger,
		WorkerID:     "test",
		Queue:        e.transcribe,
		Processor:    NewTranscribeProcessor(transcriber, e.notes, e.summarize, e.logger),
		Notes:        e.notes,
		Notifier:     e.notifier,
		Concurrency:  2,
		JobTimeout:   timeout,
		PollInterval: 5 * time.Millisecond,
	})
}

func (e *testEnv) summarizePool(summarizer Summarizer) *Pool {
	return NewPool(&Config{
		Logger:       e.logger,
		WorkerID:     "test",
		Queue:        e.summarize,
		Processor:    NewSummarizeProcessor(summarizer, e.notes),
		Notes:        e.notes,
		Notifier:     e.notifier,
		Concurrency:  1,
		JobTimeout:   time.Second,
		PollInterval: 5 * time.Millisecond,
	})
}

func (e *testEnv) noteStatus(t *testing.T) domain.NoteStatus {
	t.Helper()
	note, err := e.notes.Get(context.Background(), testNoteID)
	require.NoError(t, err)
	return note.Status
}

func staticTranscriber(text string) Transcriber {
	return transcriberFunc(func(context.Context, string, string) (string, error) {
		return text, nil
	})
}

// Scenario: a transcribe job completes and chains the summarize job.
func TestPool_TranscribeCompletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	jobID, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a"})
	require.NoError(t, err)

	pool := env.transcribePool(staticTranscriber("hello world"), time.Second)
	processed, err := pool.processNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	note, err := env.notes.Get(ctx, testNoteID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusSummarizing, note.Status)
	require.NotNil(t, note.Transcript)
	assert.Equal(t, "hello world", *note.Transcript)

	job, err := env.transcribe.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)

	stats, err := env.transcribe.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Completed)

	summarizeStats, err := env.summarize.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summarizeStats.Waiting)

	assert.Equal(t, []domain.NoteStatus{domain.NoteStatusTranscribing, domain.NoteStatusSummarizing}, env.notifier.statuses())
	assert.Equal(t, "user-1", env.notifier.last().OwnerID)
}

// Scenario: three retryable failures exhaust the attempts.
func TestPool_RetryableFailuresExhaustAttempts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var calls atomic.Int32
	transcriber := transcriberFunc(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "", domain.NewTransientError("openai", 503, errors.New("service unavailable"))
	})

	jobID, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a"})
	require.NoError(t, err)

	pool := env.transcribePool(transcriber, time.Second)
	for attempt := 1; attempt <= 3; attempt++ {
		processed, err := pool.processNext(ctx)
		require.NoError(t, err)
		require.True(t, processed, "attempt %d", attempt)

		if attempt < 3 {
			assert.Equal(t, domain.NoteStatusTranscribing, env.noteStatus(t), "note stays in progress while retrying")
		}
	}

	processed, err := pool.processNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "no fourth attempt")
	assert.Equal(t, int32(3), calls.Load())

	job, err := env.transcribe.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.LastError, "service unavailable")

	assert.Equal(t, domain.NoteStatusError, env.noteStatus(t))

	last := env.notifier.last()
	assert.Equal(t, domain.NoteStatusError, last.Status)
	assert.Equal(t, "transcription failed", last.Error)
	assert.NotContains(t, last.Error, "503")
}

func TestPool_TerminalFailureIsNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		err     error
	}{
		{
			name:    "terminal provider error",
			payload: domain.TranscribePayload{MediaRef: "note.m4a"},
			err:     domain.NewTerminalError("openai", 400, errors.New("unsupported format")),
		},
		{
			name:    "missing media reference",
			payload: domain.TranscribePayload{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t)

			var calls atomic.Int32
			transcriber := transcriberFunc(func(context.Context, string, string) (string, error) {
				calls.Add(1)
				return "", tt.err
			})

			jobID, err := env.transcribe.Enqueue(ctx, testNoteID, tt.payload)
			require.NoError(t, err)

			pool := env.transcribePool(transcriber, time.Second)
			_, err = pool.processNext(ctx)
			require.NoError(t, err)

			job, err := env.transcribe.Get(ctx, jobID)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStateFailed, job.State)
			assert.Equal(t, 1, job.Attempts)
			assert.LessOrEqual(t, calls.Load(), int32(1))
			assert.Equal(t, domain.NoteStatusError, env.noteStatus(t))
		})
	}
}

func TestPool_TimeoutIsRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	transcriber := transcriberFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	jobID, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a"})
	require.NoError(t, err)

	pool := env.transcribePool(transcriber, 20*time.Millisecond)
	_, err = pool.processNext(ctx)
	require.NoError(t, err)

	job, err := env.transcribe.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateWaiting, job.State)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, "timed out")
}

func TestPool_MissingNoteFailsJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	jobID, err := env.transcribe.Enqueue(ctx, "ghost-note", domain.TranscribePayload{MediaRef: "note.m4a"})
	require.NoError(t, err)

	pool := env.transcribePool(staticTranscriber("unused"), time.Second)
	_, err = pool.processNext(ctx)
	require.NoError(t, err)

	job, err := env.transcribe.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Empty(t, env.notifier.statuses())
}

func TestPool_Summarize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusTranscribing))
	require.NoError(t, env.notes.SetTranscript(ctx, testNoteID, "we should email Bob"))
	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusSummarizing))

	_, err := env.summarize.Enqueue(ctx, testNoteID, domain.SummarizePayload{Language: "en"})
	require.NoError(t, err)

	var gotTranscript, gotLanguage string
	summarizer := summarizerFunc(func(_ context.Context, transcript, language string) (domain.Summary, error) {
		gotTranscript, gotLanguage = transcript, language
		return domain.Summary{
			Text:        "Follow up with Bob",
			ActionItems: []domain.ActionItem{{Text: "Email Bob"}},
		}, nil
	})

	pool := env.summarizePool(summarizer)
	processed, err := pool.processNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	assert.Equal(t, "we should email Bob", gotTranscript)
	assert.Equal(t, "en", gotLanguage)

	note, err := env.notes.Get(ctx, testNoteID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusReady, note.Status)
	require.NotNil(t, note.Summary)
	assert.Equal(t, "Follow up with Bob", *note.Summary)
	assert.Equal(t, []domain.ActionItem{{Text: "Email Bob"}}, note.ActionItems)
}

func TestPool_SummarizeWithoutTranscriptIsTerminal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusTranscribing))
	jobID, err := env.summarize.Enqueue(ctx, testNoteID, nil)
	require.NoError(t, err)

	pool := env.summarizePool(summarizerFunc(func(context.Context, string, string) (domain.Summary, error) {
		t.Error("summarizer must not be called")
		return domain.Summary{}, nil
	}))
	_, err = pool.processNext(ctx)
	require.NoError(t, err)

	job, err := env.summarize.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, domain.NoteStatusError, env.noteStatus(t))
	assert.Equal(t, "summarization failed", env.notifier.last().Error)
}

func TestPool_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t)

	transcribePool := env.transcribePool(staticTranscriber("buy milk tomorrow"), time.Second)
	summarizePool := env.summarizePool(summarizerFunc(func(context.Context, string, string) (domain.Summary, error) {
		return domain.Summary{Text: "Groceries", ActionItems: []domain.ActionItem{{Text: "Buy milk"}}}, nil
	}))

	transcribePool.Start(ctx)
	summarizePool.Start(ctx)
	defer transcribePool.Stop()
	defer summarizePool.Stop()

	_, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		if env.noteStatus(t) != domain.NoteStatusReady {
			return false
		}
		for _, status := range env.notifier.statuses() {
			if status == domain.NoteStatusReady {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	note, err := env.notes.Get(ctx, testNoteID)
	require.NoError(t, err)
	require.NotNil(t, note.Summary)
	assert.Equal(t, "Groceries", *note.Summary)
}

// orderCheckingStore records summarize jobs inserted while their note is
// not yet summarizing.
type orderCheckingStore struct {
	*queue.MemoryStore
	notes *notes.MemoryRepository
	early atomic.Int32
}

func (s *orderCheckingStore) Insert(ctx context.Context, job *domain.Job) error {
	if job.Queue == domain.QueueSummarize {
		note, err := s.notes.Get(ctx, job.NoteID)
		if err != nil || note.Status != domain.NoteStatusSummarizing {
			s.early.Add(1)
		}
	}
	return s.MemoryStore.Insert(ctx, job)
}

func TestPool_ParallelPoolsReachReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t)

	store := &orderCheckingStore{MemoryStore: queue.NewMemoryStore(), notes: env.notes}
	env.transcribe = queue.New(domain.QueueTranscribe, store, queue.Options{MaxAttempts: 3, Logger: env.logger})
	env.summarize = queue.New(domain.QueueSummarize, store, queue.Options{MaxAttempts: 3, Logger: env.logger})

	noteIDs := []string{testNoteID}
	for i := 2; i <= 12; i++ {
		id := fmt.Sprintf("note-%d", i)
		require.NoError(t, env.notes.Create(ctx, &domain.Note{ID: id, OwnerID: "user-1", Status: domain.NoteStatusUploaded}))
		noteIDs = append(noteIDs, id)
	}

	transcribePool := env.transcribePool(staticTranscriber("call the plumber"), time.Second)
	summarizer := summarizerFunc(func(context.Context, string, string) (domain.Summary, error) {
		return domain.Summary{Text: "Plumbing"}, nil
	})
	summarizePool := NewPool(&Config{
		Logger:       env.logger,
		WorkerID:     "test",
		Queue:        env.summarize,
		Processor:    NewSummarizeProcessor(summarizer, env.notes),
		Notes:        env.notes,
		Notifier:     env.notifier,
		Concurrency:  4,
		JobTimeout:   time.Second,
		PollInterval: time.Millisecond,
	})

	summarizePool.Start(ctx)
	transcribePool.Start(ctx)
	defer transcribePool.Stop()
	defer summarizePool.Stop()

	for _, id := range noteIDs {
		_, err := env.transcribe.Enqueue(ctx, id, domain.TranscribePayload{MediaRef: id + ".m4a"})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		for _, id := range noteIDs {
			note, err := env.notes.Get(ctx, id)
			if err != nil || note.Status != domain.NoteStatusReady {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(0), store.early.Load(), "summarize job queued before its note was summarizing")

	for _, q := range []*queue.JobQueue{env.transcribe, env.summarize} {
		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Failed, string(q.Name()))
	}
	require.Eventually(t, func() bool {
		stats, err := env.transcribe.Stats(ctx)
		return err == nil && stats.Completed == len(noteIDs)
	}, time.Second, 10*time.Millisecond)
}

// Scenario: the worker dies after storing the transcript but before the job
// is marked completed. Stalled recovery hands the job out again.
func TestPool_RedeliveryAfterCommitCompletesJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	store := queue.NewMemoryStore()
	env.transcribe = queue.New(domain.QueueTranscribe, store, queue.Options{MaxAttempts: 3, Logger: env.logger, Now: clock.Now})
	env.summarize = queue.New(domain.QueueSummarize, store, queue.Options{MaxAttempts: 3, Logger: env.logger, Now: clock.Now})

	jobID, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a", Language: "en"})
	require.NoError(t, err)
	job, err := env.transcribe.DequeueNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusTranscribing))
	note, err := env.notes.Get(ctx, testNoteID)
	require.NoError(t, err)

	processor := NewTranscribeProcessor(staticTranscriber("unused"), env.notes, env.summarize, env.logger)
	_, err = processor.Commit(ctx, job, note, Outcome{Transcript: "renew passport", Language: "en"})
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	NewMaintenance(MaintenanceConfig{
		Logger:       env.logger,
		Queues:       []MaintainedQueue{{Queue: env.transcribe}, {Queue: env.summarize}},
		Notes:        env.notes,
		Notifier:     env.notifier,
		StallTimeout: 10 * time.Minute,
	}).RunOnce(ctx)

	job, err = env.transcribe.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStateWaiting, job.State)

	var calls atomic.Int32
	transcriber := transcriberFunc(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "second transcript", nil
	})
	processed, err := env.transcribePool(transcriber, time.Second).processNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, int32(0), calls.Load())

	job, err = env.transcribe.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	assert.Equal(t, domain.NoteStatusSummarizing, env.noteStatus(t))

	processed, err = env.summarizePool(summarizerFunc(func(context.Context, string, string) (domain.Summary, error) {
		return domain.Summary{Text: "Passport renewal"}, nil
	})).processNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	note, err = env.notes.Get(ctx, testNoteID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusReady, note.Status)
	require.NotNil(t, note.Transcript)
	assert.Equal(t, "renew passport", *note.Transcript)
	require.NotNil(t, note.Summary)
	assert.Equal(t, "Passport renewal", *note.Summary)

	for _, q := range []*queue.JobQueue{env.transcribe, env.summarize} {
		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Failed, string(q.Name()))
	}
	assert.NotContains(t, env.notifier.statuses(), domain.NoteStatusError)
}

// Scenario: the worker dies between moving the note to summarizing and
// queueing the summarize job. The retry queues it.
func TestPool_RedeliveryQueuesMissingSummarizeJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	jobID, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a", Language: "de"})
	require.NoError(t, err)
	_, err = env.transcribe.DequeueNext(ctx)
	require.NoError(t, err)

	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusTranscribing))
	require.NoError(t, env.notes.SetTranscript(ctx, testNoteID, "Milch kaufen"))
	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusSummarizing))
	_, err = env.transcribe.MarkFailed(ctx, jobID, "worker lost", true, 0)
	require.NoError(t, err)

	processed, err := env.transcribePool(staticTranscriber("unused"), time.Second).processNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	job, err := env.transcribe.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)

	summarizeJob, err := env.summarize.ActiveForNote(ctx, testNoteID)
	require.NoError(t, err)
	require.NotNil(t, summarizeJob)
	assert.JSONEq(t, `{"language":"de"}`, string(summarizeJob.Payload))
	assert.Equal(t, domain.NoteStatusSummarizing, env.noteStatus(t))
}

// A ready note submitted again is transcribed again on its first attempt.
func TestPool_ResubmittedReadyNoteIsProcessed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusTranscribing))
	require.NoError(t, env.notes.SetTranscript(ctx, testNoteID, "old words"))
	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusSummarizing))
	require.NoError(t, env.notes.SetSummary(ctx, testNoteID, "old summary", nil))
	require.NoError(t, env.notes.UpdateStatus(ctx, testNoteID, domain.NoteStatusReady))

	_, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a"})
	require.NoError(t, err)

	processed, err := env.transcribePool(staticTranscriber("new words"), time.Second).processNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	note, err := env.notes.Get(ctx, testNoteID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusSummarizing, note.Status)
	require.NotNil(t, note.Transcript)
	assert.Equal(t, "new words", *note.Transcript)
}

func TestPool_PauseDoesNotInterruptInFlightJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t)

	started := make(chan struct{})
	release := make(chan struct{})
	transcriber := transcriberFunc(func(context.Context, string, string) (string, error) {
		close(started)
		<-release
		return "done", nil
	})

	jobID, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a"})
	require.NoError(t, err)

	pool := env.transcribePool(transcriber, 2*time.Second)
	pool.Start(ctx)

	<-started
	require.NoError(t, env.transcribe.Pause(ctx))
	close(release)

	require.Eventually(t, func() bool {
		job, err := env.transcribe.Get(ctx, jobID)
		return err == nil && job.State == domain.JobStateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop()
}

func TestPool_StopWaitsForInFlightJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env := newTestEnv(t)

	started := make(chan struct{})
	transcriber := transcriberFunc(func(context.Context, string, string) (string, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "done", nil
	})

	jobID, err := env.transcribe.Enqueue(ctx, testNoteID, domain.TranscribePayload{MediaRef: "note.m4a"})
	require.NoError(t, err)

	pool := env.transcribePool(transcriber, 2*time.Second)
	pool.Start(ctx)
	<-started

	cancel()
	pool.Stop()

	job, err := env.transcribe.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
}

func TestBackoff_Delay(t *testing.T) {
	backoff := Backoff{Initial: time.Second, Multiplier: 2, Max: 5 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 5 * time.Second},
		{attempt: 60, want: 5 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff.Delay(tt.attempt), "attempt %d", tt.attempt)
	}

	assert.Equal(t, time.Duration(0), Backoff{}.Delay(3))
	assert.Equal(t, 3*time.Second, Backoff{Initial: 3 * time.Second}.Delay(4), "multiplier defaults to constant")
}

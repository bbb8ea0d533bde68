package notes

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepository(t *testing.T) Repository {
	t.Helper()

	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "notes.db"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repo := NewSQLRepository(client)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

var repositories = []struct {
	name string
	new  func(t *testing.T) Repository
}{
	{name: "memory", new: func(t *testing.T) Repository { return NewMemoryRepository() }},
	{name: "sqlite", new: newSQLiteRepository},
}

func forEachRepository(t *testing.T, fn func(t *testing.T, repo Repository)) {
	for _, r := range repositories {
		t.Run(r.name, func(t *testing.T) {
			fn(t, r.new(t))
		})
	}
}

func TestRepository_CreateGet(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		err := repo.Create(ctx, &domain.Note{
			ID:      "note-1",
			OwnerID: "user-1",
			Title:   "Standup",
			Tags:    []string{"work", "daily"},
			Status:  domain.NoteStatusUploaded,
		})
		require.NoError(t, err)

		note, err := repo.Get(ctx, "note-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", note.OwnerID)
		assert.Equal(t, "Standup", note.Title)
		assert.Equal(t, []string{"work", "daily"}, note.Tags)
		assert.Equal(t, domain.NoteStatusUploaded, note.Status)
		assert.Nil(t, note.Transcript)
		assert.Nil(t, note.Summary)
		assert.Empty(t, note.ActionItems)

		_, err = repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNoteNotFound)

		err = repo.Create(ctx, &domain.Note{ID: "note-1", OwnerID: "user-1"})
		assert.True(t, domain.IsValidation(err), "duplicate id")

		err = repo.Create(ctx, &domain.Note{ID: "note-2"})
		assert.True(t, domain.IsValidation(err), "owner is required")
	})
}

func TestRepository_UpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.NoteStatus
		to      domain.NoteStatus
		wantErr error
	}{
		{name: "uploaded to transcribing", from: domain.NoteStatusUploaded, to: domain.NoteStatusTranscribing},
		{name: "transcribing to summarizing", from: domain.NoteStatusTranscribing, to: domain.NoteStatusSummarizing},
		{name: "summarizing to ready", from: domain.NoteStatusSummarizing, to: domain.NoteStatusReady},
		{name: "ready to transcribing", from: domain.NoteStatusReady, to: domain.NoteStatusTranscribing},
		{name: "any to error", from: domain.NoteStatusSummarizing, to: domain.NoteStatusError},
		{name: "idle to ready", from: domain.NoteStatusIdle, to: domain.NoteStatusReady, wantErr: domain.ErrInvalidTransition},
		{name: "uploaded to summarizing", from: domain.NoteStatusUploaded, to: domain.NoteStatusSummarizing, wantErr: domain.ErrInvalidTransition},
	}

	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		for i, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				id := "note-" + string(rune('a'+i))
				require.NoError(t, repo.Create(ctx, &domain.Note{ID: id, OwnerID: "user-1", Status: tt.from}))

				err := repo.UpdateStatus(ctx, id, tt.to)

				note, getErr := repo.Get(ctx, id)
				require.NoError(t, getErr)

				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
					assert.Equal(t, tt.from, note.Status)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.to, note.Status)
			})
		}

		err := repo.UpdateStatus(ctx, "missing", domain.NoteStatusError)
		assert.ErrorIs(t, err, domain.ErrNoteNotFound)
	})
}

func TestRepository_TranscriptAndSummary(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, &domain.Note{ID: "note-1", OwnerID: "user-1", Status: domain.NoteStatusTranscribing}))

		require.NoError(t, repo.SetTranscript(ctx, "note-1", "hello team"))
		items := []domain.ActionItem{{Text: "send notes"}, {Text: "book room", Done: true}}
		require.NoError(t, repo.SetSummary(ctx, "note-1", "a greeting", items))

		note, err := repo.Get(ctx, "note-1")
		require.NoError(t, err)
		require.NotNil(t, note.Transcript)
		assert.Equal(t, "hello team", *note.Transcript)
		require.NotNil(t, note.Summary)
		assert.Equal(t, "a greeting", *note.Summary)
		assert.Equal(t, items, note.ActionItems)

		assert.ErrorIs(t, repo.SetTranscript(ctx, "missing", "x"), domain.ErrNoteNotFound)
		assert.ErrorIs(t, repo.SetSummary(ctx, "missing", "x", nil), domain.ErrNoteNotFound)
	})
}

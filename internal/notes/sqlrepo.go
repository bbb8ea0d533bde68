package notes

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/shared/database"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationFS embed.FS

type noteRow struct {
	ID          string         `db:"id"`
	OwnerID     string         `db:"owner_id"`
	Title       string         `db:"title"`
	Tags        string         `db:"tags"`
	Status      string         `db:"status"`
	Transcript  sql.NullString `db:"transcript"`
	Summary     sql.NullString `db:"summary"`
	ActionItems string         `db:"action_items"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *noteRow) toDomain() (*domain.Note, error) {
	note := &domain.Note{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Title:     r.Title,
		Status:    domain.NoteStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Tags), &note.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of note %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.ActionItems), &note.ActionItems); err != nil {
		return nil, fmt.Errorf("failed to decode action items of note %s: %w", r.ID, err)
	}
	if r.Transcript.Valid {
		note.Transcript = &r.Transcript.String
	}
	if r.Summary.Valid {
		note.Summary = &r.Summary.String
	}
	return note, nil
}

// SQLRepository stores notes in the same database as the job store
type SQLRepository struct {
	db     *sqlx.DB
	client *database.Client
	now    func() time.Time
}

// NewSQLRepository creates a SQLRepository on the client's connection
func NewSQLRepository(client *database.Client) *SQLRepository {
	return &SQLRepository{
		db:     client.GetDB(),
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the notes table
func (r *SQLRepository) Migrate(ctx context.Context) error {
	return r.client.Migrate(ctx, "notes", migrationFS, "migrations/"+string(r.client.Driver()))
}

func (r *SQLRepository) Create(ctx context.Context, note *domain.Note) error {
	if err := validateNewNote(note); err != nil {
		return err
	}

	tags, err := marshalList(note.Tags)
	if err != nil {
		return err
	}
	items, err := marshalList(note.ActionItems)
	if err != nil {
		return err
	}

	now := r.now()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	query := r.db.Rebind(`
		INSERT INTO notes (id, owner_id, title, tags, status, transcript, summary, action_items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.db.ExecContext(ctx, query,
		note.ID,
		note.OwnerID,
		note.Title,
		tags,
		string(note.Status),
		nullString(note.Transcript),
		nullString(note.Summary),
		items,
		note.CreatedAt.UTC(),
		note.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.NewValidationError("id", "note %s already exists", note.ID)
		}
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*domain.Note, error) {
	var row noteRow
	query := r.db.Rebind(`
		SELECT id, owner_id, title, tags, status, transcript, summary, action_items, created_at, updated_at
		FROM notes WHERE id = ?
	`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return row.toDomain()
}

// UpdateStatus validates the transition against the stored status and applies
// it with a compare-and-set on that status.
func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status domain.NoteStatus) error {
	var current string
	if err := r.db.GetContext(ctx, &current, r.db.Rebind(`SELECT status FROM notes WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNoteNotFound
		}
		return fmt.Errorf("failed to read note status: %w", err)
	}

	from := domain.NoteStatus(current)
	if !domain.CanTransition(from, status) {
		return transitionError(id, from, status)
	}

	query := r.db.Rebind(`UPDATE notes SET status = ?, updated_at = ? WHERE id = ? AND status = ?`)
	result, err := r.db.ExecContext(ctx, query, string(status), r.now(), id, current)
	if err != nil {
		return fmt.Errorf("failed to update note status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: note %s changed status concurrently", domain.ErrInvalidTransition, id)
	}
	return nil
}

func (r *SQLRepository) SetTranscript(ctx context.Context, id, transcript string) error {
	return r.exec(ctx, id, `UPDATE notes SET transcript = ?, updated_at = ? WHERE id = ?`, transcript, r.now(), id)
}

func (r *SQLRepository) SetSummary(ctx context.Context, id, summary string, actionItems []domain.ActionItem) error {
	items, err := marshalList(actionItems)
	if err != nil {
		return err
	}
	return r.exec(ctx, id, `UPDATE notes SET summary = ?, action_items = ?, updated_at = ? WHERE id = ?`,
		summary, items, r.now(), id)
}

func (r *SQLRepository) exec(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update note %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNoteNotFound
	}
	return nil
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

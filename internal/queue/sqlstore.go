package queue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/shared/database"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationFS embed.FS

const jobColumns = `id, queue, note_id, payload, state, attempts, max_attempts, last_error,
	position, available_at, heartbeat_at, created_at, updated_at, finished_at`

// jobRow is the database representation of a job
type jobRow struct {
	ID          string       `db:"id"`
	Queue       string       `db:"queue"`
	NoteID      string       `db:"note_id"`
	Payload     string       `db:"payload"`
	State       string       `db:"state"`
	Attempts    int          `db:"attempts"`
	MaxAttempts int          `db:"max_attempts"`
	LastError   string       `db:"last_error"`
	Position    int64        `db:"position"`
	AvailableAt time.Time    `db:"available_at"`
	HeartbeatAt sql.NullTime `db:"heartbeat_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
	FinishedAt  sql.NullTime `db:"finished_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:          r.ID,
		Queue:       domain.QueueName(r.Queue),
		NoteID:      r.NoteID,
		Payload:     []byte(r.Payload),
		State:       domain.JobState(r.State),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		LastError:   r.LastError,
		Position:    r.Position,
		AvailableAt: r.AvailableAt.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.HeartbeatAt.Valid {
		job.HeartbeatAt = timePtr(r.HeartbeatAt.Time.UTC())
	}
	if r.FinishedAt.Valid {
		job.FinishedAt = timePtr(r.FinishedAt.Time.UTC())
	}
	return job
}

// SQLStore is a Store backed by PostgreSQL or SQLite through sqlx
type SQLStore struct {
	db     *sqlx.DB
	client *database.Client
	driver database.Driver
}

// NewSQLStore creates a SQLStore on the client's connection
func NewSQLStore(client *database.Client) *SQLStore {
	return &SQLStore{
		db:     client.GetDB(),
		client: client,
		driver: client.Driver(),
	}
}

// Migrate creates the job tables
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.client.Migrate(ctx, "queue", migrationFS, "migrations/"+string(s.driver))
}

// nextPosition returns the SQL expression allocating a queue position
func (s *SQLStore) nextPosition() string {
	if s.driver == database.DriverPostgres {
		return "nextval('job_position_seq')"
	}
	// SQLite serializes writers, so MAX+1 cannot race
	return "(SELECT COALESCE(MAX(position), 0) + 1 FROM jobs)"
}

// skipLocked returns the row locking clause for the claim subquery
func (s *SQLStore) skipLocked() string {
	if s.driver == database.DriverPostgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (s *SQLStore) Insert(ctx context.Context, job *domain.Job) error {
	query := s.db.Rebind(`
		INSERT INTO jobs (
			id, queue, note_id, payload, state, attempts, max_attempts, last_error,
			position, available_at, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?,
			` + s.nextPosition() + `, ?, ?, ?
		)
		RETURNING position
	`)

	err := s.db.GetContext(ctx, &job.Position, query,
		job.ID,
		string(job.Queue),
		job.NoteID,
		string(job.Payload),
		string(job.State),
		job.Attempts,
		job.MaxAttempts,
		job.LastError,
		job.AvailableAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicateActiveJob
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *SQLStore) ClaimNext(ctx context.Context, queue domain.QueueName, now time.Time) (*domain.Job, error) {
	query := s.db.Rebind(`
		UPDATE jobs
		SET state = 'active',
		    heartbeat_at = ?,
		    updated_at = ?
		WHERE id = (
			SELECT j.id FROM jobs j
			WHERE j.queue = ?
			  AND j.state = 'waiting'
			  AND j.available_at <= ?
			  AND NOT EXISTS (
				SELECT 1 FROM queue_settings qs WHERE qs.queue = j.queue AND qs.paused = TRUE
			  )
			ORDER BY j.position
			LIMIT 1` + s.skipLocked() + `
		)
		  AND state = 'waiting'
		RETURNING id
	`)

	var id string
	err := s.db.GetContext(ctx, &id, query, now, now, string(queue), now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *SQLStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain(), nil
}

func (s *SQLStore) OpenForNote(ctx context.Context, queue domain.QueueName, noteID string) (*domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`
		SELECT ` + jobColumns + ` FROM jobs
		WHERE queue = ? AND note_id = ? AND state IN ('waiting', 'active')
	`)
	if err := s.db.GetContext(ctx, &row, query, string(queue), noteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open job: %w", err)
	}
	return row.toDomain(), nil
}

func (s *SQLStore) Complete(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.updateActive(ctx, id, `
		UPDATE jobs
		SET state = 'completed', finished_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active'
	`, now, now, id)
}

func (s *SQLStore) Retry(ctx context.Context, id, reason string, availableAt, now time.Time) (*domain.Job, error) {
	return s.updateActive(ctx, id, `
		UPDATE jobs
		SET state = 'waiting',
		    attempts = attempts + 1,
		    last_error = ?,
		    position = `+s.nextPosition()+`,
		    available_at = ?,
		    heartbeat_at = NULL,
		    updated_at = ?
		WHERE id = ? AND state = 'active'
	`, reason, availableAt, now, id)
}

func (s *SQLStore) Fail(ctx context.Context, id, reason string, now time.Time) (*domain.Job, error) {
	return s.updateActive(ctx, id, `
		UPDATE jobs
		SET state = 'failed',
		    attempts = attempts + 1,
		    last_error = ?,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ? AND state = 'active'
	`, reason, now, now, id)
}

func (s *SQLStore) Touch(ctx context.Context, id string, now time.Time) error {
	_, err := s.updateActive(ctx, id, `
		UPDATE jobs
		SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active'
	`, now, now, id)
	return err
}

// updateActive runs a compare-and-set update guarded by state = 'active'
func (s *SQLStore) updateActive(ctx context.Context, id, query string, args ...any) (*domain.Job, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrJobNotActive
	}

	return s.Get(ctx, id)
}

func (s *SQLStore) Stalled(ctx context.Context, queue domain.QueueName, heartbeatBefore time.Time) ([]*domain.Job, error) {
	var rows []jobRow
	query := s.db.Rebind(`
		SELECT ` + jobColumns + ` FROM jobs
		WHERE queue = ? AND state = 'active'
		  AND (heartbeat_at IS NULL OR heartbeat_at < ?)
		ORDER BY position
	`)
	if err := s.db.SelectContext(ctx, &rows, query, string(queue), heartbeatBefore); err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}

func (s *SQLStore) DeleteFinished(ctx context.Context, queue domain.QueueName, state domain.JobState, finishedBefore time.Time) (int, error) {
	query := s.db.Rebind(`
		DELETE FROM jobs
		WHERE queue = ? AND state = ? AND finished_at < ?
	`)
	result, err := s.db.ExecContext(ctx, query, string(queue), string(state), finishedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) TrimFinished(ctx context.Context, queue domain.QueueName, state domain.JobState, keep int) (int, error) {
	query := s.db.Rebind(`
		DELETE FROM jobs
		WHERE queue = ? AND state = ?
		  AND id NOT IN (
			SELECT id FROM jobs
			WHERE queue = ? AND state = ?
			ORDER BY finished_at DESC, position DESC
			LIMIT ?
		  )
	`)
	result, err := s.db.ExecContext(ctx, query, string(queue), string(state), string(queue), string(state), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim finished jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) Counts(ctx context.Context, queue domain.QueueName, now time.Time) (domain.QueueStats, error) {
	var stats domain.QueueStats
	query := s.db.Rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN state = 'waiting' AND available_at <= ? THEN 1 ELSE 0 END), 0) AS waiting,
			COALESCE(SUM(CASE WHEN state = 'waiting' AND available_at > ? THEN 1 ELSE 0 END), 0) AS delayed,
			COALESCE(SUM(CASE WHEN state = 'active' THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM jobs
		WHERE queue = ?
	`)
	if err := s.db.GetContext(ctx, &stats, query, now, now, string(queue)); err != nil {
		return domain.QueueStats{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) SetPaused(ctx context.Context, queue domain.QueueName, paused bool, now time.Time) error {
	query := s.db.Rebind(`
		INSERT INTO queue_settings (queue, paused, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (queue) DO UPDATE
		SET paused = excluded.paused, updated_at = excluded.updated_at
	`)
	if _, err := s.db.ExecContext(ctx, query, string(queue), paused, now); err != nil {
		return fmt.Errorf("failed to set paused flag: %w", err)
	}
	return nil
}

func (s *SQLStore) Paused(ctx context.Context, queue domain.QueueName) (bool, error) {
	var paused bool
	query := s.db.Rebind(`SELECT paused FROM queue_settings WHERE queue = ?`)
	if err := s.db.GetContext(ctx, &paused, query, string(queue)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read paused flag: %w", err)
	}
	return paused, nil
}

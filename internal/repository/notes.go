// Package repository provides persistence implementations for ephemeral notes.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/secureshare/internal/models"
	"github.com/lib/pq"
)

// PostgresNoteRepository stores notes in a PostgreSQL table and relies on
// single-statement row atomicity for every state change.
type PostgresNoteRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresNoteRepository creates a PostgresNoteRepository using the provided *sql.DB.
func NewPostgresNoteRepository(db *sql.DB) *PostgresNoteRepository {
	return &PostgresNoteRepository{DB: db}
}

// Ping verifies the database connection.
func (r *PostgresNoteRepository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

// Insert persists a new note.
func (r *PostgresNoteRepository) Insert(ctx context.Context, note *models.Note) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO notes (id, owner_id, ciphertext, iv, created_at, expires_at, max_views, view_count, view_once, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, false)
	`, note.ID, note.OwnerID, note.Ciphertext, note.IV, note.CreatedAt, note.ExpiresAt, note.MaxViews, note.ViewOnce)
	if err != nil {
		return fmt.Errorf("insert note: %w", classify(err))
	}
	return nil
}

// GetMeta loads a note's bookkeeping columns without its payload.
// It returns models.ErrNotFound when no row exists; tombstoned rows are
// returned as-is so the caller can tell them apart from expired ones.
func (r *PostgresNoteRepository) GetMeta(ctx context.Context, id string) (*models.Note, error) {
	var (
		note      models.Note
		deletedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, created_at, expires_at, max_views, view_count, view_once, deleted, deleted_at
		FROM notes WHERE id = $1
	`, id).Scan(
		&note.ID, &note.OwnerID, &note.CreatedAt, &note.ExpiresAt,
		&note.MaxViews, &note.ViewCount, &note.ViewOnce, &note.Deleted, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", classify(err))
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		note.DeletedAt = &t
	}
	return &note, nil
}

// Consume charges one view in a single conditional UPDATE. The row is only
// touched while it is live and unexpired at now, and the same statement
// tombstones it when the new count reaches max_views, so concurrent callers
// serialize on the row lock and each observes its own post-increment count.
func (r *PostgresNoteRepository) Consume(ctx context.Context, id string, now time.Time) (*models.NotePayload, error) {
	var p models.NotePayload
	err := r.DB.QueryRowContext(ctx, `
		UPDATE notes
		   SET view_count = view_count + 1,
		       deleted    = view_count + 1 >= max_views,
		       deleted_at = CASE WHEN view_count + 1 >= max_views THEN $2 ELSE deleted_at END
		 WHERE id = $1 AND deleted = false AND expires_at > $2
		RETURNING ciphertext, iv, view_count, max_views, expires_at, view_once, deleted
	`, id, now).Scan(&p.Ciphertext, &p.IV, &p.ViewCount, &p.MaxViews, &p.ExpiresAt, &p.ViewOnce, &p.Exhausted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.rejectReason(ctx, id, now)
	}
	if err != nil {
		return nil, fmt.Errorf("consume note: %w", classify(err))
	}
	return &p, nil
}

// rejectReason explains why a conditional consume matched no row.
func (r *PostgresNoteRepository) rejectReason(ctx context.Context, id string, now time.Time) error {
	note, err := r.GetMeta(ctx, id)
	if err != nil {
		return err
	}
	if !note.Deleted && note.Expired(now) {
		return models.ErrExpired
	}
	return models.ErrNotFound
}

// Delete tombstones a note. Unknown and already deleted ids are a no-op.
func (r *PostgresNoteRepository) Delete(ctx context.Context, id string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE notes SET deleted = true, deleted_at = $2 WHERE id = $1 AND deleted = false
	`, id, now)
	if err != nil {
		return fmt.Errorf("delete note: %w", classify(err))
	}
	return nil
}

// SweepExpired tombstones every live note whose deadline is not after now
// in one bulk statement and reports how many rows it changed.
func (r *PostgresNoteRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE notes SET deleted = true, deleted_at = $1 WHERE expires_at <= $1 AND deleted = false
	`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired notes: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// PurgeTombstones removes rows tombstoned before the cutoff, payload included.
func (r *PostgresNoteRepository) PurgeTombstones(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM notes WHERE deleted = true AND deleted_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("purge deleted notes: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// transientCodes are SQLSTATEs after which the statement is known to have
// been rolled back and may be retried.
var transientCodes = map[pq.ErrorCode]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"57014": {}, // query_canceled (statement_timeout)
	"53300": {}, // too_many_connections
}

func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if _, ok := transientCodes[pqErr.Code]; ok {
			return fmt.Errorf("%w: %w", models.ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", models.ErrTransient, err)
	}
	return err
}

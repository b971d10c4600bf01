package repository

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atinyakov/secureshare/internal/models"
)

// MemoryNoteRepository keeps notes in process memory. Each record has its
// own lock, so operations on different ids never contend and every state
// change of one record happens under that record's lock.
type MemoryNoteRepository struct {
	mu    sync.RWMutex
	notes map[string]*memoryRow
}

type memoryRow struct {
	mu   sync.Mutex
	note models.Note
}

// NewMemoryNoteRepository creates an empty MemoryNoteRepository.
func NewMemoryNoteRepository() *MemoryNoteRepository {
	return &MemoryNoteRepository{notes: make(map[string]*memoryRow)}
}

func (r *MemoryNoteRepository) row(id string) *memoryRow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notes[id]
}

// Ping always succeeds unless ctx is done.
func (r *MemoryNoteRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Insert stores a copy of note.
func (r *MemoryNoteRepository) Insert(ctx context.Context, note *models.Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notes[note.ID]; ok {
		return fmt.Errorf("insert note: duplicate id %q", note.ID)
	}
	n := *note
	n.Ciphertext = bytes.Clone(note.Ciphertext)
	n.IV = bytes.Clone(note.IV)
	n.ViewCount = 0
	n.Deleted = false
	n.DeletedAt = nil
	r.notes[note.ID] = &memoryRow{note: n}
	return nil
}

// GetMeta returns a payload-free copy of the note.
func (r *MemoryNoteRepository) GetMeta(ctx context.Context, id string) (*models.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := r.row(id)
	if row == nil {
		return nil, models.ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	n := row.note
	n.Ciphertext, n.IV = nil, nil
	return &n, nil
}

// Consume applies the same guarded increment as the SQL adapter under the
// record's lock.
func (r *MemoryNoteRepository) Consume(ctx context.Context, id string, now time.Time) (*models.NotePayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := r.row(id)
	if row == nil {
		return nil, models.ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()

	n := &row.note
	if n.Deleted {
		return nil, models.ErrNotFound
	}
	if n.Expired(now) {
		return nil, models.ErrExpired
	}

	n.ViewCount++
	if n.ViewCount >= n.MaxViews {
		tombstone(n, now)
	}
	return &models.NotePayload{
		Ciphertext: bytes.Clone(n.Ciphertext),
		IV:         bytes.Clone(n.IV),
		ViewCount:  n.ViewCount,
		MaxViews:   n.MaxViews,
		ExpiresAt:  n.ExpiresAt,
		ViewOnce:   n.ViewOnce,
		Exhausted:  n.Deleted,
	}, nil
}

// Delete tombstones a note; unknown ids are ignored.
func (r *MemoryNoteRepository) Delete(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := r.row(id)
	if row == nil {
		return nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if !row.note.Deleted {
		tombstone(&row.note, now)
	}
	return nil
}

// SweepExpired tombstones every live note whose deadline is not after now.
func (r *MemoryNoteRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, row := range r.snapshot() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		row.mu.Lock()
		if !row.note.Deleted && row.note.Expired(now) {
			tombstone(&row.note, now)
			n++
		}
		row.mu.Unlock()
	}
	return n, nil
}

// PurgeTombstones drops notes tombstoned before the cutoff.
func (r *MemoryNoteRepository) PurgeTombstones(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, row := range r.notes {
		row.mu.Lock()
		purge := row.note.Deleted && row.note.DeletedAt != nil && row.note.DeletedAt.Before(before)
		row.mu.Unlock()
		if purge {
			delete(r.notes, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryNoteRepository) snapshot() []*memoryRow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]*memoryRow, 0, len(r.notes))
	for _, row := range r.notes {
		rows = append(rows, row)
	}
	return rows
}

func tombstone(n *models.Note, now time.Time) {
	t := now
	n.Deleted = true
	n.DeletedAt = &t
}

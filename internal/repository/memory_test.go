package repository

import (
	"context"
	"testing"
	"time"

	"github.com/atinyakov/secureshare/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryNote(id string, now time.Time, maxViews int) *models.Note {
	return &models.Note{
		ID: id, Ciphertext: []byte("abc"), IV: []byte("xyz"),
		CreatedAt: now, ExpiresAt: now.Add(time.Minute), MaxViews: maxViews,
	}
}

func TestMemory_InsertRejectsDuplicate(t *testing.T) {
	repo := NewMemoryNoteRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Insert(ctx, newMemoryNote("n1", now, 1)))
	assert.Error(t, repo.Insert(ctx, newMemoryNote("n1", now, 1)))
}

func TestMemory_InsertCopiesPayload(t *testing.T) {
	repo := NewMemoryNoteRepository()
	ctx := context.Background()
	now := time.Now()

	note := newMemoryNote("n1", now, 2)
	require.NoError(t, repo.Insert(ctx, note))
	note.Ciphertext[0] = 'X'

	p, err := repo.Consume(ctx, "n1", now)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(p.Ciphertext))
}

func TestMemory_ConsumeLifecycle(t *testing.T) {
	repo := NewMemoryNoteRepository()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.Insert(ctx, newMemoryNote("n1", now, 2)))

	p, err := repo.Consume(ctx, "n1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ViewCount)
	assert.False(t, p.Exhausted)

	p, err = repo.Consume(ctx, "n1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ViewCount)
	assert.True(t, p.Exhausted)

	_, err = repo.Consume(ctx, "n1", now)
	assert.ErrorIs(t, err, models.ErrNotFound)

	meta, err := repo.GetMeta(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, meta.Deleted)
	assert.Nil(t, meta.Ciphertext)
	assert.Equal(t, 2, meta.ViewCount)
}

func TestMemory_ConsumeExpired(t *testing.T) {
	repo := NewMemoryNoteRepository()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.Insert(ctx, newMemoryNote("n1", now, 5)))

	_, err := repo.Consume(ctx, "n1", now.Add(time.Minute))
	assert.ErrorIs(t, err, models.ErrExpired)

	meta, err := repo.GetMeta(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 0, meta.ViewCount)
}

func TestMemory_SweepAndPurge(t *testing.T) {
	repo := NewMemoryNoteRepository()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.Insert(ctx, newMemoryNote("old", now.Add(-time.Hour), 5)))
	require.NoError(t, repo.Insert(ctx, newMemoryNote("fresh", now, 5)))

	n, err := repo.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "sweep must be idempotent")

	n, err = repo.PurgeTombstones(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "tombstone is not older than cutoff yet")

	n, err = repo.PurgeTombstones(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetMeta(ctx, "old")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = repo.GetMeta(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemory_DeleteUnknownIsNoop(t *testing.T) {
	repo := NewMemoryNoteRepository()
	assert.NoError(t, repo.Delete(context.Background(), "nope", time.Now()))
}

func TestMemory_CanceledContext(t *testing.T) {
	repo := NewMemoryNoteRepository()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	require.NoError(t, repo.Insert(context.Background(), newMemoryNote("n1", now, 1)))
	cancel()

	_, err := repo.Consume(ctx, "n1", now)
	assert.ErrorIs(t, err, context.Canceled)

	meta, err := repo.GetMeta(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, 0, meta.ViewCount, "canceled consume must leave no effect")
}

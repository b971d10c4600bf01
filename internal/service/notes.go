// Package service provides the note disclosure business logic, delegating
// persistence to a NoteRepository.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/atinyakov/secureshare/internal/models"
	"github.com/atinyakov/secureshare/internal/policy"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	// DefaultRetries bounds how often a transient storage failure is retried.
	DefaultRetries = 3
	// DefaultRetryDelay is the pause between transient retries.
	DefaultRetryDelay = 25 * time.Millisecond
)

// NoteRepository defines the persistence operations needed by NoteService.
// Implementations must make Consume a single atomic step: increment, quota
// check and tombstoning either all happen or none do.
type NoteRepository interface {
	// Insert stores a new note with ViewCount 0 and Deleted false.
	Insert(ctx context.Context, note *models.Note) error
	// GetMeta returns the note without payload, or models.ErrNotFound.
	GetMeta(ctx context.Context, id string) (*models.Note, error)
	// Consume charges one view if the note is live and unexpired at now.
	// It returns models.ErrNotFound or models.ErrExpired otherwise.
	Consume(ctx context.Context, id string, now time.Time) (*models.NotePayload, error)
	// Delete tombstones the note. Unknown ids are not an error.
	Delete(ctx context.Context, id string, now time.Time) error
}

// NoteService implements create, preview, consume and delete for notes.
type NoteService struct {
	repo       NoteRepository
	policy     policy.Policy
	retries    uint64
	retryDelay time.Duration
	now        func() time.Time
	newID      func() string
	log        *zap.Logger
}

// Option configures a NoteService.
type Option func(*NoteService)

// WithPolicy sets the creation policy.
func WithPolicy(p policy.Policy) Option {
	return func(s *NoteService) { s.policy = p }
}

// WithRetries sets the transient retry bound and delay.
func WithRetries(n uint64, delay time.Duration) Option {
	return func(s *NoteService) {
		s.retries = n
		s.retryDelay = delay
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *NoteService) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *NoteService) { s.log = l }
}

// NewNoteService constructs a NoteService over repo.
func NewNoteService(repo NoteRepository, opts ...Option) *NoteService {
	s := &NoteService{
		repo:       repo,
		policy:     policy.Default(),
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates req, resolves its quota and stores a new note.
func (s *NoteService) Create(ctx context.Context, req models.CreateNoteRequest) (*models.CreatedNote, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	note := &models.Note{
		ID:         s.newID(),
		OwnerID:    req.OwnerID,
		Ciphertext: req.Ciphertext,
		IV:         req.IV,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(req.TTLMinutes) * time.Minute),
		MaxViews:   s.policy.ResolveMaxViews(req.MaxViews, req.ViewOnce),
		ViewOnce:   req.ViewOnce,
	}

	err := s.withRetry(ctx, "create", func(ctx context.Context) error {
		return s.repo.Insert(ctx, note)
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("note created",
		zap.String("id", note.ID),
		zap.Int("max_views", note.MaxViews),
		zap.Time("expires_at", note.ExpiresAt))
	return &models.CreatedNote{ID: note.ID, ExpiresAt: note.ExpiresAt, MaxViews: note.MaxViews}, nil
}

func (s *NoteService) validate(req models.CreateNoteRequest) error {
	switch {
	case len(req.Ciphertext) == 0:
		return models.NewValidationError("ciphertext", "must not be empty")
	case len(req.IV) == 0:
		return models.NewValidationError("iv", "must not be empty")
	case req.TTLMinutes <= 0:
		return models.NewValidationError("ttl", "must be a positive number of minutes")
	case req.TTLMinutes > s.maxTTLMinutes():
		return models.NewValidationError("ttl", fmt.Sprintf("must not exceed %d minutes", s.maxTTLMinutes()))
	case req.MaxViews != nil && *req.MaxViews < 0:
		return models.NewValidationError("maxViews", "must not be negative")
	}
	return nil
}

// Preview returns a note's metadata without charging a view.
// maxTTLMinutes is the largest accepted TTL. Without a policy bound it is
// still capped so that the TTL fits in a time.Duration.
func (s *NoteService) maxTTLMinutes() int {
	limit := int64(math.MaxInt64 / int64(time.Minute))
	if s.policy.MaxTTL > 0 {
		limit = min(limit, int64(s.policy.MaxTTL/time.Minute))
	}
	return int(limit)
}

func (s *NoteService) Preview(ctx context.Context, id string) (*models.NotePreview, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	var note *models.Note
	err := s.withRetry(ctx, "preview", func(ctx context.Context) error {
		var err error
		note, err = s.repo.GetMeta(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if note.Deleted {
		return nil, models.ErrNotFound
	}
	if note.Expired(s.now()) {
		return nil, models.ErrExpired
	}
	p := note.Preview()
	return &p, nil
}

// Consume reveals a note's payload and charges one view. At most MaxViews
// calls ever succeed for a note, however they interleave.
func (s *NoteService) Consume(ctx context.Context, id string) (*models.NotePayload, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	var payload *models.NotePayload
	err := s.withRetry(ctx, "consume", func(ctx context.Context) error {
		var err error
		payload, err = s.repo.Consume(ctx, id, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	if payload.Exhausted {
		s.log.Debug("note exhausted", zap.String("id", id), zap.Int("views", payload.ViewCount))
	}
	return payload, nil
}

// Delete destroys a note. It succeeds for unknown and already deleted ids.
func (s *NoteService) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	return s.withRetry(ctx, "delete", func(ctx context.Context) error {
		return s.repo.Delete(ctx, id, s.now().UTC())
	})
}

// withRetry runs fn, retrying only errors the repository marked as
// transient. When the bound is hit the failure is reported as
// models.ErrStorageUnavailable.
func (s *NoteService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := s.retryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	backoff := retry.WithMaxRetries(s.retries, retry.NewConstant(delay))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if errors.Is(err, models.ErrTransient) {
			s.log.Warn("transient storage failure",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, models.ErrTransient) {
		return fmt.Errorf("%s: %w: %w", op, models.ErrStorageUnavailable, err)
	}
	return err
}

func validID(id string) bool {
	return uuid.Validate(id) == nil
}

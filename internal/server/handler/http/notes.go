package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atinyakov/secureshare/internal/middleware"
	"github.com/atinyakov/secureshare/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxCreateBody caps the JSON body accepted by POST /api/notes.
const maxCreateBody = 1 << 20

// NoteService defines the note operations required by NoteHandler.
type NoteService interface {
	Create(ctx context.Context, req models.CreateNoteRequest) (*models.CreatedNote, error)
	Preview(ctx context.Context, id string) (*models.NotePreview, error)
	Consume(ctx context.Context, id string) (*models.NotePayload, error)
	Delete(ctx context.Context, id string) error
}

// NoteHandler serves the /api/notes endpoints.
type NoteHandler struct {
	NoteService NoteService
	Logger      *zap.Logger
}

type createNoteRequest struct {
	EncryptedContent []byte `json:"encryptedContent"`
	IV               []byte `json:"iv"`
	ExpiryMinutes    int    `json:"expiryMinutes"`
	ViewOnce         bool   `json:"viewOnce"`
	AttemptLimit     *int   `json:"attemptLimit,omitempty"`
}

type notePayloadResponse struct {
	EncryptedContent []byte    `json:"encryptedContent"`
	IV               []byte    `json:"iv"`
	ViewOnce         bool      `json:"viewOnce"`
	ExpiryTime       time.Time `json:"expiryTime"`
	MaxViews         int       `json:"maxViews"`
	ViewCount        int       `json:"viewCount"`
}

// Create handles POST /api/notes. Binary fields travel as standard base64.
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	// A zero attemptLimit means "not set", as in the browser client.
	if req.AttemptLimit != nil && *req.AttemptLimit == 0 {
		req.AttemptLimit = nil
	}

	created, err := h.NoteService.Create(r.Context(), models.CreateNoteRequest{
		OwnerID:    middleware.GetUserIDFromContext(r.Context()),
		Ciphertext: req.EncryptedContent,
		IV:         req.IV,
		TTLMinutes: req.ExpiryMinutes,
		MaxViews:   req.AttemptLimit,
		ViewOnce:   req.ViewOnce,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/notes/{id}. With ?type=preview it returns metadata
// only; otherwise it consumes one view and returns the payload.
func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("type") == "preview" {
		preview, err := h.NoteService.Preview(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	}

	payload, err := h.NoteService.Consume(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// The view is charged at this point; a failed write does not refund it.
	writeJSON(w, http.StatusOK, notePayloadResponse{
		EncryptedContent: payload.Ciphertext,
		IV:               payload.IV,
		ViewOnce:         payload.ViewOnce,
		ExpiryTime:       payload.ExpiresAt,
		MaxViews:         payload.MaxViews,
		ViewCount:        payload.ViewCount,
	})
}

// Delete handles DELETE /api/notes/{id}.
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.NoteService.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "note deleted"})
}

func (h *NoteHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("note request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, msg)
}

// statusFor maps service errors onto HTTP status codes and client messages.
func statusFor(err error) (int, string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "note not found or deleted"
	case errors.Is(err, models.ErrExpired):
		return http.StatusGone, "note expired"
	case errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage temporarily unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package models defines the core data structures for ephemeral notes.
package models

import "time"

// Note is a stored, client-encrypted record with its disclosure bookkeeping.
// Ciphertext and IV are opaque to the server; the decryption key never
// reaches this type.
type Note struct {
	// ID is the unguessable identifier of the note.
	ID string
	// OwnerID identifies the caller that created the note. It is not interpreted.
	OwnerID string
	// Ciphertext is the encrypted payload.
	Ciphertext []byte
	// IV is the nonce paired with Ciphertext.
	IV []byte
	// CreatedAt is the creation time.
	CreatedAt time.Time
	// ExpiresAt is fixed at creation as CreatedAt plus the requested TTL.
	ExpiresAt time.Time
	// MaxViews is the number of successful reads the note permits.
	MaxViews int
	// ViewCount is the number of successful reads so far.
	ViewCount int
	// ViewOnce records whether the note was created as a single-view note.
	ViewOnce bool
	// Deleted is the tombstone flag. It is never reset.
	Deleted bool
	// DeletedAt is set in the same step that sets Deleted.
	DeletedAt *time.Time
}

// Expired reports whether the note's deadline has passed at now.
func (n *Note) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// Preview returns the metadata view of the note.
func (n *Note) Preview() NotePreview {
	return NotePreview{
		MaxViews:  n.MaxViews,
		ViewCount: n.ViewCount,
		ExpiresAt: n.ExpiresAt,
		ViewOnce:  n.ViewOnce,
	}
}

// CreateNoteRequest carries the raw creation parameters supplied by a caller.
type CreateNoteRequest struct {
	OwnerID    string
	Ciphertext []byte
	IV         []byte
	TTLMinutes int
	// MaxViews is the explicit quota, nil when the caller did not set one.
	MaxViews *int
	ViewOnce bool
}

// CreatedNote is returned by a successful create.
type CreatedNote struct {
	ID        string    `json:"noteId"`
	ExpiresAt time.Time `json:"expiresAt"`
	MaxViews  int       `json:"maxViews"`
}

// NotePreview is the side-effect-free view of a note. It never carries payload.
type NotePreview struct {
	MaxViews  int       `json:"maxViews"`
	ViewCount int       `json:"viewCount"`
	ExpiresAt time.Time `json:"expiryTime"`
	ViewOnce  bool      `json:"viewOnce"`
}

// NotePayload is the result of a successful consume. ViewCount is the count
// after this read.
type NotePayload struct {
	Ciphertext []byte
	IV         []byte
	ViewCount  int
	MaxViews   int
	ExpiresAt  time.Time
	ViewOnce   bool
	// Exhausted is true when this read used up the last view.
	Exhausted bool
}

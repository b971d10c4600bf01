// Package client is the sender and recipient side of SecureShare: it
// encrypts notes locally, talks to the notes API and builds share links.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atinyakov/secureshare/internal/middleware"
	"github.com/atinyakov/secureshare/internal/models"
)

// CreateOptions are the sender's choices for a new note.
type CreateOptions struct {
	ExpiryMinutes int
	ViewOnce      bool
	// AttemptLimit is the view quota; zero lets the server decide.
	AttemptLimit int
}

// Share is a created note together with its link.
type Share struct {
	ID        string
	Link      string
	ExpiresAt time.Time
	MaxViews  int
}

// Note is a revealed note.
type Note struct {
	Plaintext []byte
	ViewCount int
	MaxViews  int
	ExpiresAt time.Time
	ViewOnce  bool
}

// Client calls the SecureShare notes API.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	// UserID is sent as X-User-ID for servers running without TLS.
	UserID string
}

// New returns a Client for baseURL using httpClient.
func New(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{HTTP: httpClient, BaseURL: strings.TrimRight(baseURL, "/")}
}

type createRequest struct {
	EncryptedContent []byte `json:"encryptedContent"`
	IV               []byte `json:"iv"`
	ExpiryMinutes    int    `json:"expiryMinutes"`
	ViewOnce         bool   `json:"viewOnce"`
	AttemptLimit     int    `json:"attemptLimit,omitempty"`
}

type payloadResponse struct {
	EncryptedContent []byte    `json:"encryptedContent"`
	IV               []byte    `json:"iv"`
	ViewOnce         bool      `json:"viewOnce"`
	ExpiryTime       time.Time `json:"expiryTime"`
	MaxViews         int       `json:"maxViews"`
	ViewCount        int       `json:"viewCount"`
}

// Create encrypts plaintext locally, uploads the ciphertext and returns a
// share link carrying the key.
func (c *Client) Create(ctx context.Context, plaintext []byte, opts CreateOptions) (*Share, error) {
	ciphertext, iv, key, err := Seal(plaintext)
	if err != nil {
		return nil, err
	}

	var created models.CreatedNote
	err = c.do(ctx, http.MethodPost, "/api/notes", createRequest{
		EncryptedContent: ciphertext,
		IV:               iv,
		ExpiryMinutes:    opts.ExpiryMinutes,
		ViewOnce:         opts.ViewOnce,
		AttemptLimit:     opts.AttemptLimit,
	}, &created)
	if err != nil {
		return nil, err
	}
	return &Share{
		ID:        created.ID,
		Link:      BuildLink(c.BaseURL, created.ID, key),
		ExpiresAt: created.ExpiresAt,
		MaxViews:  created.MaxViews,
	}, nil
}

// Preview fetches a note's metadata without spending a view.
func (c *Client) Preview(ctx context.Context, id string) (*models.NotePreview, error) {
	var p models.NotePreview
	if err := c.do(ctx, http.MethodGet, "/api/notes/"+url.PathEscape(id)+"?type=preview", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Read spends one view and decrypts the note with key.
func (c *Client) Read(ctx context.Context, id string, key []byte) (*Note, error) {
	var p payloadResponse
	if err := c.do(ctx, http.MethodGet, "/api/notes/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	plain, err := Open(p.EncryptedContent, p.IV, key)
	if err != nil {
		return nil, err
	}
	return &Note{
		Plaintext: plain,
		ViewCount: p.ViewCount,
		MaxViews:  p.MaxViews,
		ExpiresAt: p.ExpiryTime,
		ViewOnce:  p.ViewOnce,
	}, nil
}

// Destroy deletes a note.
func (c *Client) Destroy(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notes/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != "" {
		req.Header.Set(middleware.UserIDHeader, c.UserID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError turns an error response back into the matching sentinel.
func statusError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", models.ErrValidation, e.Error)
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusGone:
		return models.ErrExpired
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", models.ErrStorageUnavailable, e.Error)
	default:
		return fmt.Errorf("server error %d: %s", resp.StatusCode, e.Error)
	}
}

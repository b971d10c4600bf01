package client

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const notesPath = "/notes/"

// ErrBadLink is returned for share links that cannot be parsed.
var ErrBadLink = errors.New("malformed share link")

// BuildLink formats the share link for a note. The key travels in the URL
// fragment, which browsers and HTTP clients never send to the server.
func BuildLink(baseURL, id string, key []byte) string {
	return strings.TrimRight(baseURL, "/") + notesPath + url.PathEscape(id) +
		"#" + base64.RawURLEncoding.EncodeToString(key)
}

// ParseLink splits a share link into its server base URL, note id and key.
func ParseLink(link string) (baseURL, id string, key []byte, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %w", ErrBadLink, err)
	}
	i := strings.LastIndex(u.Path, notesPath)
	if i < 0 || u.Scheme == "" || u.Host == "" {
		return "", "", nil, ErrBadLink
	}
	id = u.Path[i+len(notesPath):]
	if id == "" || strings.Contains(id, "/") {
		return "", "", nil, ErrBadLink
	}
	key, err = base64.RawURLEncoding.DecodeString(u.Fragment)
	if err != nil || len(key) != KeySize {
		return "", "", nil, fmt.Errorf("%w: bad key", ErrBadLink)
	}
	base := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path[:i]}
	return base.String(), id, key, nil
}

package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"testing"
)

// dummyHandler is a placeholder that records if it was called and the context it received.
type dummyHandler struct {
	called bool
	ctx    context.Context
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.called = true
	d.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

func tlsState(cn string) *tls.ConnectionState {
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: cn}}
	return &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
}

func TestCertAuth_NoCertificate(t *testing.T) {
	dummy := &dummyHandler{}
	h := CertAuth(dummy)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/notes/abc", nil)
	h.ServeHTTP(rec, req)

	if dummy.called {
		t.Error("did not expect next handler to be called when no certificate provided")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 Unauthorized, got %d", rec.Code)
	}
}

func TestCertAuth_EmptyCommonName(t *testing.T) {
	dummy := &dummyHandler{}
	h := CertAuth(dummy)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/notes", nil)
	req.TLS = tlsState("")
	h.ServeHTTP(rec, req)

	if dummy.called {
		t.Error("did not expect next handler to be called for a certificate without CN")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 Unauthorized, got %d", rec.Code)
	}
}

func TestCertAuth_ValidCertificate(t *testing.T) {
	dummy := &dummyHandler{}
	h := CertAuth(dummy)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/notes/abc", nil)
	req.TLS = tlsState("alice")
	h.ServeHTTP(rec, req)

	if !dummy.called {
		t.Error("expected next handler to be called when valid certificate provided")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 OK, got %d", rec.Code)
	}
	if user := GetUserIDFromContext(dummy.ctx); user != "alice" {
		t.Errorf("expected context user 'alice', got '%s'", user)
	}
}

func TestHeaderAuth(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"blank header", "   ", http.StatusUnauthorized, ""},
		{"present", "carol", http.StatusOK, "carol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dummy := &dummyHandler{}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/api/notes/abc", nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			HeaderAuth(dummy).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d; want %d", rec.Code, tt.wantCode)
			}
			if dummy.called != (tt.wantUser != "") {
				t.Errorf("next called = %v", dummy.called)
			}
			if dummy.called {
				if user := GetUserIDFromContext(dummy.ctx); user != tt.wantUser {
					t.Errorf("user = %q; want %q", user, tt.wantUser)
				}
			}
		})
	}
}

func TestGetUserIDFromContext(t *testing.T) {
	if empty := GetUserIDFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string for missing user, got '%s'", empty)
	}
	if val := GetUserIDFromContext(WithUserID(context.Background(), "bob")); val != "bob" {
		t.Errorf("expected 'bob', got '%s'", val)
	}
	ctx := context.WithValue(context.Background(), userKey, 42)
	if val := GetUserIDFromContext(ctx); val != "" {
		t.Errorf("expected empty string for non-string value, got '%s'", val)
	}
}

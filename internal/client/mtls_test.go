package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atinyakov/secureshare/internal/certgen"
	"github.com/atinyakov/secureshare/internal/middleware"
)

// issueClient writes a CA-signed client certificate for cn into dir.
func issueClient(t *testing.T, dir, cn string) (ca *certgen.Authority, certFile, keyFile string) {
	t.Helper()
	ca, err := certgen.NewAuthority("Test CA", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	pair, err := ca.IssueClient(cn, time.Hour)
	if err != nil {
		t.Fatalf("IssueClient: %v", err)
	}
	certFile, keyFile, err = pair.Write(dir, "client")
	if err != nil {
		t.Fatalf("write client pair: %v", err)
	}
	return ca, certFile, keyFile
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadClientCertificate_MissingFiles(t *testing.T) {
	_, err := LoadClientCertificate("nope.crt", "nope.key", "nope-ca.crt")
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected file not exist error, got %v", err)
	}
}

func TestLoadClientCertificate_InvalidCA(t *testing.T) {
	dir := t.TempDir()
	_, certFile, keyFile := issueClient(t, dir, "alice")
	caFile := filepath.Join(dir, "ca.crt")
	if err := os.WriteFile(caFile, []byte("not a pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadClientCertificate(certFile, keyFile, caFile); err == nil {
		t.Error("expected error for invalid CA file")
	}
}

func TestLoadClientCertificate_MutualTLS(t *testing.T) {
	dir := t.TempDir()
	ca, certFile, keyFile := issueClient(t, dir, "alice")

	clientCAs := x509.NewCertPool()
	clientCAs.AddCert(ca.Cert)

	var seen string
	srv := httptest.NewUnstartedServer(middleware.CertAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))
	srv.TLS = &tls.Config{ClientAuth: tls.RequireAndVerifyClientCert, ClientCAs: clientCAs}
	srv.StartTLS()
	defer srv.Close()

	serverCAFile := filepath.Join(dir, "server-ca.crt")
	writePEM(t, serverCAFile, "CERTIFICATE", srv.Certificate().Raw)

	httpClient, err := LoadClientCertificate(certFile, keyFile, serverCAFile)
	if err != nil {
		t.Fatalf("LoadClientCertificate: %v", err)
	}

	if err := New(httpClient, srv.URL).Destroy(context.Background(), "n1"); err != nil {
		t.Fatalf("request over mTLS failed: %v", err)
	}
	if seen != "alice" {
		t.Errorf("server saw identity %q; want %q", seen, "alice")
	}
}

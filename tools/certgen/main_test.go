package main

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/atinyakov/secureshare/internal/certgen"
)

func TestRun_Bootstrap(t *testing.T) {
	dir := t.TempDir()

	written, err := run(options{dir: dir, hosts: "localhost, 127.0.0.1", clients: "alice"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{"ca", "server", "client"} {
		for _, ext := range []string{".crt", ".key"} {
			if _, err := os.Stat(filepath.Join(dir, name+ext)); err != nil {
				t.Errorf("missing %s%s: %v", name, ext, err)
			}
		}
	}
	if len(written) != 6 {
		t.Errorf("written = %v; want 6 files", written)
	}

	ca, err := certgen.LoadAuthority(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	if err != nil {
		t.Fatalf("generated CA does not load: %v", err)
	}
	server, err := tls.LoadX509KeyPair(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"))
	if err != nil {
		t.Fatalf("server pair does not load: %v", err)
	}
	leaf, err := x509.ParseCertificate(server.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	roots := x509.NewCertPool()
	roots.AddCert(ca.Cert)
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: roots, DNSName: "localhost"}); err != nil {
		t.Errorf("server cert does not verify for localhost: %v", err)
	}
}

func TestRun_IssueFromExistingCA(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(options{dir: dir, hosts: "localhost", clients: "alice"}); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "more")
	written, err := run(options{
		dir:     out,
		clients: "bob,carol",
		caCert:  filepath.Join(dir, "ca.crt"),
		caKey:   filepath.Join(dir, "ca.key"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{
		filepath.Join(out, "client-bob.crt"), filepath.Join(out, "client-bob.key"),
		filepath.Join(out, "client-carol.crt"), filepath.Join(out, "client-carol.key"),
	}
	if !reflect.DeepEqual(written, want) {
		t.Errorf("written = %v; want %v", written, want)
	}
	if _, err := os.Stat(filepath.Join(out, "ca.key")); !os.IsNotExist(err) {
		t.Error("existing CA must not be rewritten")
	}
}

func TestRun_BadCA(t *testing.T) {
	if _, err := run(options{dir: t.TempDir(), caCert: "missing.crt", caKey: "missing.key"}); err == nil {
		t.Error("expected error for missing CA files")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b,")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("splitList = %v", got)
	}
	if splitList("") != nil {
		t.Error("expected nil for empty input")
	}
}

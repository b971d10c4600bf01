// Package main generates the SecureShare CA, server and client certificates,
// writing them to files under the "certs" directory.
//
// Run it once without -ca-cert to bootstrap a new CA and server certificate,
// then with -ca-cert/-ca-key to issue further client certificates.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/secureshare/internal/certgen"
)

type options struct {
	dir     string
	hosts   string
	clients string
	caCert  string
	caKey   string
}

func main() {
	var o options
	flag.StringVar(&o.dir, "dir", "certs", "output directory")
	flag.StringVar(&o.hosts, "hosts", "localhost,127.0.0.1", "comma-separated server host names and IPs")
	flag.StringVar(&o.clients, "clients", "alice", "comma-separated client common names")
	flag.StringVar(&o.caCert, "ca-cert", "", "existing CA certificate (issue clients only)")
	flag.StringVar(&o.caKey, "ca-key", "", "existing CA key")
	flag.Parse()

	written, err := run(o)
	if err != nil {
		log.Fatal(err)
	}
	for _, path := range written {
		fmt.Println("wrote", path)
	}
}

func run(o options) ([]string, error) {
	var written []string
	save := func(pair *certgen.KeyPair, name string) error {
		certPath, keyPath, err := pair.Write(o.dir, name)
		if err != nil {
			return err
		}
		written = append(written, certPath, keyPath)
		return nil
	}

	var ca *certgen.Authority
	if o.caCert != "" {
		loaded, err := certgen.LoadAuthority(o.caCert, o.caKey)
		if err != nil {
			return nil, err
		}
		ca = loaded
	} else {
		created, err := certgen.NewAuthority("SecureShare CA", certgen.CAValidity)
		if err != nil {
			return nil, err
		}
		ca = created
		caPair, err := ca.PEM()
		if err != nil {
			return nil, err
		}
		if err := save(caPair, "ca"); err != nil {
			return nil, err
		}

		server, err := ca.IssueServer(splitList(o.hosts), certgen.LeafValidity)
		if err != nil {
			return nil, err
		}
		if err := save(server, "server"); err != nil {
			return nil, err
		}
	}

	clients := splitList(o.clients)
	for _, cn := range clients {
		pair, err := ca.IssueClient(cn, certgen.LeafValidity)
		if err != nil {
			return nil, err
		}
		name := "client"
		if len(clients) > 1 {
			name = "client-" + cn
		}
		if err := save(pair, filepath.Base(name)); err != nil {
			return nil, err
		}
	}

	if len(written) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to generate")
	}
	return written, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

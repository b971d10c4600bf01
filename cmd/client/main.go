package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/atinyakov/secureshare/internal/client"
	"github.com/atinyakov/secureshare/internal/models"
)

var (
	version   string
	buildDate string
)

// main parses command-line flags and dispatches to create, preview, read or destroy.
func main() {
	var (
		cmd          string
		baseURL      string
		certFile     string
		keyFile      string
		caFile       string
		userID       string
		link         string
		expiry       int
		viewOnce     bool
		attemptLimit int
		showVer      bool
	)

	flag.StringVar(&cmd, "cmd", "", "command: create | preview | read | destroy")
	flag.StringVar(&baseURL, "url", "https://localhost:8080", "server base URL")
	flag.StringVar(&certFile, "cert", "client.crt", "path to client cert")
	flag.StringVar(&keyFile, "key", "client.key", "path to client key")
	flag.StringVar(&caFile, "ca", "certs/ca.crt", "path to CA cert")
	flag.StringVar(&userID, "user", "", "caller id for servers running with -insecure (skips client certificates)")
	flag.StringVar(&link, "link", "", "share link for preview, read and destroy")
	flag.IntVar(&expiry, "expiry", 60, "minutes until the note expires")
	flag.BoolVar(&viewOnce, "once", false, "allow a single view")
	flag.IntVar(&attemptLimit, "views", 0, "view quota (0 lets the server decide)")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("SecureShare Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	var httpClient *http.Client
	if userID == "" {
		var err error
		httpClient, err = client.LoadClientCertificate(certFile, keyFile, caFile)
		if err != nil {
			log.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, httpClient, cmd, baseURL, userID, link, expiry, viewOnce, attemptLimit); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, httpClient *http.Client, cmd, baseURL, userID, link string, expiry int, viewOnce bool, attemptLimit int) error {
	switch cmd {
	case "create", "preview", "read", "destroy":
	default:
		return fmt.Errorf("unknown command %q, use create, preview, read or destroy", cmd)
	}

	if cmd == "create" {
		plaintext, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read note from stdin: %w", err)
		}
		c := client.New(httpClient, baseURL)
		c.UserID = userID
		share, err := c.Create(ctx, plaintext, client.CreateOptions{
			ExpiryMinutes: expiry,
			ViewOnce:      viewOnce,
			AttemptLimit:  attemptLimit,
		})
		if err != nil {
			return err
		}
		fmt.Println(share.Link)
		fmt.Printf("expires %s, %d view(s)\n", share.ExpiresAt.Local().Format(time.RFC1123), share.MaxViews)
		return nil
	}

	base, id, key, err := client.ParseLink(link)
	if err != nil {
		return err
	}
	c := client.New(httpClient, base)
	c.UserID = userID

	switch cmd {
	case "preview":
		p, err := c.Preview(ctx, id)
		if err != nil {
			return describe(err)
		}
		fmt.Printf("views: %d of %d\nexpires: %s\nview once: %v\n",
			p.ViewCount, p.MaxViews, p.ExpiresAt.Local().Format(time.RFC1123), p.ViewOnce)
	case "read":
		note, err := c.Read(ctx, id, key)
		if err != nil {
			return describe(err)
		}
		_, _ = os.Stdout.Write(note.Plaintext)
		if note.ViewCount >= note.MaxViews {
			fmt.Fprintln(os.Stderr, "\nthis was the last view, the note is now destroyed")
		}
	case "destroy":
		if err := c.Destroy(ctx, id); err != nil {
			return err
		}
		fmt.Println("note deleted")
	}
	return nil
}

func describe(err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return errors.New("note not found: it was read, destroyed or never existed")
	case errors.Is(err, models.ErrExpired):
		return errors.New("note expired")
	default:
		return err
	}
}

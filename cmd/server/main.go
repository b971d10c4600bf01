// Package main initializes and starts the SecureShare server, setting up
// configuration, logging, storage, background maintenance, services,
// handlers, and TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/secureshare/internal/config"
	"github.com/atinyakov/secureshare/internal/db"
	"github.com/atinyakov/secureshare/internal/logger"
	"github.com/atinyakov/secureshare/internal/middleware"
	"github.com/atinyakov/secureshare/internal/policy"
	"github.com/atinyakov/secureshare/internal/repository"
	"github.com/atinyakov/secureshare/internal/server/handler/http"
	"github.com/atinyakov/secureshare/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

// noteStore is what every storage backend provides.
type noteStore interface {
	service.NoteRepository
	db.ExpiredSweeper
	http.Pinger
}

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, options)
	if err != nil {
		zapLogger.Fatal("cannot init storage", zap.String("backend", options.Storage), zap.Error(err))
	}
	defer closeStore()

	// Background maintenance: tombstone expired notes, then purge old tombstones.
	sweeperDone := db.StartExpirySweeper(ctx, store, options.SweepInterval.Duration, zapLogger)
	var purgerDone <-chan struct{}
	if purger, ok := store.(db.TombstonePurger); ok {
		purgerDone = db.StartTombstonePurger(ctx, purger, options.PurgeInterval.Duration, options.Retention.Duration, zapLogger)
	} else {
		// Valkey expires tombstones through key TTLs.
		purgerDone = db.StartTombstonePurger(ctx, nil, options.PurgeInterval.Duration, 0, zapLogger)
	}

	noteService := service.NewNoteService(store,
		service.WithPolicy(policy.Policy{
			DefaultMaxViews: options.DefaultMaxViews,
			MaxTTL:          options.MaxTTL.Duration,
		}),
		service.WithRetries(uint64(options.StoreRetries), service.DefaultRetryDelay),
		service.WithLogger(zapLogger),
	)

	noteHandler := &http.NoteHandler{NoteService: noteService, Logger: zapLogger}
	healthHandler := &http.HealthHandler{Version: cmp.Or(version, "N/A"), Store: store}

	auth := middleware.CertAuth
	if options.TLSDisabled {
		zapLogger.Warn("TLS disabled, trusting the X-User-ID header for caller identity")
		auth = middleware.HeaderAuth
	}

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           http.NewRouter(noteHandler, healthHandler, auth, zapLogger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if options.TLSDisabled {
			zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
			serveErr <- server.ListenAndServe()
			return
		}
		tlsConfig, err := serverTLSConfig(options)
		if err != nil {
			serveErr <- err
			return
		}
		server.TLSConfig = tlsConfig
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
		serveErr <- server.ListenAndServeTLS("", "")
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Error("server stopped", zap.Error(err))
		}
		stop()
	case <-ctx.Done():
		zapLogger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("graceful shutdown failed", zap.Error(err))
	}
	<-sweeperDone
	<-purgerDone
}

// openStore connects the configured backend and returns it with a close func.
func openStore(ctx context.Context, options *config.Options) (noteStore, func(), error) {
	switch options.Storage {
	case config.StoragePostgres:
		postgresDB, err := db.InitPostgres(ctx, options.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresNoteRepository(postgresDB), func() { _ = postgresDB.Close() }, nil
	case config.StorageValkey:
		client, err := repository.NewValkeyClient(options.ValkeyAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("connect valkey: %w", err)
		}
		return repository.NewValkeyNoteRepository(client, options.Retention.Duration), client.Close, nil
	case config.StorageMemory:
		return repository.NewMemoryNoteRepository(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", options.Storage)
	}
}

// serverTLSConfig loads the server key pair and the CA that signs client
// certificates.
func serverTLSConfig(options *config.Options) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(options.TLSCert, options.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load server TLS cert/key: %w", err)
	}

	caCert, err := os.ReadFile(options.TLSCA)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		return nil, errors.New("failed to append CA cert to pool")
	}

	// Health checks stay reachable without a certificate; CertAuth rejects
	// notes requests that lack one.
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Package config provides functionality for managing configuration options
// for the application using command-line flags, a JSON file and environment
// variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SECURESHARE_"

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageValkey   = "valkey"
	StorageMemory   = "memory"
)

// Duration is a time.Duration that reads "90s"-style strings from flags,
// JSON and the environment.
type Duration struct {
	time.Duration
}

// Set implements flag.Value.
func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	return d.Set(string(b))
}

// UnmarshalJSON accepts a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1m\": %w", err)
	}
	return d.Set(s)
}

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"address" env:"ADDRESS"`

	// Storage selects the backend: postgres, valkey or memory.
	Storage string `json:"storage" env:"STORAGE"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn" env:"DATABASE_DSN"`

	// ValkeyAddr is the host:port of the Valkey server.
	ValkeyAddr string `json:"valkey_addr" env:"VALKEY_ADDR"`

	SweepInterval Duration `json:"sweep_interval" env:"SWEEP_INTERVAL"`
	PurgeInterval Duration `json:"purge_interval" env:"PURGE_INTERVAL"`
	// Retention is how long tombstones are kept. Zero keeps them forever.
	Retention Duration `json:"retention" env:"RETENTION"`

	DefaultMaxViews int      `json:"default_max_views" env:"DEFAULT_MAX_VIEWS"`
	MaxTTL          Duration `json:"max_ttl" env:"MAX_TTL"`
	StoreRetries    uint     `json:"store_retries" env:"STORE_RETRIES"`

	TLSCert     string `json:"tls_cert" env:"TLS_CERT"`
	TLSKey      string `json:"tls_key" env:"TLS_KEY"`
	TLSCA       string `json:"tls_ca" env:"TLS_CA"`
	TLSDisabled bool   `json:"tls_disabled" env:"TLS_DISABLED"`

	LogLevel string `json:"log_level" env:"LOG_LEVEL"`

	// Config is the path to the Config file.
	Config string `json:"-"`
}

// ParseArgs builds Options from defaults, then args, then the JSON config
// file, then environ. Later sources override earlier ones.
func ParseArgs(args []string, environ map[string]string) (*Options, error) {
	o := &Options{
		SweepInterval: Duration{time.Minute},
		PurgeInterval: Duration{time.Hour},
		Retention:     Duration{30 * 24 * time.Hour},
		MaxTTL:        Duration{7 * 24 * time.Hour},
	}

	fs := flag.NewFlagSet("secureshare", flag.ContinueOnError)
	fs.StringVar(&o.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&o.Storage, "storage", StoragePostgres, "storage backend: postgres, valkey or memory")
	fs.StringVar(&o.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&o.ValkeyAddr, "valkey", "localhost:6379", "valkey address")
	fs.Var(&o.SweepInterval, "sweep-interval", "how often expired notes are tombstoned")
	fs.Var(&o.PurgeInterval, "purge-interval", "how often old tombstones are removed")
	fs.Var(&o.Retention, "retention", "how long tombstones are kept, 0 keeps them")
	fs.IntVar(&o.DefaultMaxViews, "default-max-views", 100, "view quota when none is requested")
	fs.Var(&o.MaxTTL, "max-ttl", "longest allowed note lifetime")
	fs.UintVar(&o.StoreRetries, "retries", 3, "retries for transient storage failures")
	fs.StringVar(&o.TLSCert, "tls-cert", "certs/server.crt", "server certificate")
	fs.StringVar(&o.TLSKey, "tls-key", "certs/server.key", "server private key")
	fs.StringVar(&o.TLSCA, "tls-ca", "certs/ca.crt", "CA used to verify client certificates")
	fs.BoolVar(&o.TLSDisabled, "insecure", false, "serve plain HTTP and trust X-User-ID (development only)")
	fs.StringVar(&o.LogLevel, "log-level", "info", "log level")
	fs.StringVar(&o.Config, "config", "config.json", "path to config file")
	fs.StringVar(&o.Config, "c", "config.json", "path to config file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath := environ["CONFIG"]; configPath != "" {
		o.Config = configPath
	}

	if o.Config != "" {
		data, err := os.ReadFile(o.Config)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error while reading config file: %w", err)
		default:
			if err := json.Unmarshal(data, o); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("error while parsing environment: %w", err)
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate reports the first inconsistent option.
func (o *Options) Validate() error {
	switch o.Storage {
	case StoragePostgres:
		if o.DatabaseDSN == "" {
			return errors.New("postgres storage requires a database DSN")
		}
	case StorageValkey:
		if o.ValkeyAddr == "" {
			return errors.New("valkey storage requires an address")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", o.Storage)
	}
	if o.SweepInterval.Duration <= 0 || o.PurgeInterval.Duration <= 0 {
		return errors.New("sweep and purge intervals must be positive")
	}
	if o.Retention.Duration < 0 {
		return errors.New("retention must not be negative")
	}
	if o.DefaultMaxViews <= 0 {
		return errors.New("default max views must be positive")
	}
	if o.MaxTTL.Duration <= 0 {
		return errors.New("max ttl must be positive")
	}
	return nil
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct containing
// the parsed configuration values.
func Parse() *Options {
	options, err := ParseArgs(os.Args[1:], env.ToMap(os.Environ()))
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return options
}

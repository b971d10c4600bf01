package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noConfig() []string {
	return []string{"-c", ""}
}

func TestParseArgs_Defaults(t *testing.T) {
	o, err := ParseArgs(append(noConfig(), "-storage", "memory"), map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", o.Port)
	assert.Equal(t, StorageMemory, o.Storage)
	assert.Equal(t, time.Minute, o.SweepInterval.Duration)
	assert.Equal(t, time.Hour, o.PurgeInterval.Duration)
	assert.Equal(t, 30*24*time.Hour, o.Retention.Duration)
	assert.Equal(t, 7*24*time.Hour, o.MaxTTL.Duration)
	assert.Equal(t, 100, o.DefaultMaxViews)
	assert.Equal(t, uint(3), o.StoreRetries)
	assert.Equal(t, "certs/server.crt", o.TLSCert)
	assert.False(t, o.TLSDisabled)
}

func TestParseArgs_Flags(t *testing.T) {
	o, err := ParseArgs(append(noConfig(),
		"-a", ":9000",
		"-d", "postgres://u:p@db/notes",
		"-sweep-interval", "30s",
		"-retention", "0",
		"-retries", "5",
		"-insecure",
	), map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":9000", o.Port)
	assert.Equal(t, StoragePostgres, o.Storage)
	assert.Equal(t, "postgres://u:p@db/notes", o.DatabaseDSN)
	assert.Equal(t, 30*time.Second, o.SweepInterval.Duration)
	assert.Equal(t, time.Duration(0), o.Retention.Duration)
	assert.Equal(t, uint(5), o.StoreRetries)
	assert.True(t, o.TLSDisabled)
}

func TestParseArgs_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"address": ":7000",
		"storage": "valkey",
		"valkey_addr": "cache:6379",
		"sweep_interval": "2m",
		"default_max_views": 10
	}`), 0o600))

	o, err := ParseArgs([]string{"-a", ":6000"}, map[string]string{
		"CONFIG":                       path,
		"SECURESHARE_ADDRESS":          ":8443",
		"SECURESHARE_MAX_TTL":          "24h",
		"SECURESHARE_DEFAULT_MAX_VIEWS": "20",
	})
	require.NoError(t, err)

	assert.Equal(t, ":8443", o.Port, "environment overrides file and flags")
	assert.Equal(t, StorageValkey, o.Storage)
	assert.Equal(t, "cache:6379", o.ValkeyAddr)
	assert.Equal(t, 2*time.Minute, o.SweepInterval.Duration)
	assert.Equal(t, 24*time.Hour, o.MaxTTL.Duration)
	assert.Equal(t, 20, o.DefaultMaxViews)
}

func TestParseArgs_Errors(t *testing.T) {
	badJSON := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte(`{"sweep_interval": 60}`), 0o600))

	tests := []struct {
		name    string
		args    []string
		environ map[string]string
	}{
		{"postgres without dsn", noConfig(), map[string]string{}},
		{"unknown backend", append(noConfig(), "-storage", "mysql"), map[string]string{}},
		{"bad flag duration", append(noConfig(), "-storage", "memory", "-max-ttl", "forever"), map[string]string{}},
		{"bad env duration", append(noConfig(), "-storage", "memory"), map[string]string{"SECURESHARE_SWEEP_INTERVAL": "soon"}},
		{"numeric json duration", []string{"-c", badJSON, "-storage", "memory"}, map[string]string{}},
		{"zero interval", append(noConfig(), "-storage", "memory", "-purge-interval", "0s"), map[string]string{}},
		{"negative retention", append(noConfig(), "-storage", "memory", "-retention", "-1h"), map[string]string{}},
		{"zero max views", append(noConfig(), "-storage", "memory", "-default-max-views", "0"), map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args, tt.environ)
			assert.Error(t, err)
		})
	}
}

func TestParseArgs_MissingConfigFileIsIgnored(t *testing.T) {
	o, err := ParseArgs([]string{"-c", filepath.Join(t.TempDir(), "absent.json"), "-storage", "memory"}, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, o.Storage)
}

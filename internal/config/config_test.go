package config

import (
	"os"
	"testing"
	"time"
)

var allEnvVars = []string{
	"LT_DATABASE_URL", "LT_STORE", "LT_NATS_URL", "LT_METRICS_ADDR",
	"LT_EVENT_BATCH_SIZE", "LT_EVENT_FLUSH_INTERVAL", "LT_SHUTDOWN_TIMEOUT",
	"LT_SESSION_IDLE_TIMEOUT",
	"LT_ARCHIVE_INTERVAL", "LT_ARCHIVE_S3_BUCKET", "LT_ARCHIVE_S3_ENDPOINT",
	"LT_ARCHIVE_S3_REGION", "LT_ARCHIVE_S3_PREFIX", "LT_ARCHIVE_DIR", "LT_RETENTION",
	"LT_ARCHIVE_COMPRESSION",
}

// clearAllEnv unsets every LT_ variable for the duration of the test.
func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name      string
		env       map[string]string
		wantErr   bool
		wantStore string
		wantNATS  string
		wantBatch int
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:      "Defaults",
			env:       map[string]string{"LT_DATABASE_URL": "postgres://localhost/learnertrace"},
			wantStore: StorePostgres,
			wantBatch: 50,
		},
		{
			name:      "MemoryStoreNeedsNoDatabase",
			env:       map[string]string{"LT_STORE": "memory"},
			wantStore: StoreMemory,
			wantBatch: 50,
		},
		{
			name:    "UnknownStore",
			env:     map[string]string{"LT_STORE": "mongodb"},
			wantErr: true,
		},
		{
			name: "Custom",
			env: map[string]string{
				"LT_DATABASE_URL":     "postgres://db:5432/learnertrace",
				"LT_NATS_URL":         "nats://localhost:4222",
				"LT_EVENT_BATCH_SIZE": "200",
			},
			wantStore: StorePostgres,
			wantNATS:  "nats://localhost:4222",
			wantBatch: 200,
		},
		{
			name:    "BadBatchSize",
			env:     map[string]string{"LT_STORE": "memory", "LT_EVENT_BATCH_SIZE": "lots"},
			wantErr: true,
		},
		{
			name:    "ZeroBatchSize",
			env:     map[string]string{"LT_STORE": "memory", "LT_EVENT_BATCH_SIZE": "0"},
			wantErr: true,
		},
		{
			name:    "BadFlushInterval",
			env:     map[string]string{"LT_STORE": "memory", "LT_EVENT_FLUSH_INTERVAL": "soon"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Store != tc.wantStore {
				t.Errorf("Store = %q, want %q", cfg.Store, tc.wantStore)
			}
			if cfg.NATSURL != tc.wantNATS {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATS)
			}
			if cfg.BatchSize != tc.wantBatch {
				t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, tc.wantBatch)
			}
		})
	}
}

func TestLoad_PipelineDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("LT_STORE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 30m", cfg.SessionIdleTimeout)
	}
	if cfg.MetricsAddr != ":9102" {
		t.Errorf("MetricsAddr = %q, want :9102", cfg.MetricsAddr)
	}
	if cfg.Retention != 8760*time.Hour {
		t.Errorf("Retention = %v, want 8760h", cfg.Retention)
	}
}

func TestLoad_MetricsDisabled(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("LT_STORE", "memory")
	t.Setenv("LT_METRICS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want disabled", cfg.MetricsAddr)
	}
}

func TestLoad_Archive(t *testing.T) {
	for _, tc := range []struct {
		name        string
		env         map[string]string
		wantEnabled bool
		wantErr     bool
	}{
		{
			name: "DisabledByDefault",
			env:  map[string]string{"LT_ARCHIVE_S3_BUCKET": "research"},
		},
		{
			name:        "S3",
			env:         map[string]string{"LT_ARCHIVE_INTERVAL": "1h", "LT_ARCHIVE_S3_BUCKET": "research"},
			wantEnabled: true,
		},
		{
			name:        "Dir",
			env:         map[string]string{"LT_ARCHIVE_INTERVAL": "15m", "LT_ARCHIVE_DIR": "/var/lib/learnertrace"},
			wantEnabled: true,
		},
		{
			name: "IntervalWithoutDestination",
			env:  map[string]string{"LT_ARCHIVE_INTERVAL": "1h"},
		},
		{
			name:    "BadInterval",
			env:     map[string]string{"LT_ARCHIVE_INTERVAL": "hourly"},
			wantErr: true,
		},
		{
			name:        "Snappy",
			env:         map[string]string{"LT_ARCHIVE_INTERVAL": "1h", "LT_ARCHIVE_DIR": "/tmp/a", "LT_ARCHIVE_COMPRESSION": "snappy"},
			wantEnabled: true,
		},
		{
			name:    "UnknownCompression",
			env:     map[string]string{"LT_ARCHIVE_COMPRESSION": "zstd"},
			wantErr: true,
		},
		{
			name:    "BadRetention",
			env:     map[string]string{"LT_RETENTION": "1y"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv("LT_STORE", "memory")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := cfg.ArchiveEnabled(); got != tc.wantEnabled {
				t.Errorf("ArchiveEnabled = %v, want %v", got, tc.wantEnabled)
			}
			if cfg.ArchiveS3Region != "us-east-1" || cfg.ArchiveS3Prefix != "research-events/" {
				t.Errorf("S3 defaults = %q, %q", cfg.ArchiveS3Region, cfg.ArchiveS3Prefix)
			}
		})
	}
}

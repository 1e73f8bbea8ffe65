package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	DatabaseURL string // LT_DATABASE_URL (required for the postgres store)
	Store       string // LT_STORE (default "postgres"; "memory" keeps events in process)
	NATSURL     string // LT_NATS_URL (optional, empty = no NATS ingestion or notifications)
	MetricsAddr string // LT_METRICS_ADDR (default ":9102"; empty = disabled)

	// Pipeline settings
	BatchSize       int           // LT_EVENT_BATCH_SIZE (default 50)
	FlushInterval   time.Duration // LT_EVENT_FLUSH_INTERVAL (default 5s)
	ShutdownTimeout time.Duration // LT_SHUTDOWN_TIMEOUT (default 10s)

	SessionIdleTimeout time.Duration // LT_SESSION_IDLE_TIMEOUT (default 30m)

	// Archive settings
	ArchiveInterval   time.Duration // LT_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveS3Bucket   string        // LT_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // LT_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // LT_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // LT_ARCHIVE_S3_PREFIX (default "research-events/")
	ArchiveDir        string        // LT_ARCHIVE_DIR (enables the local directory destination when set)
	ArchiveCompress   string        // LT_ARCHIVE_COMPRESSION ("" or "snappy")
	Retention         time.Duration // LT_RETENTION (default 8760h; 0 = keep forever)
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("LT_DATABASE_URL"),
		Store:             envOrDefault("LT_STORE", StorePostgres),
		NATSURL:           os.Getenv("LT_NATS_URL"),
		MetricsAddr:       envOrDefault("LT_METRICS_ADDR", ":9102"),
		ArchiveS3Bucket:   os.Getenv("LT_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("LT_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("LT_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   envOrDefault("LT_ARCHIVE_S3_PREFIX", "research-events/"),
		ArchiveDir:        os.Getenv("LT_ARCHIVE_DIR"),
		ArchiveCompress:   os.Getenv("LT_ARCHIVE_COMPRESSION"),
	}
	if v, ok := os.LookupEnv("LT_METRICS_ADDR"); ok && v == "" {
		c.MetricsAddr = ""
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("LT_DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("LT_STORE: unknown store %q", c.Store)
	}

	switch c.ArchiveCompress {
	case "", "snappy":
	default:
		return nil, fmt.Errorf("LT_ARCHIVE_COMPRESSION: unknown codec %q", c.ArchiveCompress)
	}

	var err error
	if c.BatchSize, err = envInt("LT_EVENT_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("LT_EVENT_BATCH_SIZE: must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval, err = envDuration("LT_EVENT_FLUSH_INTERVAL", "5s"); err != nil {
		return nil, err
	}
	if c.FlushInterval <= 0 {
		return nil, fmt.Errorf("LT_EVENT_FLUSH_INTERVAL: must be positive, got %s", c.FlushInterval)
	}
	if c.ShutdownTimeout, err = envDuration("LT_SHUTDOWN_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if c.SessionIdleTimeout, err = envDuration("LT_SESSION_IDLE_TIMEOUT", "30m"); err != nil {
		return nil, err
	}
	if c.ArchiveInterval, err = envDuration("LT_ARCHIVE_INTERVAL", ""); err != nil {
		return nil, err
	}
	if c.Retention, err = envDuration("LT_RETENTION", "8760h"); err != nil {
		return nil, err
	}

	return c, nil
}

// ArchiveEnabled reports whether the archive scheduler should run.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveInterval > 0 && (c.ArchiveS3Bucket != "" || c.ArchiveDir != "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key, fallback string) (time.Duration, error) {
	v := envOrDefault(key, fallback)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

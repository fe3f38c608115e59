// Package config holds the engine's tunables: persistence location,
// write log and pending-write capacities, MVCC retention, cache sizing,
// and the transaction deadline, loaded from a TOML file the way a
// PD-style scheduler component loads its own settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/latticedb/core/log"
)

// Config is the full set of knobs the server reads at startup.
type Config struct {
	// DBPath is the directory persistence opens its Badger instance in.
	// Must exist and be writable.
	DBPath string `toml:"db_path"`

	// LogLevel is one of fatal, error, warn (or warning), info, debug,
	// matched case-sensitively; any other string enables every level.
	LogLevel string `toml:"log_level"`

	// WriteLogCapacity bounds how many recent commits the in-memory write
	// log ring keeps before overwriting its oldest entry.
	WriteLogCapacity int `toml:"write_log_capacity"`

	// MvccRetention is how long a committed revision stays readable by a
	// transaction begun at an older timestamp before SnapshotTooOld
	// applies.
	MvccRetention time.Duration `toml:"mvcc_retention"`

	// PendingHighWater is the number of pending (staged-but-not-yet-
	// persisted) writes the committer allows to queue before it applies
	// backpressure to new commit submissions.
	PendingHighWater int `toml:"pending_high_water"`

	// CacheCapacityBytes bounds the query cache's resident size.
	CacheCapacityBytes int64 `toml:"cache_capacity_bytes"`

	// TransactionDeadline is how long a transaction may stay open before
	// commit submission is refused with TransactionTimeout.
	TransactionDeadline time.Duration `toml:"transaction_deadline"`

	// MetricsAddr, if non-empty, is the address the Prometheus handler
	// listens on.
	MetricsAddr string `toml:"metrics_addr"`
}

// Validate rejects configurations the committer or storage driver could
// not run safely with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must be set")
	}
	if c.WriteLogCapacity <= 0 {
		return fmt.Errorf("write_log_capacity must be greater than 0")
	}
	if c.PendingHighWater <= 0 {
		return fmt.Errorf("pending_high_water must be greater than 0")
	}
	if c.MvccRetention <= 0 {
		return fmt.Errorf("mvcc_retention must be greater than 0")
	}
	if c.TransactionDeadline <= 0 {
		return fmt.Errorf("transaction_deadline must be greater than 0")
	}
	if c.CacheCapacityBytes < 0 {
		return fmt.Errorf("cache_capacity_bytes must not be negative")
	}
	return nil
}

func getLogLevel() string {
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		return l
	}
	return "info"
}

// NewDefaultConfig returns the settings a standalone server starts with
// absent a config file.
func NewDefaultConfig() *Config {
	return &Config{
		DBPath:              "/tmp/latticedb",
		LogLevel:            getLogLevel(),
		WriteLogCapacity:    4096,
		MvccRetention:       10 * time.Minute,
		PendingHighWater:    1024,
		CacheCapacityBytes:  64 * MB,
		TransactionDeadline: 30 * time.Second,
		MetricsAddr:         ":9090",
	}
}

// NewTestConfig returns settings tuned for fast, deterministic tests:
// small capacities so overflow/backpressure paths are easy to exercise,
// short retention so SnapshotTooOld is reachable without waiting.
func NewTestConfig() *Config {
	return &Config{
		DBPath:              "/tmp/latticedb-test",
		LogLevel:            getLogLevel(),
		WriteLogCapacity:    64,
		MvccRetention:       100 * time.Millisecond,
		PendingHighWater:    16,
		CacheCapacityBytes:  1 * MB,
		TransactionDeadline: time.Second,
	}
}

// Load reads and validates a TOML config file at path, filling any
// field absent from the file with NewDefaultConfig's value.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Infof("loaded config from %s", path)
	return cfg, nil
}

const (
	KB int64 = 1024
	MB       = 1024 * KB
)

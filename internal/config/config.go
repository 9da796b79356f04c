// Package config loads the job executor's runtime configuration from
// environment variables. No third-party config library appears anywhere
// in the retrieved example pack (no viper/envconfig import occurs in any
// example repo's go.mod), so this one ambient concern stays on the
// standard library, matching the pack's own texture rather than inventing
// a dependency the corpus never reaches for.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-derived setting the composition root
// needs to wire stores, the queue, the event bus, and the supervisor pool.
type Config struct {
	// MongoURI is the connection string for the Catalog/Run/File stores.
	// Empty selects the in-memory store implementations.
	MongoURI string
	// MongoDatabase is the database name used for all collections.
	MongoDatabase string
	// RedisAddr is the address of the Redis instance backing the Event
	// Bus. Empty selects the in-memory fan-out implementation.
	RedisAddr string
	// WorkDirRoot is the filesystem root under which per-run working
	// directories are created (spec: "<tmp>/<run_id>").
	WorkDirRoot string
	// BlobRoot is the filesystem root of the content-addressed file area.
	BlobRoot string
	// SandboxRoot is the filesystem root under which per-tool sandbox
	// directories are materialised.
	SandboxRoot string
	// WorkerCount is the number of concurrent run slots (one worker
	// goroutine per slot).
	WorkerCount int
	// CancelPollInterval is how often the Supervisor reloads a running
	// Run's status to detect cancellation. Defaults to 1s per spec.
	CancelPollInterval time.Duration
	// CancelGracePeriod is how long the Supervisor waits after SIGTERM
	// before escalating to SIGKILL. Defaults to 3s per spec.
	CancelGracePeriod time.Duration
}

// defaults mirror the spec's stated default polling cadence (§4.D.2 step
// 8, §5: "once per second ... 3-second grace period").
const (
	defaultCancelPoll  = time.Second
	defaultCancelGrace = 3 * time.Second
	defaultWorkerCount = 4
)

// Load reads configuration from the process environment, applying defaults
// for anything left unset.
func Load() (Config, error) {
	cfg := Config{
		MongoURI:           os.Getenv("TOOLRUN_MONGO_URI"),
		MongoDatabase:      envOr("TOOLRUN_MONGO_DB", "toolrun"),
		RedisAddr:          os.Getenv("TOOLRUN_REDIS_ADDR"),
		WorkDirRoot:        envOr("TOOLRUN_WORKDIR_ROOT", "/tmp/toolrun/runs"),
		BlobRoot:           envOr("TOOLRUN_BLOB_ROOT", "/tmp/toolrun/blobs"),
		SandboxRoot:        envOr("TOOLRUN_SANDBOX_ROOT", "/tmp/toolrun/sandboxes"),
		WorkerCount:        defaultWorkerCount,
		CancelPollInterval: defaultCancelPoll,
		CancelGracePeriod:  defaultCancelGrace,
	}
	if v := os.Getenv("TOOLRUN_WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TOOLRUN_WORKER_COUNT: %w", err)
		}
		cfg.WorkerCount = n
	}
	if v := os.Getenv("TOOLRUN_CANCEL_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TOOLRUN_CANCEL_POLL_INTERVAL: %w", err)
		}
		cfg.CancelPollInterval = d
	}
	if v := os.Getenv("TOOLRUN_CANCEL_GRACE_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TOOLRUN_CANCEL_GRACE_PERIOD: %w", err)
		}
		cfg.CancelGracePeriod = d
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

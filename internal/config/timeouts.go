// Package config holds runtime tunables for the publishing pipeline.
package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timeout and limit values.
// These values can be customized via environment variables.
type Timeouts struct {
	PollInterval       time.Duration // Interval between provider state polls
	UploadWait         time.Duration // Timeout for snapshot upload completion
	RegisterWait       time.Duration // Timeout for waiting for image availability
	CopyWait           time.Duration // Timeout for cross-region snapshot copies
	RetryMaxAttempts   int           // Maximum number of retries for transient errors
	RetryInitialDelay  time.Duration // Initial delay between retries
	ReplicaConcurrency int           // Maximum replica regions processed in parallel
	UploadConcurrency  int           // Maximum snapshot blocks uploaded in parallel
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - AMIPUB_POLL_INTERVAL (default: 5s)
//   - AMIPUB_TIMEOUT_UPLOAD (default: 20m)
//   - AMIPUB_TIMEOUT_REGISTER (default: 20m)
//   - AMIPUB_TIMEOUT_COPY (default: 30m)
//   - AMIPUB_RETRY_MAX_ATTEMPTS (default: 5)
//   - AMIPUB_RETRY_INITIAL_DELAY (default: 1s)
//   - AMIPUB_REPLICA_CONCURRENCY (default: 4)
//   - AMIPUB_UPLOAD_CONCURRENCY (default: 8)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		PollInterval:       parseDuration("AMIPUB_POLL_INTERVAL", 5*time.Second),
		UploadWait:         parseDuration("AMIPUB_TIMEOUT_UPLOAD", 20*time.Minute),
		RegisterWait:       parseDuration("AMIPUB_TIMEOUT_REGISTER", 20*time.Minute),
		CopyWait:           parseDuration("AMIPUB_TIMEOUT_COPY", 30*time.Minute),
		RetryMaxAttempts:   parseInt("AMIPUB_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay:  parseDuration("AMIPUB_RETRY_INITIAL_DELAY", 1*time.Second),
		ReplicaConcurrency: parseInt("AMIPUB_REPLICA_CONCURRENCY", 4),
		UploadConcurrency:  parseInt("AMIPUB_UPLOAD_CONCURRENCY", 8),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return i
}

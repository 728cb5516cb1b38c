package errors

import (
	"context"
	"strings"
	"time"
)

// IsTransient reports whether err looks like a temporary infrastructure
// failure worth retrying, such as a registry timeout during an image pull.
// Validation, configuration, permission and security errors are never
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) || IsConfiguration(err) || IsPermissionDenied(err) || IsSecurity(err) {
		return false
	}

	lower := strings.ToLower(err.Error())
	patterns := []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"temporary failure",
		"tls handshake",
		"i/o timeout",
		"service unavailable",
		"too many requests",
	}
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// RetryConfig controls the Retry helper.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryConfig is tuned for container runtime calls (image pulls,
// container starts) where a couple of retries cover most registry hiccups.
var DefaultRetryConfig = RetryConfig{MaxAttempts: 3, Backoff: 2 * time.Second}

// Retry runs fn up to cfg.MaxAttempts times, sleeping cfg.Backoff between
// attempts, retrying only transient failures. The last error is returned
// unchanged so callers can still classify it.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		last = fn()
		if last == nil {
			return nil
		}
		if !IsTransient(last) || attempt == cfg.MaxAttempts {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(cfg.Backoff):
		}
	}
	return last
}

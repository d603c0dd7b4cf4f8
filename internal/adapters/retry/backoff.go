// Package retry provides exponential backoff for calls to the capability
// provider and other remote backends.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
	Multiplier      float64
}

// CapabilityConfig tunes backoff for provider calls, which sit on the
// retrieval path and cannot afford the long intervals a batch job could.
func CapabilityConfig() Config {
	return Config{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxAttempts:     3,
		Multiplier:      2.0,
	}
}

func DefaultConfig() Config {
	return Config{
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     3,
		Multiplier:      2.0,
	}
}

// Retryable reports whether the error is transient. Context cancellation
// is never retried; the caller has given up.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// NXDOMAIN is definitive.
		return !dnsErr.IsNotFound
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.EPIPE)
	}

	return false
}

func RetryableStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode == http.StatusRequestTimeout:
		return true
	case statusCode >= 500 && statusCode < 600:
		return true
	}
	return false
}

// Do runs fn with exponential backoff until it succeeds, returns a
// non-retryable error, or attempts are exhausted.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	interval := cfg.InitialInterval

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) {
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * cfg.Multiplier)
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}

	return fmt.Errorf("exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoHTTP is Do for HTTP calls, where a non-2xx status without a transport
// error also decides retryability.
func DoHTTP(ctx context.Context, cfg Config, fn func() (int, error)) error {
	var lastErr error
	var lastStatus int
	interval := cfg.InitialInterval

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		statusCode, err := fn()
		lastStatus = statusCode
		lastErr = err

		if err == nil && statusCode >= 200 && statusCode < 300 {
			return nil
		}

		retryable := false
		if err != nil {
			retryable = Retryable(err)
		} else if statusCode > 0 {
			retryable = RetryableStatus(statusCode)
		}
		if !retryable {
			if err != nil {
				return fmt.Errorf("attempt %d (status %d): %w", attempt, statusCode, err)
			}
			return fmt.Errorf("status %d on attempt %d", statusCode, attempt)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * cfg.Multiplier)
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}

	if lastErr != nil {
		return fmt.Errorf("exhausted %d attempts (status %d): %w", cfg.MaxAttempts, lastStatus, lastErr)
	}
	return fmt.Errorf("exhausted %d attempts with status %d", cfg.MaxAttempts, lastStatus)
}

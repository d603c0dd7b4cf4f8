package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxAttempts:     3,
		Multiplier:      2.0,
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain error", errors.New("boom"), false},
		{"conn refused", &net.OpError{Err: syscall.ECONNREFUSED}, true},
		{"conn reset", &net.OpError{Err: syscall.ECONNRESET}, true},
		{"broken pipe", &net.OpError{Err: syscall.EPIPE}, true},
		{"dns transient", &net.DNSError{IsNotFound: false}, true},
		{"dns nxdomain", &net.DNSError{IsNotFound: true}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryableTimeoutNetError(t *testing.T) {
	var err net.Error = &net.DNSError{IsTimeout: true}
	if !Retryable(err) {
		t.Error("net timeouts are retryable")
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout, 500, 502, 503} {
		if !RetryableStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 404, 422} {
		if RetryableStatus(code) {
			t.Errorf("status %d should not be retryable", code)
		}
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return &net.OpError{Err: syscall.ECONNREFUSED}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	fatal := errors.New("bad request")
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("non-retryable errors must not be retried, got %d attempts", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return &net.OpError{Err: syscall.ECONNRESET}
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoHonorsContextBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, Config{
		InitialInterval: time.Minute,
		MaxInterval:     time.Minute,
		MaxAttempts:     3,
		Multiplier:      2.0,
	}, func() error {
		attempts++
		cancel()
		return &net.OpError{Err: syscall.ECONNREFUSED}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("must stop waiting once cancelled, got %d attempts", attempts)
	}
}

func TestDoHTTPRetriesOnServerError(t *testing.T) {
	attempts := 0
	err := DoHTTP(context.Background(), fastConfig(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return http.StatusBadGateway, nil
		}
		return http.StatusOK, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoHTTPStopsOnClientError(t *testing.T) {
	attempts := 0
	err := DoHTTP(context.Background(), fastConfig(), func() (int, error) {
		attempts++
		return http.StatusUnauthorized, nil
	})
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if attempts != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", attempts)
	}
}

func TestDoHTTPExhaustsOnPersistentOverload(t *testing.T) {
	attempts := 0
	err := DoHTTP(context.Background(), fastConfig(), func() (int, error) {
		attempts++
		return http.StatusTooManyRequests, nil
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

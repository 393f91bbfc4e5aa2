package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RetryConfig holds retry and reliability configuration for backend
// API calls.
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 3)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-request timeout (default: 60s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	// MaxConcurrentCalls caps in-flight API calls (default: 4, 0 = unlimited).
	// One analysis can dispatch a request per dirty block, so an unbounded
	// fan-out would hit provider rate limits on large documents.
	MaxConcurrentCalls int

	// RequestsPerSecond rate-limits dispatches (default: 2, 0 = unlimited).
	RequestsPerSecond float64
}

// DefaultRetryConfig returns the default reliability configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               60 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    4,
		RequestsPerSecond:     2,
	}
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker blocks requests after repeated backend failures so a
// struggling provider is not hammered by every dirty block.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
	}
}

// Allow reports whether a request may proceed. Returns ErrCircuitOpen
// while the circuit is open and the open timeout has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			slog.Info("circuit breaker half-open, probing for recovery")
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess notes a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.successCount = 0
			slog.Info("circuit breaker closed")
		}
	}
}

// RecordFailure notes a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = CircuitOpen
			cb.successCount = 0
			slog.Warn("circuit breaker opened", "failures", cb.failureCount, "reopen_in", cb.openTimeout)
		}
	case CircuitHalfOpen:
		// Any failure in half-open immediately reopens the circuit.
		cb.state = CircuitOpen
		cb.successCount = 0
	}
}

// State returns the current state (for testing/monitoring).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transport bundles the reliability machinery shared by all backends:
// retry with exponential backoff, per-attempt timeout, circuit breaker,
// concurrency cap, and request rate limiting.
type transport struct {
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func newTransport(cfg RetryConfig) *transport {
	if cfg.MaxRetries == 0 {
		cfg = DefaultRetryConfig()
	}
	t := &transport{retry: cfg}
	if cfg.CircuitBreakerEnabled {
		t.breaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout)
	}
	if cfg.MaxConcurrentCalls > 0 {
		t.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	if cfg.RequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return t
}

// do executes fn with the full reliability stack.
func (t *transport) do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if t.sem != nil {
		if err := t.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire concurrency slot for %s: %w", operation, err)
		}
		defer t.sem.Release(1)
	}

	var lastErr error
	backoff := t.retry.InitialBackoff

	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		if t.breaker != nil {
			if err := t.breaker.Allow(); err != nil {
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, t.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if t.breaker != nil {
				t.breaker.RecordSuccess()
			}
			if attempt > 0 {
				slog.Info("provider call succeeded after retries", "operation", operation, "retries", attempt)
			}
			return nil
		}
		lastErr = err

		// Non-retriable errors (auth failures and the like) should neither
		// trip the breaker nor burn retry attempts.
		if !isRetriableError(err) {
			return err
		}
		if t.breaker != nil {
			t.breaker.RecordFailure()
		}
		if attempt == t.retry.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w", operation, ctx.Err())
		}

		slog.Debug("provider call failed, retrying", "operation", operation,
			"attempt", attempt+1, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * t.retry.BackoffMultiplier)
			if backoff > t.retry.MaxBackoff {
				backoff = t.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s failed during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, t.retry.MaxRetries+1, lastErr)
}

// isRetriableError reports whether an error is transient. Rate limits,
// server errors, and timeouts are retriable; everything else fails fast.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	errStr := err.Error()
	for _, marker := range []string{"429", "rate limit", "500", "502", "503", "504", "overloaded", "timeout", "connection refused", "connection reset", "EOF"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

package uploader

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Timeout: 30 * time.Second, Backoff: 500 * time.Millisecond}
}

// permanentError marks a failure that another attempt cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so WithRetry gives up on it immediately. The message
// is unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type retrying struct {
	next   Uploader
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry bounds every attempt by policy.Timeout and retries failures up to
// policy.Attempts times, waiting Backoff×attempt in between. Errors marked
// Permanent are returned without another attempt.
func WithRetry(next Uploader, policy RetryPolicy, logger *slog.Logger) Uploader {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{next: next, policy: policy, logger: logger}
}

func (r *retrying) Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		url, err := r.attempt(ctx, objectName, data, contentType)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", err
		}
		if IsPermanent(err) {
			r.logger.Warn("upload rejected", "object", objectName, "attempt", attempt, "err", err)
			return "", err
		}
		r.logger.Warn("upload attempt failed", "object", objectName, "attempt", attempt, "err", err)
		if attempt == r.policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.policy.Backoff * time.Duration(attempt)):
		}
	}
	return "", lastErr
}

func (r *retrying) attempt(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	if r.policy.Timeout <= 0 {
		return r.next.Upload(ctx, objectName, data, contentType)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	return r.next.Upload(attemptCtx, objectName, data, contentType)
}

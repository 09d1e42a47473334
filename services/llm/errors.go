// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Sentinel error classes for model calls. Callers match with errors.Is.
var (
	// ErrAuth is fatal: a bad key never heals by retrying.
	ErrAuth = errors.New("llm: authentication failed")

	ErrRateLimited       = errors.New("llm: rate limited")
	ErrTimeout           = errors.New("llm: request timed out")
	ErrNetwork           = errors.New("llm: network failure")
	ErrServerUnavailable = errors.New("llm: server error")
	ErrMalformedResponse = errors.New("llm: malformed response")
)

// ErrorClass buckets a classified error for retry decisions.
type ErrorClass int

const (
	// ClassFatal errors must not be retried (auth failures).
	ClassFatal ErrorClass = iota

	// ClassRetryable errors may succeed on a later attempt.
	ClassRetryable

	// ClassMalformed errors came back 200 but unparseable; the caller
	// decides whether to re-prompt.
	ClassMalformed

	// ClassUnknown is everything else; treated as non-retryable.
	ClassUnknown
)

// httpStatusError carries the status code through the error chain so
// classification does not depend on message text alone.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm: API returned status %d: %s", e.status, e.body)
}

func (e *httpStatusError) Unwrap() error {
	switch {
	case e.status == 401 || e.status == 403:
		return ErrAuth
	case e.status == 429:
		return ErrRateLimited
	case e.status >= 500:
		return ErrServerUnavailable
	default:
		return nil
	}
}

// ClassifyError buckets an error from a model call.
//
// Description:
//
//	Sentinels attached by the client win outright. For foreign errors
//	(transport failures, context deadlines) the net error interfaces and
//	message keywords decide. Unknown errors are not retried.
func ClassifyError(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrAuth):
		return ClassFatal
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNetwork),
		errors.Is(err, ErrServerUnavailable):
		return ClassRetryable
	case errors.Is(err, ErrMalformedResponse):
		return ClassMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return ClassRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return ClassFatal
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ClassRetryable
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ClassRetryable
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return ClassRetryable
	}
	return ClassUnknown
}

// RetryConfig controls the exponential backoff schedule.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig matches production behavior: 3 retries, 1s initial
// delay, doubling, capped at 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Base:         2.0,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn with exponential backoff.
//
// Description:
//
//	Retries only errors ClassifyError deems retryable; fatal, malformed,
//	and unknown errors return immediately. The final attempt's error is
//	returned when the budget runs out.
//
// Inputs:
//   - ctx: Bounds both the attempts and the backoff sleeps.
//   - cfg: Schedule; zero-value fields fall back to defaults.
//   - fn: The model call.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.sleep == nil {
		cfg.sleep = sleepCtx
	}
	if cfg.Base <= 1 {
		cfg.Base = 2.0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		class := ClassifyError(err)
		if class != ClassRetryable {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			slog.Error("model call failed after retries",
				"attempts", cfg.MaxRetries+1,
				"error", SafeLogString(err.Error()),
			)
			return zero, err
		}

		wait := delay
		if wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		slog.Warn("model call failed, retrying",
			"attempt", attempt+1,
			"wait", wait,
			"error", SafeLogString(err.Error()),
		)
		if err := cfg.sleep(ctx, wait); err != nil {
			return zero, err
		}
		delay = time.Duration(float64(delay) * cfg.Base)
	}

	return zero, lastErr
}

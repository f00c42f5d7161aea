package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledger_operator/internal/repository"

	"github.com/cenkalti/backoff/v5"
)

var (
	// ErrConfigurationMismatch means the stored state belongs to a different contract.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	// ErrCollaboratorUnavailable wraps chain, channel and store failures that survived retries.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrNotRunning              = errors.New("operator is not running")
	ErrStopped                 = errors.New("operator stopped")
)

type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("operator startup failed: %v", e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

type retryPolicy struct {
	maxTries        uint
	initialInterval time.Duration
	log             *slog.Logger
}

func isPermanent(err error) bool {
	return errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, ErrConfigurationMismatch) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retry runs op with exponential backoff. A zero maxTries retries until ctx is done.
func retry[T any](ctx context.Context, policy retryPolicy, what string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if policy.initialInterval > 0 {
		b.InitialInterval = policy.initialInterval
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			policy.log.Warn("collaborator call failed, retrying", "op", what, "error", err, "retry_in", next)
		}),
	}
	if policy.maxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(policy.maxTries))
	} else {
		opts = append(opts, backoff.WithMaxElapsedTime(0))
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && isPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

func unavailable(what string, err error) error {
	if isPermanent(err) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrCollaboratorUnavailable, what, err)
}

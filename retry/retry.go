// Package retry runs an operation again after transient failures, with
// capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded retry schedule. The zero value never retries.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	BackoffMax time.Duration

	// OnRetry is called before every retry
	OnRetry func(err error, wait time.Duration)
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls op until it succeeds, returns a Permanent error, the retry budget
// is spent, or ctx is done. The returned error is the last one op produced.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var lastErr error
	operation := func() error {
		err := op()
		lastErr = err
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(perm.err)
		}
		return err
	}

	err := backoff.RetryNotify(operation, p.schedule(ctx), func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(err, wait)
		}
	})
	if err == nil {
		return nil
	}

	// context errors from the backoff wrapper hide the real failure
	if ctx.Err() != nil && lastErr != nil {
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		return lastErr
	}
	return err
}

func (p Policy) schedule(ctx context.Context) backoff.BackOffContext {
	base := p.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.RandomizationFactor = 0.2
	exp.Multiplier = 2
	exp.MaxInterval = p.BackoffMax
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = base * 8
	}
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Logf is an OnRetry hook that writes to the standard logger.
func Logf(prefix string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		log.Printf("%s: retrying in %s: %v", prefix, wait.Round(time.Millisecond), err)
	}
}

// Package retry runs fallible remote calls with a bounded number of
// sequential attempts and an exponentially growing pause between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krishkalaria12/snap-edit/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
)

// Executor retries an operation up to MaxAttempts times. The pause before
// attempt n+1 is InitialDelay * 2^(n-1).
type Executor struct {
	MaxAttempts  int
	InitialDelay time.Duration

	// wait blocks for d or until ctx is done. Replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// New returns an Executor, substituting defaults for non-positive values.
func New(maxAttempts int, initialDelay time.Duration) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialDelay < 0 {
		initialDelay = DefaultInitialDelay
	}
	return &Executor{MaxAttempts: maxAttempts, InitialDelay: initialDelay}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed. Last error: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type stopError struct{ err error }

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop marks err as permanent. Do returns the wrapped error immediately
// without making further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do runs op until it succeeds, returns a Stop error, the context ends, or
// MaxAttempts is reached.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := e.InitialDelay
	wait := e.wait
	if wait == nil {
		wait = sleep
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(name, "success").Inc()
			return nil
		}

		var stop *stopError
		if errors.As(err, &stop) {
			metrics.RetryAttempts.WithLabelValues(name, "permanent").Inc()
			log.WithError(stop.err).WithField("operation", name).Warn("Attempt failed permanently, not retrying")
			return stop.err
		}

		metrics.RetryAttempts.WithLabelValues(name, "failure").Inc()
		log.WithError(err).WithFields(log.Fields{
			"operation": name,
			"attempt":   attempt,
			"of":        attempts,
		}).Warn("Attempt failed")
		last = err

		if attempt == attempts {
			break
		}
		log.WithField("operation", name).Debugf("Retrying in %s", delay)
		if werr := wait(ctx, delay); werr != nil {
			return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, errors.Join(werr, last))
		}
		delay *= 2
	}

	return &ExhaustedError{Attempts: attempts, Last: last}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package settlement waits for asynchronous operations to reach a final state.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Relay defaults: one status check per second for a bit over ten minutes.
const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 640
)

var ErrTimeout = errors.New("settlement: gave up waiting")

// Check reports whether the awaited condition holds. Errors wrapped with
// Permanent stop polling; any other error is retried.
type Check func(ctx context.Context) (bool, error)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Poller evaluates a Check at a fixed interval.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	// OnRetry, if set, observes transient failures.
	OnRetry func(attempt int, err error)
}

func Default() Poller {
	return Poller{Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts}
}

// Until runs check until it returns true. The first evaluation is immediate.
func (p Poller) Until(ctx context.Context, check Check) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		done, err := check(ctx)
		switch {
		case err != nil && IsPermanent(err):
			return errors.Unwrap(err)
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			last = err
			if p.OnRetry != nil {
				p.OnRetry(attempt, err)
			}
		case done:
			return nil
		}
		timer.Reset(interval)
	}
	if last != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrTimeout, attempts, last)
	}
	return fmt.Errorf("%w after %d attempts", ErrTimeout, attempts)
}

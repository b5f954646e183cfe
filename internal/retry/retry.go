package retry

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// Backoff retries a single call with a delay multiplied by Factor after every failure.
type Backoff struct {
	Retries      int
	InitialDelay time.Duration
	Factor       float64
	// OnFailure is called after every failed attempt, before waiting.
	OnFailure func(attempt int, err error)
}

// Fixed retries a whole pipeline stage with the same delay between attempts.
type Fixed struct {
	Retries int
	Delay   time.Duration
}

// StageError is returned when a stage ran out of attempts or failed permanently.
type StageError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed after %d attempts: %s", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
func (e *StageError) Cause() error  { return e.Err }

type permanent struct {
	err error
}

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }
func (p *permanent) Cause() error  { return p.err }

// Permanent marks err as not worth retrying: both policies give up on it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

func IsPermanent(err error) bool {
	_, ok := err.(*permanent)
	return ok
}

// Call runs fn up to b.Retries times, waiting b.InitialDelay, then b.InitialDelay*b.Factor
// and so on between attempts. The last error is returned tagged with what.
func Call[T any](ctx context.Context, log *logan.Entry, what string, b Backoff, fn func(ctx context.Context) (T, error)) (T, error) {
	retries := atLeastOne(b.Retries)
	delay := b.InitialDelay
	log = log.WithField("call", what)

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if b.OnFailure != nil {
			b.OnFailure(attempt, err)
		}
		if IsPermanent(err) || attempt == retries {
			log.WithError(err).WithField("attempts", attempt).Error("all attempts failed")
			wrapped := errors.Wrap(err, what, logan.F{"attempts": attempt})
			if IsPermanent(err) {
				return zero, Permanent(wrapped)
			}
			return zero, wrapped
		}

		log.WithError(err).WithFields(logan.F{
			"attempt": attempt,
			"retries": retries,
			"delay":   delay.String(),
		}).Warn("attempt failed, waiting before the next one")
		if err := sleep(ctx, delay); err != nil {
			return zero, errors.Wrap(err, what)
		}
		delay = time.Duration(float64(delay) * factor(b.Factor))
	}
}

// Stage runs a whole pipeline stage, retrying it as a unit on failure. Exhausting
// the attempts yields a *StageError, which is fatal for the enclosing run.
func Stage[T any](ctx context.Context, log *logan.Entry, stage string, f Fixed, fn func(ctx context.Context) (T, error)) (T, error) {
	retries := atLeastOne(f.Retries)
	log = log.WithField("stage", stage)

	var zero T
	for attempt := 1; ; attempt++ {
		log.WithField("attempt", attempt).Info("starting stage")
		result, err := fn(ctx)
		if err == nil {
			log.WithField("attempt", attempt).Info("stage completed")
			return result, nil
		}

		if IsPermanent(err) || attempt == retries {
			log.WithError(err).WithField("attempts", attempt).Error("stage failed")
			return zero, &StageError{Stage: stage, Attempts: attempt, Err: err}
		}

		log.WithError(err).WithFields(logan.F{
			"attempt": attempt,
			"retries": retries,
			"delay":   f.Delay.String(),
		}).Warn("stage attempt failed, waiting before retrying")
		if err := sleep(ctx, f.Delay); err != nil {
			return zero, &StageError{Stage: stage, Attempts: attempt, Err: err}
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func factor(f float64) float64 {
	if f < 1 {
		return 1
	}
	return f
}

// Package retry reruns fallible filesystem and store operations on a
// fixed or exponential schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config describes the retry schedule
type Config struct {
	MaxRetries     int           // retries after the first attempt
	InitialBackoff time.Duration // pause before the first retry
	MaxBackoff     time.Duration // cap on the pause, 0 means uncapped
	Multiplier     float64       // growth of the pause per retry
}

// DefaultConfig is three retries starting at one second, doubling up to 30s
func DefaultConfig() Config {
	return Config{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, Multiplier: 2}
}

// Fixed makes attempts tries in total with a constant pause between them
func Fixed(attempts int, pause time.Duration) Config {
	return Config{MaxRetries: max(attempts, 1) - 1, InitialBackoff: pause, MaxBackoff: pause, Multiplier: 1}
}

func (c Config) next(d time.Duration) time.Duration {
	if c.Multiplier > 1 {
		d = time.Duration(float64(d) * c.Multiplier)
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

type permanent struct{ error }

func (p permanent) Unwrap() error { return p.error }

// Permanent stops the loop. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

// Do runs fn until it succeeds, fails permanently or the schedule runs out
func Do(ctx context.Context, config Config, fn func() error) error {
	return DoNotify(ctx, config, fn, nil)
}

// DoNotify is Do with a hook called before each pause
func DoNotify(ctx context.Context, config Config, fn func() error, notify func(attempt int, err error, next time.Duration)) error {
	pause := config.InitialBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
		if err = fn(); err == nil {
			return nil
		}
		var p permanent
		if errors.As(err, &p) {
			return p.error
		}
		if attempt > config.MaxRetries {
			return fmt.Errorf("gave up after %d attempt(s): %w", attempt, err)
		}
		if notify != nil {
			notify(attempt, err, pause)
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		pause = config.next(pause)
	}
}

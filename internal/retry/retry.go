// Package retry wraps fallible operations with exponential backoff.
//
// The default policy retries every error, forever, with a delay of
// min(Initial * Factor^attempt, Max). Errors are not classified: a
// misconfigured source or index keeps the caller spinning on the same
// operation until the process is stopped. MaxAttempts bounds the loop for
// callers that need to give up.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy executes an operation until it succeeds or the policy gives up.
type Policy interface {
	Do(ctx context.Context, name string, op func(ctx context.Context) error) error
}

// Config holds backoff parameters
type Config struct {
	// Initial is the base delay multiplied by Factor^attempt
	Initial time.Duration

	// Factor is the growth rate between attempts
	Factor float64

	// Max caps every delay
	Max time.Duration

	// MaxAttempts bounds the number of calls; 0 retries forever
	MaxAttempts int
}

// DefaultConfig returns the retry-forever policy: 0.1s, x2, capped at 10s.
func DefaultConfig() Config {
	return Config{
		Initial: 100 * time.Millisecond,
		Factor:  2,
		Max:     10 * time.Second,
	}
}

// Backoff implements Policy with exponential delays.
type Backoff struct {
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customizes a Backoff
type Option func(*Backoff)

// WithLogger sets the logger used for failure reports.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backoff) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSleep replaces the wait between attempts (tests use it to avoid real sleeps).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Backoff) {
		if sleep != nil {
			b.sleep = sleep
		}
	}
}

// NewBackoff creates a backoff policy. Non-positive parameters fall back to DefaultConfig.
func NewBackoff(cfg Config, opts ...Option) *Backoff {
	def := DefaultConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Factor <= 0 {
		cfg.Factor = def.Factor
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}

	b := &Backoff{
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// exponential builds the deterministic delay sequence: the first delay is
// Initial*Factor, every later one grows by Factor until it reaches Max.
func (b *Backoff) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(float64(b.cfg.Initial) * b.cfg.Factor)
	eb.Multiplier = b.cfg.Factor
	eb.MaxInterval = b.cfg.Max
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if eb.InitialInterval <= 0 || eb.InitialInterval > eb.MaxInterval {
		eb.InitialInterval = eb.MaxInterval
	}
	eb.Reset()
	return eb
}

// schedule returns a fresh delay sequence for one Do call.
func (b *Backoff) schedule() backoff.BackOff {
	eb := b.exponential()
	if b.cfg.MaxAttempts > 0 {
		return backoff.WithMaxRetries(eb, uint64(b.cfg.MaxAttempts-1))
	}
	return eb
}

// Delay returns the pause after the n-th consecutive failure (n starts at 1).
func (b *Backoff) Delay(n int) time.Duration {
	eb := b.exponential()
	d := eb.InitialInterval
	for i := 0; i < n; i++ {
		d = eb.NextBackOff()
		if d == eb.MaxInterval {
			break
		}
	}
	return d
}

// Do runs op until it returns nil. Each failure is logged with the delay
// before the next attempt. The context only interrupts the wait; it is the
// shutdown signal, not a retry budget.
func (b *Backoff) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	b.logger.Debug("executing operation", "operation", name)

	delays := b.schedule()
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.logger.Warn("operation failed", "operation", name, "attempt", attempt, "error", err)

		delay := delays.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, err)
		}

		b.logger.Debug("retrying after pause", "operation", name, "delay", delay)
		if err := b.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Value runs op under policy and returns its result.
func Value[T any](ctx context.Context, policy Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := policy.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

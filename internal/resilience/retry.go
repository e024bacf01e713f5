package resilience

import (
	"context"
	"time"
)

// Backoff constants.
const (
	// DefaultInitialDelay is the first sleep when Options.InitialDelay is zero.
	DefaultInitialDelay = time.Second

	// MaxDelay is the hard ceiling on any single sleep.
	MaxDelay = 60 * time.Second

	// multiplier grows the delay after every failed attempt.
	multiplier = 1.5
)

// Logger is the logging surface ConnectWithRetry needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configures one retry sequence.
type Options struct {
	// Name identifies the link in log lines (e.g. "brickd", "mqtt").
	Name string

	// MaxRetries bounds the number of retries after the first attempt.
	// nil retries forever.
	MaxRetries *int

	// InitialDelay is the sleep after the first failure. Default: 1s.
	InitialDelay time.Duration

	// Logger is optional.
	Logger Logger

	// OnFailure is called after every failed attempt with the 1-based
	// attempt number. Optional; used for metrics.
	OnFailure func(attempt int, err error)

	// sleep replaces Sleep in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Retries returns a pointer suitable for Options.MaxRetries.
func Retries(n int) *int {
	return &n
}

// Backoff is the retry state of one connection attempt sequence.
// It is created per sequence and discarded on success or final failure.
type Backoff struct {
	attempt int
	delay   time.Duration
}

// NewBackoff starts a sequence at initial (DefaultInitialDelay if zero).
func NewBackoff(initial time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	return &Backoff{delay: initial}
}

// Attempt returns the number of failures recorded so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Delay returns the sleep that applies to the next retry.
func (b *Backoff) Delay() time.Duration {
	return b.delay
}

// Fail records a failed attempt and returns the delay to sleep before the
// next one. The stored delay then grows for the following failure.
func (b *Backoff) Fail() time.Duration {
	b.attempt++
	d := b.delay
	b.delay = NextDelay(b.delay)
	return d
}

// NextDelay applies the growth rule min(d*1.5, MaxDelay).
func NextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * multiplier)
	if next > MaxDelay || next < 0 {
		return MaxDelay
	}
	return next
}

// Delays returns the first n sleeps of a sequence starting at initial.
// The k-th element (0-based) equals min(initial*1.5^k, MaxDelay).
func Delays(initial time.Duration, n int) []time.Duration {
	b := NewBackoff(initial)
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.Fail())
	}
	return out
}

// ConnectWithRetry calls attempt until it succeeds.
//
// Returns:
//   - true, nil when an attempt succeeded
//   - false, nil when MaxRetries was set and all MaxRetries+1 attempts failed
//     with transient errors
//   - false, err when attempt returned a non-transient error (not retried)
//     or ctx was cancelled
func ConnectWithRetry(ctx context.Context, attempt func(ctx context.Context) error, opts Options) (bool, error) {
	sleep := opts.sleep
	if sleep == nil {
		sleep = Sleep
	}
	b := NewBackoff(opts.InitialDelay)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		opts.info("connecting", "link", opts.Name, "attempt", b.Attempt()+1)
		err := attempt(ctx)
		if err == nil {
			opts.info("connected", "link", opts.Name, "attempts", b.Attempt()+1)
			return true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if !IsTransient(err) {
			return false, err
		}

		delay := b.Fail()
		if opts.OnFailure != nil {
			opts.OnFailure(b.Attempt(), err)
		}

		if opts.MaxRetries != nil && b.Attempt() > *opts.MaxRetries {
			opts.warn("giving up",
				"link", opts.Name,
				"attempts", b.Attempt(),
				"error", err)
			return false, nil
		}

		opts.warn("connection failed, retrying",
			"link", opts.Name,
			"attempt", b.Attempt(),
			"retry_in", delay.String(),
			"error", err)

		if err := sleep(ctx, delay); err != nil {
			return false, err
		}
	}
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
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

func (o Options) info(msg string, args ...any) {
	if o.Logger != nil {
		o.Logger.Info(msg, args...)
	}
}

func (o Options) warn(msg string, args ...any) {
	if o.Logger != nil {
		o.Logger.Warn(msg, args...)
	}
}

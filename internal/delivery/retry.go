package delivery

import (
	"context"
	"time"
)

// Backoff is an exponential retry policy.
type Backoff struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration // zero means no cap
}

// Delay returns the wait before the given retry (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	d := b.Initial
	for i := 1; i < retry; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	return d
}

// sleep waits for d or until ctx is done.
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

// Do calls fn until it succeeds, returns an error for which transient is
// false, or the attempts run out. A retry-after hint carried by a *Failure
// replaces the computed delay when it is longer. It returns the number of
// attempts made and the last error.
func (b Backoff) Do(ctx context.Context, transient func(error) bool, fn func(ctx context.Context) error) (int, error) {
	attempts := max(b.MaxAttempts, 1)
	var err error
	for n := 1; ; n++ {
		if err = fn(ctx); err == nil {
			return n, nil
		}
		if n >= attempts || !transient(err) || ctx.Err() != nil {
			return n, err
		}
		wait := b.Delay(n)
		if ra := retryAfter(err); ra > wait {
			wait = ra
		}
		if serr := sleep(ctx, wait); serr != nil {
			return n, err
		}
	}
}

// SendWithRetry delivers text through sink, bounding each attempt by timeout.
func SendWithRetry(ctx context.Context, sink Sink, b Backoff, timeout time.Duration, userID int64, text string) (int, error) {
	return b.Do(ctx, IsTransient, func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return sink.Send(ctx, userID, text)
	})
}
